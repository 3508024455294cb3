// Package compose builds the HTML that goes into a draft and puts it there
// through whatever insertion mechanism the host offers.
package compose

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/nhle/mailpane/internal/workspace"
)

// Sentinel comments around content inserted by this package.
const (
	MarkerStart = "<!--mailpane:start-->"
	MarkerEnd   = "<!--mailpane:end-->"
)

// DefaultSignatureWidth bounds signature images when no width is set.
const DefaultSignatureWidth = 320

// SignatureMode selects how the signature block is rendered.
type SignatureMode string

const (
	SignatureOff   SignatureMode = "off"
	SignatureText  SignatureMode = "text"
	SignatureHTML  SignatureMode = "html"
	SignatureImage SignatureMode = "image"
)

// Signature configures the block appended after generated content. For the
// image mode a local upload (ImageData) wins over ImageURL.
type Signature struct {
	Mode       SignatureMode
	Text       string
	HTML       string
	ImageURL   string
	ImageData  []byte
	MaxWidthPx int
}

// BuildFinalHTML renders slot followed by the signature block. The slot's
// HTML is used as-is; without it the text is escaped into a <pre>.
func BuildFinalHTML(slot workspace.SlotResult, sig Signature) string {
	var sb strings.Builder

	switch {
	case strings.TrimSpace(slot.HTML) != "":
		sb.WriteString(slot.HTML)
	case strings.TrimSpace(slot.Text) != "":
		sb.WriteString(`<pre style="white-space:pre-wrap;font-family:inherit">`)
		sb.WriteString(html.EscapeString(slot.Text))
		sb.WriteString("</pre>")
	}

	if block := signatureBlock(sig); block != "" {
		sb.WriteString(`<div class="mailpane-signature">`)
		sb.WriteString(block)
		sb.WriteString("</div>")
	}
	return sb.String()
}

func signatureBlock(sig Signature) string {
	switch sig.Mode {
	case SignatureText:
		t := strings.TrimSpace(sig.Text)
		if t == "" {
			return ""
		}
		return strings.ReplaceAll(html.EscapeString(t), "\n", "<br>")
	case SignatureHTML:
		return strings.TrimSpace(sig.HTML)
	case SignatureImage:
		src := imageSource(sig)
		if src == "" {
			return ""
		}
		width := sig.MaxWidthPx
		if width <= 0 {
			width = DefaultSignatureWidth
		}
		return fmt.Sprintf(`<img src="%s" alt="signature" style="max-width:%dpx;height:auto">`,
			html.EscapeString(src), width)
	}
	return ""
}

func imageSource(sig Signature) string {
	if len(sig.ImageData) > 0 {
		mime := http.DetectContentType(sig.ImageData)
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(sig.ImageData)
	}
	return strings.TrimSpace(sig.ImageURL)
}

// WrapWithMarker encloses content in the sentinel comments.
func WrapWithMarker(content string) string {
	return MarkerStart + content + MarkerEnd
}

// ReplaceMarked replaces the first marked block in body with content
// (re-wrapped) and drops any further marked blocks. It reports false when
// body holds no complete marked block.
func ReplaceMarked(body, content string) (string, bool) {
	start := strings.Index(body, MarkerStart)
	if start < 0 {
		return body, false
	}
	end := strings.Index(body[start:], MarkerEnd)
	if end < 0 {
		return body, false
	}
	end += start + len(MarkerEnd)

	rest := body[end:]
	for {
		s := strings.Index(rest, MarkerStart)
		if s < 0 {
			break
		}
		e := strings.Index(rest[s:], MarkerEnd)
		if e < 0 {
			break
		}
		rest = rest[:s] + rest[s+e+len(MarkerEnd):]
	}

	return body[:start] + WrapWithMarker(content) + rest, true
}
