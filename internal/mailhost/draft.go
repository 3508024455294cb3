package mailhost

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailpane/internal/identity"
)

type draftKind int

const (
	draftNew draftKind = iota
	draftReply
	draftForward
)

// buildDraft renders req as an RFC 5322 message. Replies carry threading
// headers for cur; a structured forward may attach cur's raw message.
// A body-only request keeps just the subject and body.
func buildDraft(kind draftKind, req FormRequest, cur *item, self string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(draftSubject(kind, req.Subject, cur))

	if self != "" {
		h.SetAddressList("From", []*mail.Address{{Address: self}})
	}

	if req.Shape == ShapeStructured {
		if len(req.To) > 0 {
			h.SetAddressList("To", toMailAddresses(req.To))
		}
		if len(req.Cc) > 0 {
			h.SetAddressList("Cc", toMailAddresses(req.Cc))
		}
		if len(req.Bcc) > 0 {
			h.SetAddressList("Bcc", toMailAddresses(req.Bcc))
		}
	}

	if kind == draftReply && cur != nil && cur.meta.MessageID != "" {
		h.SetMsgIDList("In-Reply-To", []string{cur.meta.MessageID})
		h.SetMsgIDList("References", append(append([]string(nil), cur.references...), cur.meta.MessageID))
	}

	attach := kind == draftForward && req.Shape == ShapeStructured && req.AttachOriginal &&
		cur != nil && len(cur.raw) > 0

	var buf bytes.Buffer
	if !attach {
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("creating draft writer: %w", err)
		}
		if _, err := io.WriteString(w, req.HTMLBody); err != nil {
			return nil, fmt.Errorf("writing draft body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing draft body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating draft writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	iw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, fmt.Errorf("creating draft body part: %w", err)
	}
	if _, err := io.WriteString(iw, req.HTMLBody); err != nil {
		return nil, fmt.Errorf("writing draft body: %w", err)
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("closing draft body: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("message/rfc822", nil)
	ah.SetFilename(attachmentName(cur.meta.Subject))
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("creating attachment part: %w", err)
	}
	if _, err := aw.Write(cur.raw); err != nil {
		return nil, fmt.Errorf("writing attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("closing attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing draft: %w", err)
	}
	return buf.Bytes(), nil
}

func draftSubject(kind draftKind, subject string, cur *item) string {
	if subject == "" && cur != nil {
		subject = cur.meta.Subject
	}
	lower := strings.ToLower(subject)
	switch kind {
	case draftReply:
		if !strings.HasPrefix(lower, "re:") {
			return "Re: " + subject
		}
	case draftForward:
		if !strings.HasPrefix(lower, "fw:") && !strings.HasPrefix(lower, "fwd:") {
			return "Fwd: " + subject
		}
	}
	return subject
}

func attachmentName(subject string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(subject))
	if name == "" {
		name = "original"
	}
	return name + ".eml"
}

func toMailAddresses(in []identity.Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(in))
	for _, a := range in {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}
