package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/mailhost"
)

// FormCall records one compose form the fake host was asked to open.
type FormCall struct {
	Kind string
	Req  mailhost.FormRequest
}

// FakeHost is an in-memory mail host implementing every optional
// capability. Individual capabilities can be disabled through Unsupported
// (keyed by "body", "cursor", "prepend", "append", "forms") and the
// structured compose shape can be rejected with RejectStructured.
type FakeHost struct {
	mu sync.Mutex

	Meta    identity.Metadata
	Body    string
	Draft   string
	Cursor  int
	MetaErr error

	Unsupported      map[string]bool
	RejectStructured bool
	RejectAll        bool
	Forms            []FormCall
}

// NewFakeHost returns a host showing meta with the given body text.
func NewFakeHost(meta identity.Metadata, body string) *FakeHost {
	return &FakeHost{Meta: meta, Body: body, Unsupported: make(map[string]bool)}
}

// Show replaces the item on screen.
func (f *FakeHost) Show(meta identity.Metadata, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Meta = meta
	f.Body = body
}

// Disable marks a capability unavailable.
func (f *FakeHost) Disable(capability string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unsupported[capability] = true
}

// DraftHTML returns the current draft body.
func (f *FakeHost) DraftHTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Draft
}

// Calls returns the forms opened so far.
func (f *FakeHost) Calls() []FormCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FormCall(nil), f.Forms...)
}

func (f *FakeHost) Metadata(context.Context) (identity.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MetaErr != nil {
		return identity.Metadata{}, f.MetaErr
	}
	return f.Meta, nil
}

func (f *FakeHost) BodyText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Body, nil
}

func (f *FakeHost) BodyHTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["body"] {
		return "", mailhost.ErrUnsupported
	}
	return f.Draft, nil
}

func (f *FakeHost) SetBodyHTML(_ context.Context, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["body"] {
		return mailhost.ErrUnsupported
	}
	f.Draft = html
	f.Cursor = len(html)
	return nil
}

func (f *FakeHost) InsertAtCursor(_ context.Context, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["cursor"] {
		return mailhost.ErrUnsupported
	}
	at := min(max(f.Cursor, 0), len(f.Draft))
	f.Draft = f.Draft[:at] + html + f.Draft[at:]
	f.Cursor = at + len(html)
	return nil
}

func (f *FakeHost) PrependBody(_ context.Context, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["prepend"] {
		return mailhost.ErrUnsupported
	}
	f.Draft = html + f.Draft
	return nil
}

func (f *FakeHost) AppendBody(_ context.Context, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["append"] {
		return mailhost.ErrUnsupported
	}
	f.Draft += html
	return nil
}

func (f *FakeHost) OpenReplyForm(_ context.Context, req mailhost.FormRequest) error {
	return f.open("reply", req)
}

func (f *FakeHost) OpenForwardForm(_ context.Context, req mailhost.FormRequest) error {
	return f.open("forward", req)
}

func (f *FakeHost) OpenNewMessageForm(_ context.Context, req mailhost.FormRequest) error {
	return f.open("new", req)
}

func (f *FakeHost) open(kind string, req mailhost.FormRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unsupported["forms"] {
		return mailhost.ErrUnsupported
	}
	if f.RejectAll || (f.RejectStructured && req.Shape == mailhost.ShapeStructured) {
		return mailhost.ErrRejected
	}
	f.Forms = append(f.Forms, FormCall{Kind: kind, Req: req})
	if strings.TrimSpace(req.HTMLBody) != "" {
		f.Draft = req.HTMLBody
	}
	return nil
}
