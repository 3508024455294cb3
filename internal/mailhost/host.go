// Package mailhost defines the narrow mail-client surface the core uses and
// an IMAP-backed implementation of it.
package mailhost

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailpane/internal/identity"
)

var (
	// ErrUnsupported means the host lacks a capability at runtime.
	ErrUnsupported = errors.New("host capability unavailable")

	// ErrRejected means the host refused a call with the given shape.
	ErrRejected = errors.New("host rejected request")

	// ErrNoItem means no item is currently selected.
	ErrNoItem = errors.New("no item selected")
)

// AuthError indicates that authentication against the mail server failed.
type AuthError struct {
	Host    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Host, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Host reads the item currently on screen. Both methods are best-effort:
// metadata may be partial and body text may be empty.
type Host interface {
	Metadata(ctx context.Context) (identity.Metadata, error)
	BodyText(ctx context.Context) (string, error)
}

// The interfaces below are optional capabilities. Callers check for them
// with a type assertion; a host that lacks one simply does not implement it.

// DraftBody reads and writes the HTML body of the draft being composed.
type DraftBody interface {
	BodyHTML(ctx context.Context) (string, error)
	SetBodyHTML(ctx context.Context, html string) error
}

// CursorInserter inserts HTML at the cursor or over the selection.
type CursorInserter interface {
	InsertAtCursor(ctx context.Context, html string) error
}

// BodyPrepender inserts HTML at the start of the draft body.
type BodyPrepender interface {
	PrependBody(ctx context.Context, html string) error
}

// BodyAppender inserts HTML at the end of the draft body.
type BodyAppender interface {
	AppendBody(ctx context.Context, html string) error
}

// FormShape selects how a compose request is handed to the host.
type FormShape int

const (
	// ShapeStructured passes recipients, subject, body and attachments.
	ShapeStructured FormShape = iota

	// ShapeBodyOnly passes only the HTML body.
	ShapeBodyOnly
)

func (s FormShape) String() string {
	if s == ShapeBodyOnly {
		return "body-only"
	}
	return "structured"
}

// FormRequest describes a compose form to open.
type FormRequest struct {
	Shape          FormShape
	To             []identity.Address
	Cc             []identity.Address
	Bcc            []identity.Address
	Subject        string
	HTMLBody       string
	AttachOriginal bool
}

// FormOpener opens compose forms. Hosts reject shapes they do not accept
// with ErrRejected.
type FormOpener interface {
	OpenReplyForm(ctx context.Context, req FormRequest) error
	OpenForwardForm(ctx context.Context, req FormRequest) error
	OpenNewMessageForm(ctx context.Context, req FormRequest) error
}
