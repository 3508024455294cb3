package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/mailhost"
	"github.com/nhle/mailpane/internal/recipients"
)

// ErrInsertFailed is returned when every insertion route failed.
var ErrInsertFailed = errors.New("could not insert into draft")

// Method names the route that placed content into the draft.
type Method string

const (
	MethodReplaceMarked Method = "replaced-previous"
	MethodCursor        Method = "inserted-at-cursor"
	MethodPrepend       Method = "prepended"
	MethodAppend        Method = "appended"
	MethodReplaceAll    Method = "replaced-body"
)

// Notice is the user-facing message for a successful insertion.
func (m Method) Notice() string {
	switch m {
	case MethodReplaceMarked:
		return "Replaced the previously inserted text."
	case MethodCursor:
		return "Inserted at the cursor."
	case MethodPrepend:
		return "Added at the top of the draft."
	case MethodAppend:
		return "Added at the end of the draft."
	case MethodReplaceAll:
		return "Replaced the whole draft body."
	}
	return string(m)
}

// FormKind selects which compose form Open asks for.
type FormKind string

const (
	FormNew     FormKind = "new"
	FormReply   FormKind = "reply"
	FormForward FormKind = "forward"
)

// Inserter places generated HTML into the host's draft.
type Inserter struct {
	host mailhost.Host
	log  zerolog.Logger
}

// NewInserter creates an inserter for host.
func NewInserter(host mailhost.Host) *Inserter {
	return &Inserter{host: host, log: logging.Component("compose")}
}

type route struct {
	method Method
	try    func(ctx context.Context, marked string) error
}

// Insert wraps content in the marker block and tries, in order: replacing a
// previously inserted block, inserting at the cursor, prepending,
// appending, and finally replacing the whole body. The first route that
// succeeds wins.
func (in *Inserter) Insert(ctx context.Context, content string) (Method, error) {
	marked := WrapWithMarker(content)
	draft, hasDraft := in.host.(mailhost.DraftBody)

	var routes []route
	if hasDraft {
		routes = append(routes, route{MethodReplaceMarked, func(ctx context.Context, _ string) error {
			body, err := draft.BodyHTML(ctx)
			if err != nil {
				return err
			}
			replaced, ok := ReplaceMarked(body, content)
			if !ok {
				return mailhost.ErrUnsupported
			}
			return draft.SetBodyHTML(ctx, replaced)
		}})
	}
	if c, ok := in.host.(mailhost.CursorInserter); ok {
		routes = append(routes, route{MethodCursor, c.InsertAtCursor})
	}
	if p, ok := in.host.(mailhost.BodyPrepender); ok {
		routes = append(routes, route{MethodPrepend, p.PrependBody})
	}
	if a, ok := in.host.(mailhost.BodyAppender); ok {
		routes = append(routes, route{MethodAppend, a.AppendBody})
	}
	if hasDraft {
		routes = append(routes, route{MethodReplaceAll, draft.SetBodyHTML})
	}

	var errs []error
	for _, r := range routes {
		err := r.try(ctx, marked)
		if err == nil {
			in.log.Debug().Str("method", string(r.method)).Msg("inserted into draft")
			return r.method, nil
		}
		in.log.Debug().Err(err).Str("method", string(r.method)).Msg("insert route failed")
		errs = append(errs, fmt.Errorf("%s: %w", r.method, err))
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %w", ErrInsertFailed, mailhost.ErrUnsupported)
	}
	return "", fmt.Errorf("%w: %w", ErrInsertFailed, errors.Join(errs...))
}

// NewFormRequest builds a structured compose request from grouped
// recipients.
func NewFormRequest(g recipients.Grouped, subject, htmlBody string, attachOriginal bool) mailhost.FormRequest {
	return mailhost.FormRequest{
		Shape:          mailhost.ShapeStructured,
		To:             toAddresses(g.To),
		Cc:             toAddresses(g.Cc),
		Bcc:            toAddresses(g.Bcc),
		Subject:        subject,
		HTMLBody:       htmlBody,
		AttachOriginal: attachOriginal,
	}
}

func toAddresses(in []recipients.Recipient) []identity.Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]identity.Address, 0, len(in))
	for _, r := range in {
		out = append(out, identity.Address{Name: r.Name, Email: r.Email})
	}
	return out
}

// Open asks the host for a compose form of the given kind. The structured
// request is tried first; if the host rejects it, the body-only shape is
// tried before giving up. It returns the shape the host accepted.
func (in *Inserter) Open(ctx context.Context, kind FormKind, req mailhost.FormRequest) (mailhost.FormShape, error) {
	opener, ok := in.host.(mailhost.FormOpener)
	if !ok {
		return 0, fmt.Errorf("%w: %w", ErrInsertFailed, mailhost.ErrUnsupported)
	}

	var open func(context.Context, mailhost.FormRequest) error
	switch kind {
	case FormNew:
		open = opener.OpenNewMessageForm
	case FormReply:
		open = opener.OpenReplyForm
	case FormForward:
		open = opener.OpenForwardForm
	default:
		return 0, fmt.Errorf("unknown form kind %q", kind)
	}

	structured := req
	structured.Shape = mailhost.ShapeStructured
	err := open(ctx, structured)
	if err == nil {
		return mailhost.ShapeStructured, nil
	}
	in.log.Debug().Err(err).Str("kind", string(kind)).Msg("structured form rejected; retrying body only")

	bodyOnly := mailhost.FormRequest{
		Shape:    mailhost.ShapeBodyOnly,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
	}
	err2 := open(ctx, bodyOnly)
	if err2 == nil {
		return mailhost.ShapeBodyOnly, nil
	}

	return 0, fmt.Errorf("%w: %w", ErrInsertFailed, errors.Join(err, err2))
}
