// Package app wires the mail host, the generation controller, the
// recipient engine and the draft inserter into one session.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/ai"
	"github.com/nhle/mailpane/internal/compose"
	"github.com/nhle/mailpane/internal/generation"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/mailhost"
	"github.com/nhle/mailpane/internal/recipients"
	"github.com/nhle/mailpane/internal/workspace"
)

// ErrNothingToInsert is returned when the active slot is empty.
var ErrNothingToInsert = errors.New("no generated result to insert")

// Options configures a Session.
type Options struct {
	SelfAddress string
	Signature   compose.Signature

	// AutoSummaryDelay arms the fallback summary timer after each switch.
	// Zero disables automatic summaries.
	AutoSummaryDelay time.Duration

	// IncludeBodyEmails is the default of the per-email toggle.
	IncludeBodyEmails bool
}

// Session is the state behind one open task pane.
type Session struct {
	host     mailhost.Host
	ctrl     *generation.Controller
	rcpts    *recipients.Set
	inserter *compose.Inserter
	opts     Options
	log      zerolog.Logger

	mu   sync.Mutex
	meta identity.Metadata
	body string
}

// NewSession creates a session over host and ctrl.
func NewSession(host mailhost.Host, ctrl *generation.Controller, opts Options) *Session {
	return &Session{
		host:     host,
		ctrl:     ctrl,
		rcpts:    recipients.NewSet(opts.SelfAddress),
		inserter: compose.NewInserter(host),
		opts:     opts,
		log:      logging.Component("session"),
	}
}

// Controller returns the generation controller.
func (s *Session) Controller() *generation.Controller { return s.ctrl }

// Recipients returns the recipient set of the active email.
func (s *Session) Recipients() *recipients.Set { return s.rcpts }

// Metadata returns the metadata read by the last Refresh.
func (s *Session) Metadata() identity.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Refresh re-reads the host. When the identity changed, the recipient set
// is rebuilt and automatic summarizing is attempted. Body scanning is
// repeated whenever the body text changed.
func (s *Session) Refresh(ctx context.Context) (identity.EmailIdentity, bool, error) {
	meta, err := s.host.Metadata(ctx)
	if err != nil {
		return "", false, fmt.Errorf("reading item metadata: %w", err)
	}
	body, err := s.host.BodyText(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("reading body text; continuing without it")
		body = ""
	}

	id := identity.Resolve(meta)
	changed := s.ctrl.Active().Identity != id
	s.ctrl.SetActive(ctx, id, meta.ThreadID, meta.Subject)
	_, ws := s.ctrl.View()

	s.mu.Lock()
	bodyChanged := changed || body != s.body
	s.meta = meta
	s.body = body
	s.mu.Unlock()

	if changed {
		s.rcpts.Reset(recipients.HeaderFrom(meta), recipients.ParsePreset(ws.RecipientPreset))
	}
	if bodyChanged {
		s.rcpts.HarvestBody(body, s.includeBodyEmails(ws))
	}

	// Hosts may report the body after the metadata, so a body arriving for
	// the same identity gets its own attempt. The throttle and in-flight
	// guard keep repeats out.
	if bodyChanged && s.opts.AutoSummaryDelay > 0 {
		s.ctrl.MaybeAutoSummarize(ctx, body)
		if changed || strings.TrimSpace(body) != "" {
			s.ctrl.ScheduleAutoSummary(s.opts.AutoSummaryDelay, body, nil)
		}
	}
	return id, changed, nil
}

func (s *Session) includeBodyEmails(ws workspace.Workspace) bool {
	return ws.IncludeBodyEmails || s.opts.IncludeBodyEmails
}

// Start begins a generation for the active email using the current body
// as context.
func (s *Session) Start(ctx context.Context, action ai.Action) (<-chan generation.Outcome, error) {
	s.mu.Lock()
	body := s.body
	s.mu.Unlock()

	return s.ctrl.Start(ctx, generation.Request{Action: action, EmailContext: body})
}

// Generate runs a generation and waits for it.
func (s *Session) Generate(ctx context.Context, action ai.Action) (generation.Outcome, error) {
	ch, err := s.Start(ctx, action)
	if err != nil {
		return generation.Outcome{}, err
	}
	return <-ch, nil
}

// ApplyPreset applies p to the recipient set and remembers it in the
// workspace.
func (s *Session) ApplyPreset(p recipients.Preset) error {
	s.rcpts.ApplyPreset(p)
	return s.syncPreset()
}

// EditRecipients runs fn against the recipient set. Manual edits switch
// the preset to custom, which is then remembered in the workspace.
func (s *Session) EditRecipients(fn func(*recipients.Set) error) error {
	if err := fn(s.rcpts); err != nil {
		return err
	}
	return s.syncPreset()
}

func (s *Session) syncPreset() error {
	p := s.rcpts.Preset()
	return s.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.RecipientPreset = string(p)
	})
}

// SetIncludeBodyEmails flips the body-address toggle for the active email
// and rescans the body.
func (s *Session) SetIncludeBodyEmails(enabled bool) error {
	if err := s.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.IncludeBodyEmails = enabled
	}); err != nil {
		return err
	}

	s.mu.Lock()
	body := s.body
	s.mu.Unlock()
	s.rcpts.HarvestBody(body, enabled || s.opts.IncludeBodyEmails)
	return nil
}

// FinalHTML renders the active slot with the signature.
func (s *Session) FinalHTML() (string, error) {
	_, ws := s.ctrl.View()
	slot := ws.Active()
	if slot.Empty() {
		return "", ErrNothingToInsert
	}
	return compose.BuildFinalHTML(slot, s.opts.Signature), nil
}

// Insert places the active result into the current draft.
func (s *Session) Insert(ctx context.Context) (compose.Method, error) {
	html, err := s.FinalHTML()
	if err != nil {
		return "", err
	}
	return s.inserter.Insert(ctx, html)
}

// OpenForm opens a compose form of kind carrying the active result and the
// grouped recipients.
func (s *Session) OpenForm(ctx context.Context, kind compose.FormKind, attachOriginal bool) (mailhost.FormShape, error) {
	html, err := s.FinalHTML()
	if err != nil {
		return 0, err
	}

	subject := ""
	if kind != compose.FormNew {
		subject = s.Metadata().Subject
	}
	req := compose.NewFormRequest(s.rcpts.Grouped(), subject, html, attachOriginal)
	return s.inserter.Open(ctx, kind, req)
}
