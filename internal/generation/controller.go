// Package generation runs AI generations for the email on screen and routes
// each result to the identity that was active when the run started.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nhle/mailpane/internal/ai"
	"github.com/nhle/mailpane/internal/cache"
	"github.com/nhle/mailpane/internal/events"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/workspace"
)

// DefaultSummaryThrottle is the minimum spacing of summarize attempts per
// identity.
const DefaultSummaryThrottle = 30 * time.Second

var (
	// ErrBusy is returned when the same action is already in flight.
	ErrBusy = errors.New("generation already in progress")

	// ErrThrottled is returned when a summary was attempted too recently
	// for the same identity.
	ErrThrottled = errors.New("summary attempted too recently")

	// ErrNoActive is returned when no email is active.
	ErrNoActive = errors.New("no active email")
)

// Generator produces content for one request.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (ai.Result, error)
}

// Token identifies the email a run was started for. Seq increases every
// time the active identity changes.
type Token struct {
	Identity identity.EmailIdentity
	ThreadID string
	Seq      uint64
}

// Notice is the user-facing outcome of a run.
type Notice string

const (
	NoticeUpdated         Notice = "updated"
	NoticeBackgroundSaved Notice = "background-saved"
	NoticeError           Notice = "error"
)

// Request describes one run. Empty Notes, Template and RawText are taken
// from the active workspace at start.
type Request struct {
	Action       ai.Action
	EmailContext string
	RawText      string
	Notes        string
	Template     string
	Locale       string
	Tone         string
}

// Outcome is the result of a finished run.
type Outcome struct {
	Token     Token
	Action    ai.Action
	Notice    Notice
	Result    ai.Result
	HistoryID string
	Err       error
}

// Options configures a Controller.
type Options struct {
	Now             func() time.Time
	SummaryThrottle time.Duration
	Locale          string
	Tone            string
}

// Controller owns the visible workspace of the active email and the
// lifecycle of every generation.
type Controller struct {
	gen        Generator
	summaries  *cache.Summaries
	history    *cache.History
	workspaces *workspace.Store
	pub        *events.Publisher
	now        func() time.Time
	throttle   time.Duration
	locale     string
	tone       string
	log        zerolog.Logger

	mu          sync.Mutex
	seq         uint64
	active      Token
	subject     string
	view        workspace.Workspace
	busy        map[ai.Action]bool
	summarizing map[identity.EmailIdentity]bool
	limiters    map[identity.EmailIdentity]*summaryLimiter
	autoTimer   *time.Timer
}

// New creates a controller.
func New(
	gen Generator,
	summaries *cache.Summaries,
	history *cache.History,
	workspaces *workspace.Store,
	pub *events.Publisher,
	opts Options,
) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SummaryThrottle <= 0 {
		opts.SummaryThrottle = DefaultSummaryThrottle
	}

	return &Controller{
		gen:         gen,
		summaries:   summaries,
		history:     history,
		workspaces:  workspaces,
		pub:         pub,
		now:         opts.Now,
		throttle:    opts.SummaryThrottle,
		locale:      opts.Locale,
		tone:        opts.Tone,
		log:         logging.Component("generation"),
		busy:        make(map[ai.Action]bool),
		summarizing: make(map[identity.EmailIdentity]bool),
		limiters:    make(map[identity.EmailIdentity]*summaryLimiter),
	}
}

// SetActive makes id the email on screen. Staged edits of the previous
// email are flushed and the workspace for id becomes the visible view.
// Calling it again for the current identity only refreshes the thread and
// subject.
func (c *Controller) SetActive(ctx context.Context, id identity.EmailIdentity, threadID, subject string) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == c.active.Identity && c.seq > 0 {
		c.active.ThreadID = threadID
		c.subject = subject
		return c.active
	}

	if c.autoTimer != nil {
		c.autoTimer.Stop()
		c.autoTimer = nil
	}
	if err := c.workspaces.Flush(ctx); err != nil {
		c.log.Warn().Err(err).Str("identity", string(c.active.Identity)).Msg("flushing previous workspace")
	}

	c.pruneLimitersLocked()

	c.seq++
	c.active = Token{Identity: id, ThreadID: threadID, Seq: c.seq}
	c.subject = subject
	c.view, _ = c.workspaces.Load(ctx, id)

	c.log.Debug().Str("identity", string(id)).Uint64("seq", c.seq).Msg("active email changed")
	return c.active
}

// Active returns the current token.
func (c *Controller) Active() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// View returns the current token and a copy of the visible workspace.
func (c *Controller) View() (Token, workspace.Workspace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.view
}

// UpdateWorkspace applies fn to the visible workspace and stages it.
func (c *Controller) UpdateWorkspace(fn func(*workspace.Workspace)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Identity == "" {
		return ErrNoActive
	}
	fn(&c.view)
	c.workspaces.Stage(c.active.Identity, c.view)
	return nil
}

// SelectSlot makes result slot i active in the visible workspace.
func (c *Controller) SelectSlot(i int) error {
	var selErr error
	err := c.UpdateWorkspace(func(ws *workspace.Workspace) {
		selErr = ws.Select(i)
	})
	if err != nil {
		return err
	}
	return selErr
}

// Busy reports whether action is in flight. For summarize it reports the
// active identity only.
func (c *Controller) Busy(action ai.Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if action == ai.ActionSummarize {
		return c.summarizing[c.active.Identity]
	}
	return c.busy[action]
}

// Summary returns the cached summary of the active email.
func (c *Controller) Summary(ctx context.Context) (cache.Summary, bool) {
	tok := c.Active()
	if tok.Identity == "" {
		return cache.Summary{}, false
	}
	return c.summaries.Get(ctx, tok.Identity)
}

// Start begins a run for the active email. The returned channel receives
// exactly one Outcome and is then closed. There is no cancellation: ctx
// only bounds the generator call.
func (c *Controller) Start(ctx context.Context, req Request) (<-chan Outcome, error) {
	return c.start(ctx, req, 0)
}

// start is Start restricted to the active email having sequence seq, when
// seq is non-zero.
func (c *Controller) start(ctx context.Context, req Request, seq uint64) (<-chan Outcome, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	c.mu.Lock()
	tok := c.active
	if tok.Identity == "" || (seq != 0 && tok.Seq != seq) {
		c.mu.Unlock()
		return nil, ErrNoActive
	}

	if req.Action == ai.ActionSummarize {
		if c.summarizing[tok.Identity] {
			c.mu.Unlock()
			return nil, ErrBusy
		}
		if !c.allowSummaryLocked(tok.Identity) {
			c.mu.Unlock()
			return nil, ErrThrottled
		}
		c.summarizing[tok.Identity] = true
	} else {
		if c.busy[req.Action] {
			c.mu.Unlock()
			return nil, ErrBusy
		}
		c.busy[req.Action] = true
	}

	if req.Notes == "" {
		req.Notes = c.view.Notes
	}
	if req.Template == "" {
		req.Template = c.view.Template
	}
	if req.RawText == "" {
		req.RawText = c.view.RewriteInput
	}
	subject := c.subject
	c.mu.Unlock()

	c.log.Debug().
		Str("identity", string(tok.Identity)).
		Str("action", string(req.Action)).
		Uint64("seq", tok.Seq).
		Msg("generation started")

	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		ch <- c.execute(ctx, tok, subject, req)
	}()
	return ch, nil
}

// Run starts a run and waits for its outcome.
func (c *Controller) Run(ctx context.Context, req Request) (Outcome, error) {
	ch, err := c.Start(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return <-ch, nil
}

// summaryLimiter is the throttle of one identity and the time it last
// admitted a run.
type summaryLimiter struct {
	lim  *rate.Limiter
	last time.Time
}

// allowSummaryLocked reports whether id may summarize now and records the
// attempt when it may.
func (c *Controller) allowSummaryLocked(id identity.EmailIdentity) bool {
	now := c.now()
	l, ok := c.limiters[id]
	if !ok {
		l = &summaryLimiter{lim: rate.NewLimiter(rate.Every(c.throttle), 1)}
		c.limiters[id] = l
	}
	if !l.lim.AllowN(now, 1) {
		return false
	}
	l.last = now
	return true
}

// pruneLimitersLocked drops limiters idle for longer than the throttle
// window. Such a limiter has refilled, so a fresh one behaves the same.
func (c *Controller) pruneLimitersLocked() {
	cutoff := c.now().Add(-c.throttle)
	for id, l := range c.limiters {
		if l.last.Before(cutoff) && !c.summarizing[id] {
			delete(c.limiters, id)
		}
	}
}

func (c *Controller) execute(ctx context.Context, tok Token, subject string, req Request) Outcome {
	locale, tone := req.Locale, req.Tone
	if locale == "" {
		locale = c.locale
	}
	if tone == "" {
		tone = c.tone
	}

	res, err := c.gen.Generate(ctx, ai.Request{
		Action:       req.Action,
		Locale:       locale,
		Tone:         tone,
		EmailContext: req.EmailContext,
		RawText:      req.RawText,
		Notes:        req.Notes,
		Template:     req.Template,
	})

	out := Outcome{Token: tok, Action: req.Action}
	if err != nil {
		c.release(tok.Identity, req.Action)
		c.log.Error().Err(err).
			Str("identity", string(tok.Identity)).
			Str("action", string(req.Action)).
			Msg("generation failed")
		out.Notice = NoticeError
		out.Err = err
		return out
	}
	out.Result = res

	if req.Action == ai.ActionSummarize {
		c.commitSummary(ctx, &out)
	} else {
		c.commitResult(ctx, &out)
	}
	c.release(tok.Identity, req.Action)

	if out.Err == nil {
		entry, err := c.history.Append(ctx, cache.HistoryEntry{
			EmailIdentity: string(tok.Identity),
			ThreadID:      tok.ThreadID,
			Subject:       subject,
			Action:        string(req.Action),
			HTML:          res.HTML,
			Text:          res.Text,
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("recording generation history")
		} else {
			out.HistoryID = entry.ID
		}
	}
	return out
}

func (c *Controller) release(id identity.EmailIdentity, action ai.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if action == ai.ActionSummarize {
		delete(c.summarizing, id)
		return
	}
	delete(c.busy, action)
}

// commitSummary stores a summary for the run identity. Summaries never
// reach the result slots.
func (c *Controller) commitSummary(ctx context.Context, out *Outcome) {
	tok := out.Token
	if err := c.summaries.Put(ctx, tok.Identity, cache.Summary{
		HTML: out.Result.HTML,
		Text: out.Result.Text,
	}); err != nil {
		out.Notice = NoticeError
		out.Err = fmt.Errorf("saving summary: %w", err)
		return
	}

	if c.Active().Identity == tok.Identity {
		out.Notice = NoticeUpdated
		return
	}
	out.Notice = NoticeBackgroundSaved
	c.pub.Publish(events.Event{Type: events.BackgroundResultSaved, EmailIdentity: string(tok.Identity)})
}

// commitResult writes the result into the active slot of the run identity:
// the visible view when it is still on screen, otherwise its stored
// workspace.
func (c *Controller) commitResult(ctx context.Context, out *Outcome) {
	tok := out.Token
	slot := workspace.SlotResult{
		HTML:        out.Result.HTML,
		Text:        out.Result.Text,
		TimestampMs: c.now().UnixMilli(),
	}

	c.mu.Lock()
	if c.active.Identity == tok.Identity {
		c.view.SetActiveResult(slot)
		c.workspaces.Stage(tok.Identity, c.view)
		c.mu.Unlock()

		if err := c.workspaces.Flush(ctx); err != nil {
			c.log.Warn().Err(err).Str("identity", string(tok.Identity)).Msg("flushing workspace")
		}
		out.Notice = NoticeUpdated
		return
	}
	c.mu.Unlock()

	log := logging.WithIdentity(c.log, string(tok.Identity))
	log.Info().
		Str("action", string(out.Action)).
		Msg("active email changed during generation; saving in background")

	err := c.workspaces.Update(ctx, tok.Identity, func(ws *workspace.Workspace) {
		ws.SetActiveResult(slot)
	})
	if err != nil {
		log.Warn().Err(err).Msg("saving background result")
		out.Notice = NoticeError
		out.Err = fmt.Errorf("saving background result: %w", err)
		return
	}

	// The user may have returned to the run's email while the write was in
	// progress, loading a view that predates it.
	c.mu.Lock()
	returned := c.active.Identity == tok.Identity
	if returned {
		c.view.SetActiveResult(slot)
		c.workspaces.Stage(tok.Identity, c.view)
	}
	c.mu.Unlock()
	if returned {
		if err := c.workspaces.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("flushing workspace")
		}
		out.Notice = NoticeUpdated
		return
	}

	out.Notice = NoticeBackgroundSaved
	c.pub.Publish(events.Event{Type: events.BackgroundResultSaved, EmailIdentity: string(tok.Identity)})
}
