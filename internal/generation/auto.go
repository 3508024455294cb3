package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nhle/mailpane/internal/ai"
)

// MaybeAutoSummarize starts a summary of the active email when none is
// cached and body is non-empty. It reports whether a run was started;
// busy and throttled states are not errors here.
func (c *Controller) MaybeAutoSummarize(ctx context.Context, body string) (<-chan Outcome, bool) {
	return c.maybeAutoSummarize(ctx, body, 0)
}

func (c *Controller) maybeAutoSummarize(ctx context.Context, body string, seq uint64) (<-chan Outcome, bool) {
	if strings.TrimSpace(body) == "" {
		return nil, false
	}
	if _, ok := c.Summary(ctx); ok {
		return nil, false
	}

	ch, err := c.start(ctx, Request{Action: ai.ActionSummarize, EmailContext: body}, seq)
	if err != nil {
		if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrThrottled) && !errors.Is(err, ErrNoActive) {
			c.log.Warn().Err(err).Msg("auto summary")
		}
		return nil, false
	}
	return ch, true
}

// ScheduleAutoSummary arms a one-shot fallback that calls
// MaybeAutoSummarize after delay, unless the active email changed first.
// Scheduling again replaces the pending timer. done, when non-nil,
// receives the outcome of a run the timer started.
func (c *Controller) ScheduleAutoSummary(delay time.Duration, body string, done func(Outcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Identity == "" {
		return
	}
	if c.autoTimer != nil {
		c.autoTimer.Stop()
	}

	seq := c.active.Seq
	c.autoTimer = time.AfterFunc(delay, func() {
		ch, ok := c.maybeAutoSummarize(context.Background(), body, seq)
		if !ok {
			return
		}
		out := <-ch
		if done != nil {
			done(out)
		}
	})
}
