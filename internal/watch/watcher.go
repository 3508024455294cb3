// Package watch polls the mail host and refreshes the session whenever the
// item on screen may have changed.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/mailhost"
)

// State is the current state of the watcher.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

// Status holds the state of the last refresh.
type Status struct {
	State       State
	LastRefresh time.Time
	Identity    identity.EmailIdentity
	Error       error
}

// Change is emitted after every refresh.
type Change struct {
	Identity identity.EmailIdentity
	Changed  bool
	Err      error
	// AuthFailed is set when the host rejected our credentials.
	AuthFailed bool
}

// RefreshFunc re-reads the host and reports the identity on screen and
// whether it differs from the previous one.
type RefreshFunc func(ctx context.Context) (identity.EmailIdentity, bool, error)

// refreshTimeout is the maximum time allowed for a single refresh.
const refreshTimeout = 30 * time.Second

// DefaultInterval is the polling interval when none is given.
const DefaultInterval = 5 * time.Second

// Watcher runs refresh on a ticker and on demand.
type Watcher struct {
	refresh  RefreshFunc
	interval time.Duration
	log      zerolog.Logger

	changes   chan Change
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}

	mu      sync.Mutex
	status  Status
	running bool
}

// New creates a watcher. A non-positive interval selects DefaultInterval.
func New(refresh RefreshFunc, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		refresh:   refresh,
		interval:  interval,
		log:       logging.Component("watch"),
		changes:   make(chan Change, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Changes delivers refresh results. Results are dropped when the channel is
// full.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Start launches the polling goroutine. It refreshes once immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts polling and waits for an in-progress refresh to end.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.done
}

// Trigger requests an immediate refresh.
func (w *Watcher) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the state of the last refresh.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		case <-w.triggerCh:
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	w.setStatus(func(s *Status) { s.State = StateRunning })

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	id, changed, err := w.refresh(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("refresh failed")
		w.setStatus(func(s *Status) {
			s.State = StateError
			s.Error = err
		})
		w.send(Change{Err: err, AuthFailed: mailhost.IsAuthError(err)})
		return
	}

	if changed {
		w.log.Debug().Str("identity", string(id)).Msg("item on screen changed")
	}
	w.setStatus(func(s *Status) {
		s.State = StateIdle
		s.Error = nil
		s.Identity = id
		s.LastRefresh = time.Now()
	})
	w.send(Change{Identity: id, Changed: changed})
}

func (w *Watcher) setStatus(fn func(*Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}

func (w *Watcher) send(c Change) {
	select {
	case w.changes <- c:
	default:
	}
}
