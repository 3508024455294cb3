package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nhle/mailpane/internal/store"
)

// NewTestKV creates an in-memory SQLiteKV with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestKV(t *testing.T) *store.SQLiteKV {
	t.Helper()

	s, err := store.NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// ErrBroken is returned by BrokenKV.
var ErrBroken = errors.New("storage unavailable")

// BrokenKV fails every operation.
type BrokenKV struct{}

func (BrokenKV) GetItem(context.Context, string) (string, bool, error) { return "", false, ErrBroken }
func (BrokenKV) SetItem(context.Context, string, string) error         { return ErrBroken }
func (BrokenKV) RemoveItem(context.Context, string) error              { return ErrBroken }

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// HookKV wraps a KV and runs one-shot callbacks before reads of chosen
// keys. It lets tests interleave user actions with an in-progress write.
type HookKV struct {
	store.KV

	mu    sync.Mutex
	hooks map[string]func()
}

// NewHookKV wraps kv.
func NewHookKV(kv store.KV) *HookKV {
	return &HookKV{KV: kv, hooks: make(map[string]func())}
}

// OnGetOnce runs fn before the next GetItem of key.
func (h *HookKV) OnGetOnce(key string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[key] = fn
}

func (h *HookKV) GetItem(ctx context.Context, key string) (string, bool, error) {
	h.mu.Lock()
	fn := h.hooks[key]
	delete(h.hooks, key)
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
	return h.KV.GetItem(ctx, key)
}
