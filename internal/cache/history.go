package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/store"
)

// DefaultHistoryLimit bounds the persisted generation history.
const DefaultHistoryLimit = 300

// HistoryEntry records one completed generation. Entries are never mutated
// after they are appended.
type HistoryEntry struct {
	ID            string `json:"id"`
	TimestampMs   int64  `json:"timestampMs"`
	EmailIdentity string `json:"emailIdentity"`
	ThreadID      string `json:"threadId,omitempty"`
	Subject       string `json:"subject,omitempty"`
	Action        string `json:"action,omitempty"`
	HTML          string `json:"html,omitempty"`
	Text          string `json:"text,omitempty"`
}

// History is the append-only generation log. On every persist it drops
// entries older than the retention window and keeps at most limit of the
// most recent entries.
type History struct {
	kv        store.KV
	retention time.Duration
	limit     int
	now       func() time.Time
	log       zerolog.Logger

	mu sync.Mutex
}

// NewHistory creates the history log. A non-positive limit selects
// DefaultHistoryLimit.
func NewHistory(kv store.KV, limit int, opts Options) *History {
	opts = opts.withDefaults()
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		kv:        kv,
		retention: opts.Retention,
		limit:     limit,
		now:       opts.Now,
		log:       opts.Logger.With().Str("namespace", HistoryKey).Logger(),
	}
}

// Append adds e, filling ID and TimestampMs when unset, and returns the
// stored entry.
func (h *History) Append(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.TimestampMs == 0 {
		e.TimestampMs = h.now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.load(ctx), e)
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return e, fmt.Errorf("encoding history: %w", err)
	}
	if err := h.kv.SetItem(ctx, HistoryKey, string(payload)); err != nil {
		h.log.Warn().Err(err).Msg("writing history")
		return e, fmt.Errorf("writing history: %w", err)
	}
	return e, nil
}

// All returns every live entry, oldest first.
func (h *History) All(ctx context.Context) []HistoryEntry {
	return h.load(ctx)
}

// List returns the live entries for one identity, newest first.
func (h *History) List(ctx context.Context, id identity.EmailIdentity) []HistoryEntry {
	all := h.load(ctx)
	var out []HistoryEntry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].EmailIdentity == string(id) {
			out = append(out, all[i])
		}
	}
	return out
}

// Clear removes the whole history.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.kv.RemoveItem(ctx, HistoryKey); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func (h *History) load(ctx context.Context) []HistoryEntry {
	raw, ok, err := h.kv.GetItem(ctx, HistoryKey)
	if err != nil {
		h.log.Warn().Err(err).Msg("reading history; treating as empty")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		h.log.Warn().Err(err).Msg("corrupted history; treating as empty")
		return nil
	}

	cutoff := h.now().UnixMilli() - h.retention.Milliseconds()
	live := entries[:0]
	for _, e := range entries {
		if e.TimestampMs >= cutoff {
			live = append(live, e)
		}
	}
	return live
}
