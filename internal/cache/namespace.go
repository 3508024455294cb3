// Package cache implements the per-email, time-boxed local cache: a generic
// namespace keyed by email identity plus the summaries and generation
// history built on top of it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/store"
)

// DefaultRetention is how long a record stays valid after its last write.
const DefaultRetention = 5 * 24 * time.Hour

// Storage keys for the three namespaces.
const (
	SummariesKey = "mailpane.summaries.v1"
	HistoryKey   = "mailpane.history.v1"
	WorkspaceKey = "mailpane.workspace.v1"
)

// Record is one stored value with the time of its last write.
type Record[T any] struct {
	Value       T     `json:"value"`
	TimestampMs int64 `json:"timestampMs"`
}

// Options configures a namespace. Zero values pick the defaults.
type Options struct {
	Retention time.Duration
	Now       func() time.Time
	Logger    *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		l := logging.Component("cache")
		o.Logger = &l
	}
	return o
}

// Namespace is a persistent map from email identity to Record[T], stored as
// one JSON document under a single KV key. Expired records are dropped
// whenever the document is loaded; there is no background sweeper.
//
// Every write re-reads the stored document first, so concurrent views in
// the same installation only ever lose a race for the same identity.
type Namespace[T any] struct {
	kv        store.KV
	key       string
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewNamespace creates a namespace stored under key.
func NewNamespace[T any](kv store.KV, key string, opts Options) *Namespace[T] {
	opts = opts.withDefaults()
	return &Namespace[T]{
		kv:        kv,
		key:       key,
		retention: opts.Retention,
		now:       opts.Now,
		log:       opts.Logger.With().Str("namespace", key).Logger(),
	}
}

// Retention returns the validity window.
func (n *Namespace[T]) Retention() time.Duration { return n.retention }

// Get returns the value for id if a record exists and has not expired.
func (n *Namespace[T]) Get(ctx context.Context, id identity.EmailIdentity) (T, bool) {
	records, _ := n.load(ctx)
	rec, ok := records[string(id)]
	if !ok {
		var zero T
		return zero, false
	}
	return rec.Value, true
}

// Record returns the raw record for id, including its timestamp.
func (n *Namespace[T]) Record(ctx context.Context, id identity.EmailIdentity) (Record[T], bool) {
	records, _ := n.load(ctx)
	rec, ok := records[string(id)]
	return rec, ok
}

// Upsert stores value under id stamped with the current time, replacing any
// prior record, and writes the pruned namespace through to the backend.
func (n *Namespace[T]) Upsert(ctx context.Context, id identity.EmailIdentity, value T) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	records, _ := n.load(ctx)
	records[string(id)] = Record[T]{Value: value, TimestampMs: n.now().UnixMilli()}
	return n.save(ctx, records)
}

// Update applies fn to the freshly loaded value for id (the zero value when
// absent) and stores the result. It is the read-modify-write primitive for
// callers that must not clobber fields written by another view.
func (n *Namespace[T]) Update(ctx context.Context, id identity.EmailIdentity, fn func(T, bool) T) error {
	return n.Modify(ctx, id, func(prev T, ok bool) (T, bool) {
		return fn(prev, ok), true
	})
}

// Modify is Update for callers that may decide not to write. When fn
// returns false nothing is stored.
func (n *Namespace[T]) Modify(ctx context.Context, id identity.EmailIdentity, fn func(T, bool) (T, bool)) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	records, _ := n.load(ctx)
	prev, ok := records[string(id)]
	next, write := fn(prev.Value, ok)
	if !write {
		return nil
	}
	records[string(id)] = Record[T]{Value: next, TimestampMs: n.now().UnixMilli()}
	return n.save(ctx, records)
}

// Prune drops expired records and persists the result. It returns the
// number of records removed.
func (n *Namespace[T]) Prune(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	records, dropped := n.load(ctx)
	if dropped == 0 {
		return 0, nil
	}
	return dropped, n.save(ctx, records)
}

// Delete removes the record for id.
func (n *Namespace[T]) Delete(ctx context.Context, id identity.EmailIdentity) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	records, _ := n.load(ctx)
	delete(records, string(id))
	return n.save(ctx, records)
}

// Clear removes the whole namespace from the backend.
func (n *Namespace[T]) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.kv.RemoveItem(ctx, n.key); err != nil {
		n.log.Warn().Err(err).Msg("clearing namespace")
		return fmt.Errorf("clearing %s: %w", n.key, err)
	}
	return nil
}

// Keys lists the identities with a live record, sorted.
func (n *Namespace[T]) Keys(ctx context.Context) []identity.EmailIdentity {
	records, _ := n.load(ctx)
	keys := make([]identity.EmailIdentity, 0, len(records))
	for k := range records {
		keys = append(keys, identity.EmailIdentity(k))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of live records.
func (n *Namespace[T]) Len(ctx context.Context) int {
	records, _ := n.load(ctx)
	return len(records)
}

// valid reports whether a record stamped at tsMs is inside the window.
func (n *Namespace[T]) valid(tsMs int64) bool {
	return n.now().UnixMilli()-tsMs <= n.retention.Milliseconds()
}

// load reads and decodes the namespace, dropping expired records. Backend
// and decode failures are logged and yield an empty namespace.
func (n *Namespace[T]) load(ctx context.Context) (map[string]Record[T], int) {
	records := make(map[string]Record[T])

	raw, ok, err := n.kv.GetItem(ctx, n.key)
	if err != nil {
		n.log.Warn().Err(err).Msg("reading namespace; treating as empty")
		return records, 0
	}
	if !ok || raw == "" {
		return records, 0
	}

	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		n.log.Warn().Err(err).Msg("corrupted namespace; treating as empty")
		return make(map[string]Record[T]), 0
	}

	dropped := 0
	for k, rec := range records {
		if !n.valid(rec.TimestampMs) {
			delete(records, k)
			dropped++
		}
	}
	return records, dropped
}

func (n *Namespace[T]) save(ctx context.Context, records map[string]Record[T]) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", n.key, err)
	}
	if err := n.kv.SetItem(ctx, n.key, string(payload)); err != nil {
		n.log.Warn().Err(err).Int("records", len(records)).Msg("writing namespace")
		return fmt.Errorf("writing %s: %w", n.key, err)
	}
	return nil
}
