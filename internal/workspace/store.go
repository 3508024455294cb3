package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailpane/internal/cache"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/store"
)

// DefaultDebounce is how long staged edits wait before being written.
const DefaultDebounce = 400 * time.Millisecond

// Store persists workspaces with coalesced writes. Staged edits live in
// memory until Flush, which the debounce timer calls after the last edit
// settles. A non-positive debounce disables the timer so callers (tests)
// decide exactly when Flush happens.
type Store struct {
	ns       *cache.Namespace[Workspace]
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[identity.EmailIdentity]Workspace
	timer   *time.Timer
	closed  bool
}

// NewStore creates a workspace store over kv.
func NewStore(kv store.KV, debounce time.Duration, opts cache.Options) *Store {
	return &Store{
		ns:       cache.NewNamespace[Workspace](kv, cache.WorkspaceKey, opts),
		debounce: debounce,
		log:      logging.Component("workspace"),
		pending:  make(map[identity.EmailIdentity]Workspace),
	}
}

// Load returns the workspace for id: staged edits first, then the stored
// record. Legacy fields are migrated on the returned copy.
func (s *Store) Load(ctx context.Context, id identity.EmailIdentity) (Workspace, bool) {
	s.mu.Lock()
	ws, ok := s.pending[id]
	s.mu.Unlock()

	if !ok {
		ws, ok = s.ns.Get(ctx, id)
	}
	ws.Migrate()
	return ws, ok
}

// Stage records ws as the latest state for id and (re)arms the debounce
// timer. Only the last staged value per identity is written.
func (s *Store) Stage(id identity.EmailIdentity, ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[id] = ws
	if s.debounce <= 0 || s.closed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, func() {
			if err := s.Flush(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("debounced workspace flush")
			}
		})
		return
	}
	s.timer.Reset(s.debounce)
}

// Put writes ws for id immediately, superseding any staged edit for id.
func (s *Store) Put(ctx context.Context, id identity.EmailIdentity, ws Workspace) error {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	return s.ns.Upsert(ctx, id, ws)
}

// Update applies fn to the freshest state for id and writes the result
// through: the staged edit when there is one, else the stored record read
// inside the same write cycle. Used when the identity is not the one on
// screen.
func (s *Store) Update(ctx context.Context, id identity.EmailIdentity, fn func(*Workspace)) error {
	var staged Workspace
	var wasStaged bool
	err := s.ns.Modify(ctx, id, func(stored Workspace, _ bool) (Workspace, bool) {
		staged, wasStaged = s.take(id)
		ws := stored
		if wasStaged {
			ws = staged
		}
		ws.Migrate()
		fn(&ws)
		return ws, true
	})
	if err != nil && wasStaged {
		s.restore(id, staged)
	}
	return err
}

// Flush writes every staged workspace. Each entry leaves the staging area
// inside its own write cycle, so an Update racing with Flush always sees
// either the staged value or the written one. Entries that fail to write
// stay staged unless a newer edit replaced them meanwhile.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]identity.EmailIdentity, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		var ws Workspace
		var staged bool
		err := s.ns.Modify(ctx, id, func(Workspace, bool) (Workspace, bool) {
			ws, staged = s.take(id)
			return ws, staged
		})
		if err != nil {
			if staged {
				s.restore(id, ws)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) take(id identity.EmailIdentity) (Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.pending[id]
	delete(s.pending, id)
	return ws, ok
}

func (s *Store) restore(id identity.EmailIdentity, ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, newer := s.pending[id]; !newer {
		s.pending[id] = ws
	}
}

// Pending returns the number of staged, unwritten workspaces.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Delete drops id from both the staging area and storage.
func (s *Store) Delete(ctx context.Context, id identity.EmailIdentity) error {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return s.ns.Delete(ctx, id)
}

// Namespace exposes the underlying namespace for listing and clearing.
func (s *Store) Namespace() *cache.Namespace[Workspace] { return s.ns }

// Close stops the timer and flushes whatever is staged.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}
