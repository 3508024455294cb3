package cache

import (
	"context"

	"github.com/nhle/mailpane/internal/events"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/store"
)

// Summary is the cached AI summary of one email.
type Summary struct {
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
}

// Summaries is the summaries namespace. A successful Put broadcasts
// events.SummaryUpdated so other views on the same identity can refresh.
type Summaries struct {
	ns  *Namespace[Summary]
	pub *events.Publisher
}

// NewSummaries creates the summaries namespace. pub may be nil.
func NewSummaries(kv store.KV, pub *events.Publisher, opts Options) *Summaries {
	return &Summaries{
		ns:  NewNamespace[Summary](kv, SummariesKey, opts),
		pub: pub,
	}
}

// Get returns the unexpired summary for id.
func (s *Summaries) Get(ctx context.Context, id identity.EmailIdentity) (Summary, bool) {
	return s.ns.Get(ctx, id)
}

// Put stores the summary for id and notifies subscribers.
func (s *Summaries) Put(ctx context.Context, id identity.EmailIdentity, sum Summary) error {
	if err := s.ns.Upsert(ctx, id, sum); err != nil {
		return err
	}
	s.pub.Publish(events.Event{Type: events.SummaryUpdated, EmailIdentity: string(id)})
	return nil
}

// Namespace exposes the underlying namespace for listing and clearing.
func (s *Summaries) Namespace() *Namespace[Summary] { return s.ns }
