// Package events delivers in-process notifications between views that
// share the local cache.
package events

import (
	"errors"
	"slices"
	"sync"
)

// Type names an event kind.
type Type string

const (
	// SummaryUpdated fires after a summary is stored for an identity.
	SummaryUpdated Type = "summary_updated"

	// BackgroundResultSaved fires when a generation result was routed to a
	// workspace other than the one on screen.
	BackgroundResultSaved Type = "background_result_saved"
)

// Event is a notification carrying the email identity it concerns.
type Event struct {
	Type          Type
	EmailIdentity string
}

// Handler is invoked for each matching event.
type Handler func(Event)

// Filter selects events. Zero values match everything.
type Filter struct {
	Types         []Type
	EmailIdentity string
}

// Matches returns true if the event matches the filter criteria.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.EmailIdentity != "" && e.EmailIdentity != f.EmailIdentity {
		return false
	}
	return true
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = errors.New("subscription ID is required")
	ErrNilHandler            = errors.New("handler cannot be nil")
	ErrSubscriptionExists    = errors.New("subscription with this ID already exists")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
)

type subscription struct {
	filter  Filter
	handler Handler
}

// Publisher fans events out to subscribers in-process.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string]subscription)}
}

// Publish delivers e synchronously to every matching subscriber. Handlers
// run outside the lock so they may subscribe or unsubscribe.
func (p *Publisher) Publish(e Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	var handlers []Handler
	for _, s := range p.subs {
		if s.filter.Matches(e) {
			handlers = append(handlers, s.handler)
		}
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribe registers handler under id.
func (p *Publisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[id]; exists {
		return ErrSubscriptionExists
	}
	p.subs[id] = subscription{filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *Publisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subs[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subs, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
