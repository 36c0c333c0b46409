package observability

import (
	"context"
	"sync"

	"github.com/basecamp/tokenkit/internal/sdk"
)

// Kind identifies a lifecycle notification.
type Kind string

const (
	// KindTokenRefreshed fires after a token was fetched and cached.
	KindTokenRefreshed Kind = "token_refreshed"
	// KindResponseCreated fires once per Send with the final response.
	KindResponseCreated Kind = "response_created"
)

// Event is the payload delivered to observers.
type Event struct {
	Kind Kind

	// Manager is the token manager that refreshed (token_refreshed only).
	Manager any
	// Record is the freshly cached token (token_refreshed only).
	Record *sdk.TokenRecord

	// Response is the final response of a Send (response_created only).
	Response *sdk.Response
}

// Observer receives events synchronously on the emitting goroutine.
type Observer func(ctx context.Context, ev Event)

// Dispatcher fans events out to observers in registration order.
// A nil *Dispatcher is valid and drops every event.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers o for all subsequent events.
func (d *Dispatcher) Subscribe(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Notify invokes every observer with ev.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.RUnlock()

	for _, o := range observers {
		o(ctx, ev)
	}
}

// Len returns the number of registered observers.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}
