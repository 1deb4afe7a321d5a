// Package shortage records shortage events and fans them out to subscribers.
package shortage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pos-platform/stock-service/internal/domain"
)

// Handler receives published shortage events.
type Handler interface {
	HandleShortage(ctx context.Context, event *domain.ShortageEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *domain.ShortageEvent) error

func (f HandlerFunc) HandleShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return f(ctx, event)
}

// Bus delivers shortage events synchronously, in subscription order, on the
// publisher's goroutine.
//
// By default the first handler error stops delivery and is returned to the
// publisher; later handlers do not see the event. WithHandlerIsolation
// delivers to every handler and returns all their errors joined.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	handlers  []subscription
	isolation bool
}

type subscription struct {
	id      int
	name    string
	handler Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHandlerIsolation keeps delivering after a handler fails.
func WithHandlerIsolation() BusOption {
	return func(b *Bus) { b.isolation = true }
}

// NewBus creates a Bus with no subscribers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h under name and returns a function that removes it.
// Calling the function more than once is harmless.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to the current subscribers. Handlers subscribed or
// removed during delivery take effect from the next Publish.
func (b *Bus) Publish(ctx context.Context, event *domain.ShortageEvent) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers))
	copy(subs, b.handlers)
	isolation := b.isolation
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler.HandleShortage(ctx, event); err != nil {
			err = fmt.Errorf("shortage handler %s: %w", s.name, err)
			if !isolation {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
