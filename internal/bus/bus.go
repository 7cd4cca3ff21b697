// Package bus is the in-process change channel: a synchronous event bus
// keyed by notification group, with content-based deduplication on publish.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	appLog "calsync/internal/log"
	"calsync/internal/notify"
)

// Event is the envelope handed to subscribers.
type Event struct {
	ctx       context.Context
	Timestamp time.Time
	Message   notify.Message
}

// Context returns the context of the publishing call.
// Handlers should use this context for any operations that need cancellation.
func (e Event) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// handler is the internal shape for subscribers.
type handler func(Event) error

// Bus is a concurrency-safe synchronous dispatcher. Handlers for a group
// run sequentially, in subscription order, during Publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[notify.Kind]map[uint64]handler
	nextID      uint64
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[notify.Kind]map[uint64]handler),
	}
}

// Subscribe registers h for group. The returned function removes it.
func (b *Bus) Subscribe(group notify.Kind, h func(Event) error) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID

	if b.subscribers[group] == nil {
		b.subscribers[group] = make(map[uint64]handler)
	}
	b.subscribers[group][id] = handler(h)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if handlers := b.subscribers[group]; handlers != nil {
			delete(handlers, id)
			// Clean up empty map to free memory
			if len(handlers) == 0 {
				delete(b.subscribers, group)
			}
		}
	}
}

// SubscribeHandler decodes messages of every group and passes them to h.
// It returns one function that removes all four subscriptions.
func SubscribeHandler(b *Bus, h notify.Handler) (unsubscribe func()) {
	var unsubs []func()
	for _, kind := range notify.Kinds {
		unsubs = append(unsubs, b.Subscribe(kind, func(e Event) error {
			n, err := notify.Decode(e.Message)
			if err != nil {
				return err
			}
			return n.Accept(e.Context(), h)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Subscribers returns how many handlers listen on group.
func (b *Bus) Subscribers(group notify.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[group])
}

// Deliver hands m to every subscriber of m.Group. A failing or panicking
// handler does not stop the others; all failures come back as one error.
// A cancelled context skips the remaining handlers.
func (b *Bus) Deliver(ctx context.Context, m notify.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("message %s: context cancelled before publish: %w", m.Group, err)
	}

	type sub struct {
		id uint64
		h  handler
	}
	b.mu.RLock()
	// Copy handlers to avoid holding lock during invocation
	handlers := make([]sub, 0, len(b.subscribers[m.Group]))
	for id, h := range b.subscribers[m.Group] {
		handlers = append(handlers, sub{id, h})
	}
	b.mu.RUnlock()
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	if len(handlers) == 0 {
		appLog.Debug("bus: no subscribers", "group", string(m.Group))
		return nil
	}

	e := Event{ctx: ctx, Timestamp: time.Now(), Message: m}
	var errs error
	for _, s := range handlers {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("context cancelled during delivery: %w", err))
			break
		}

		// Recover from panics and treat them as errors
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panic (ID %d) for group %s: %v", s.id, m.Group, r)
				}
			}()
			return s.h(e)
		}()

		if err != nil {
			appLog.Error("bus: handler failed", err, "handler_id", s.id, "group", string(m.Group))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
