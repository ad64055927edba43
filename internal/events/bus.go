// Package events provides the in-process publish/subscribe backbone that
// decouples signal producers from the trading engine and other consumers.
package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Payload carries event data. Field schemas are fixed by convention per event
// type; the bus itself is payload-agnostic.
type Payload map[string]any

// Handler processes one event payload. A non-nil error is reported back to
// the publisher after all handlers for the event have run.
type Handler func(ctx context.Context, payload Payload) error

// Subscription identifies one registered handler so it can be removed later.
type Subscription struct {
	eventType string
	id        uint64
}

// EventType returns the event type this subscription listens on.
func (s *Subscription) EventType() string { return s.eventType }

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is an asynchronous publish/subscribe dispatcher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64
	logger *zap.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string][]subscriber),
		logger: logger,
	}
}

// Subscribe registers handler for eventType. Handlers are dispatched to every
// subscriber of the type; registration order is preserved in the snapshot
// taken by Publish.
func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: b.nextID, handler: handler})
	b.logger.Debug("event bus: subscribed", zap.String("type", eventType))
	return &Subscription{eventType: eventType, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown subscriptions
// are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches payload to every handler currently subscribed to
// eventType. The subscriber list is snapshotted under the lock and the lock is
// released before any handler runs, so handlers may freely subscribe or
// publish without deadlocking. All handlers run concurrently; Publish returns
// once every handler has completed. If any handler fails, the failures are
// collected into a *DeliveryError after all handlers have been attempted.
func (b *Bus) Publish(ctx context.Context, eventType string, payload Payload) error {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[eventType]))
	copy(subs, b.subs[eventType])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(subs))
	for i, s := range subs {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = h(ctx, payload)
		}(i, s.handler)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return &DeliveryError{EventType: eventType, Errs: failed}
	}
	return nil
}

// SubscriberCount reports how many handlers listen on eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// DeliveryError reports handler failures from one Publish call. Every handler
// was still invoked; the failures are collected in subscription order.
type DeliveryError struct {
	EventType string
	Errs      []error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("event %s: %d of subscribed handlers failed: %v", e.EventType, len(e.Errs), e.Errs[0])
}

// Unwrap exposes the first handler failure.
func (e *DeliveryError) Unwrap() error { return e.Errs[0] }
