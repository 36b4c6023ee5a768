package hub

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type subscription struct {
	id         string
	entityType string
	handler    Handler
	active     atomic.Bool
	cancel     func()
}

func (s *subscription) ID() string         { return s.id }
func (s *subscription) EntityType() string { return s.entityType }
func (s *subscription) IsActive() bool     { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.active.Swap(false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Hub is a per-entity-type fan-out of notifications. Delivery is synchronous in
// the publisher's goroutine, in subscription order, wildcard handlers last.
type Hub struct {
	mu        sync.RWMutex
	handlers  map[string][]*subscription
	metrics   Metrics
	observers map[Observer]struct{}
}

func New() *Hub {
	return &Hub{
		handlers:  make(map[string][]*subscription),
		observers: make(map[Observer]struct{}),
	}
}

// Subscribe registers handler for entityType, or for every type with Wildcard.
func (h *Hub) Subscribe(entityType string, handler Handler) Subscription {
	s := &subscription{id: uuid.NewString(), entityType: entityType, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.handlers[entityType]
		if i := slices.Index(subs, s); i >= 0 {
			h.handlers[entityType] = slices.Delete(subs, i, i+1)
		}
		if len(h.handlers[entityType]) == 0 {
			delete(h.handlers, entityType)
		}
	}

	h.mu.Lock()
	h.handlers[entityType] = append(h.handlers[entityType], s)
	h.mu.Unlock()
	return s
}

// Unsubscribe cancels sub if it is registered for entityType. Nil is a no-op.
func (h *Hub) Unsubscribe(entityType string, sub Subscription) error {
	if sub == nil {
		return nil
	}
	if sub.EntityType() != entityType {
		return fmt.Errorf("subscription %s is bound to %q, not %q", sub.ID(), sub.EntityType(), entityType)
	}
	return sub.Cancel()
}

// Publish delivers n to the subscribers of n.EntityType and to wildcard
// subscribers. A handler panic is recovered and reported as an error.
func (h *Hub) Publish(n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	start := time.Now()

	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.handlers[n.EntityType])+len(h.handlers[Wildcard]))
	subs = append(subs, h.handlers[n.EntityType]...)
	if n.EntityType != Wildcard {
		subs = append(subs, h.handlers[Wildcard]...)
	}
	observers := make([]Observer, 0, len(h.observers))
	for obs := range h.observers {
		observers = append(observers, obs)
	}
	h.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(n.EntityType, n.Type)
	}

	var all error
	delivered := 0
	panics := 0
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		delivered++
		if err := h.invoke(s, n); err != nil {
			var pe *PanicError
			if errors.As(err, &pe) {
				panics++
			}
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(n.EntityType, n.Type, delivered, all, dur)
		}
		h.mu.Lock()
		h.metrics.Published++
		h.metrics.DeliveredHandlers += uint64(delivered)
		h.metrics.Panics += uint64(panics)
		if all != nil {
			h.metrics.Errors++
		}
		h.mu.Unlock()
	}
	return all
}

func (h *Hub) invoke(s *subscription, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{SubscriptionID: s.id, Value: r}
		}
	}()
	return s.handler(n)
}

// Count returns the number of active subscriptions for entityType.
func (h *Hub) Count(entityType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[entityType])
}

// Reset drops every subscription.
func (h *Hub) Reset() {
	h.mu.Lock()
	subs := h.handlers
	h.handlers = make(map[string][]*subscription)
	h.mu.Unlock()
	for _, list := range subs {
		for _, s := range list {
			s.active.Store(false)
		}
	}
}

func (h *Hub) AddObserver(obs Observer) {
	h.mu.Lock()
	h.observers[obs] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) RemoveObserver(obs Observer) {
	h.mu.Lock()
	delete(h.observers, obs)
	h.mu.Unlock()
}

// Metrics returns a snapshot of the counters.
func (h *Hub) Metrics() Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metrics
}

// PanicError wraps a value recovered from a handler.
type PanicError struct {
	SubscriptionID string
	Value          any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("subscriber %s panicked: %v", e.SubscriptionID, e.Value)
}
