package store

import (
	"slices"
	"sync"
	"time"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
)

// Store maps entity type names to ordered collections. It performs no
// validation; callers are responsible for what they write.
//
// Every write appends a STATE_CHANGE audit entry and publishes a STATE_CHANGE
// notification once the store lock has been released, so subscribers may read
// and write the store from their handler. Notifications are delivered in commit
// order; a write made while another goroutine is delivering is handed to that
// goroutine.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]entity.Record

	// outMu guards outbox and publishing. outbox is appended under mu.
	outMu      sync.Mutex
	outbox     []change
	publishing bool

	audit  *audit.Log
	hub    *hub.Hub
	logger log.Log
	now    func() time.Time
}

type change struct {
	entityType string
	previous   []entity.Record
	next       []entity.Record
	at         time.Time
}

func New(auditLog *audit.Log, h *hub.Hub, logger log.Log) *Store {
	return &Store{
		collections: make(map[string][]entity.Record),
		audit:       auditLog,
		hub:         h,
		logger:      logger.With(log.String("component", "store")),
		now:         time.Now,
	}
}

// Get returns a copy of the collection, empty for unknown types.
func (s *Store) Get(entityType string) []entity.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entity.CloneAll(s.collections[entityType])
}

// Find returns a copy of one record.
func (s *Store) Find(entityType, id string) (entity.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := entity.Find(s.collections[entityType], id)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Set replaces the collection wholesale.
func (s *Store) Set(entityType string, records []entity.Record) error {
	return s.Update(entityType, func([]entity.Record) ([]entity.Record, error) {
		return records, nil
	})
}

// Update runs fn against a copy of the current collection and stores its
// result atomically. If fn returns an error nothing is written.
func (s *Store) Update(entityType string, fn func(current []entity.Record) ([]entity.Record, error)) error {
	s.mu.Lock()
	previous := s.collections[entityType]
	next, err := fn(entity.CloneAll(previous))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next = entity.CloneAll(next)
	s.collections[entityType] = next
	if s.audit != nil {
		s.audit.Append(audit.ActionStateChange, entityType, map[string]any{
			"previousCount": len(previous),
			"newCount":      len(next),
		})
	}
	if s.hub != nil {
		s.outMu.Lock()
		s.outbox = append(s.outbox, change{entityType: entityType, previous: previous, next: next, at: s.now()})
		s.outMu.Unlock()
	}
	s.mu.Unlock()

	s.flush()
	return nil
}

// flush delivers queued changes unless another goroutine already is.
// Stored slices are never modified in place, so queued changes share them.
func (s *Store) flush() {
	s.outMu.Lock()
	if s.publishing {
		s.outMu.Unlock()
		return
	}
	s.publishing = true
	for len(s.outbox) > 0 {
		c := s.outbox[0]
		s.outbox[0] = change{}
		s.outbox = s.outbox[1:]
		s.outMu.Unlock()
		s.publish(c)
		s.outMu.Lock()
	}
	s.outbox = nil
	s.publishing = false
	s.outMu.Unlock()
}

func (s *Store) publish(c change) {
	err := s.hub.Publish(hub.Notification{
		Type:         hub.TypeStateChange,
		EntityType:   c.entityType,
		Data:         entity.CloneAll(c.next),
		PreviousData: entity.CloneAll(c.previous),
		Timestamp:    c.at,
	})
	if err != nil {
		s.logger.Warn("Subscriber failed on state change",
			log.String("entity_type", c.entityType),
			log.Error(err),
		)
	}
}

// Types lists the entity types held, sorted.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.collections))
	for t := range s.collections {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Clear drops every collection without notifying.
func (s *Store) Clear() {
	s.mu.Lock()
	s.collections = make(map[string][]entity.Record)
	s.mu.Unlock()
}
