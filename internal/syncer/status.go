package syncer

import (
	"maps"
	"slices"
	"time"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
)

// Status is a diagnostics snapshot of the engine.
type Status struct {
	PendingOperations int                  `json:"pendingOperations"`
	QueueLength       int                  `json:"queueLength"`
	IsProcessing      bool                 `json:"isProcessing"`
	OptimisticUpdates int                  `json:"optimisticUpdates"`
	LastSync          map[string]time.Time `json:"lastSync"`
	AuditLogSize      int                  `json:"auditLogSize"`
	DeferredRetries   int                  `json:"deferredRetries"`
	NextRetryAt       *time.Time           `json:"nextRetryAt,omitempty"`
	Conflicts         int                  `json:"conflicts"`
	Syncing           []string             `json:"syncing"`
	Notifications     hub.Metrics          `json:"notifications"`
}

// GetOperationStatus reports queue, snapshot and audit counters.
func (m *Manager) GetOperationStatus() Status {
	m.mu.Lock()
	st := Status{
		PendingOperations: len(m.pending),
		QueueLength:       m.queue.Len(),
		IsProcessing:      m.draining,
		LastSync:          maps.Clone(m.lastSync),
		DeferredRetries:   m.deferred.Len(),
		Syncing:           slices.Sorted(maps.Keys(m.syncing)),
	}
	if next, ok := m.deferred.NextReady(); ok {
		st.NextRetryAt = &next
	}
	m.mu.Unlock()

	st.OptimisticUpdates = m.applier.Outstanding()
	st.AuditLogSize = m.audit.Len()
	st.Conflicts = m.conflicts.Len()
	st.Notifications = m.hub.Metrics()
	return st
}

// PendingOperations returns copies of the operations not yet settled, queue order first.
func (m *Manager) PendingOperations() []entity.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.Operation, 0, len(m.pending))
	seen := make(map[string]bool, len(m.pending))
	for _, t := range m.queue.Values() {
		out = append(out, t.op.Snapshot())
		seen[t.op.ID] = true
	}
	rest := make([]entity.Operation, 0)
	for id, t := range m.pending {
		if !seen[id] {
			rest = append(rest, t.op.Snapshot())
		}
	}
	slices.SortFunc(rest, func(a, b entity.Operation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return append(out, rest...)
}

// deliveryObserver reports subscriber failures. Registering it also turns on
// the hub counters surfaced in Status.
type deliveryObserver struct {
	logger log.Log
}

func (o *deliveryObserver) OnPublish(string, string) {}

func (o *deliveryObserver) OnDelivered(entityType, notificationType string, handlers int, err error, durationMicros int64) {
	if err == nil {
		return
	}
	o.logger.Warn("Subscriber delivery failed",
		log.String("entity_type", entityType),
		log.String("notification", notificationType),
		log.Int("handlers", handlers),
		log.Int64("duration_us", durationMicros),
		log.Error(err),
	)
}
