package optimistic

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/store"
)

var ErrDuplicateSnapshot = errors.New("snapshot already recorded for operation")

// Snapshot is the undo record of one optimistic write. A nil Prior means the
// entity did not exist before the write.
type Snapshot struct {
	OperationID string
	EntityType  string
	EntityID    string
	Prior       entity.Record
	PriorIndex  int
	CreatedAt   time.Time
}

// Applier performs speculative store writes and keeps exactly one snapshot per
// operation id until it is discarded or rolled back.
type Applier struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot

	store  *store.Store
	logger log.Log
	now    func() time.Time
}

func New(s *store.Store, logger log.Log) *Applier {
	return &Applier{
		snapshots: make(map[string]*Snapshot),
		store:     s,
		logger:    logger.With(log.String("component", "optimistic")),
		now:       time.Now,
	}
}

// ApplyCreate appends value to the collection.
func (a *Applier) ApplyCreate(entityType, entityID string, value entity.Record, operationID string) error {
	return a.apply(operationID, entityType, entityID, func(current []entity.Record, snap *Snapshot) ([]entity.Record, error) {
		if entity.IndexOf(current, entityID) >= 0 {
			return nil, fmt.Errorf("%w: %s/%s", entity.ErrDuplicateID, entityType, entityID)
		}
		snap.PriorIndex = len(current)
		return append(current, value.Clone()), nil
	})
}

// ApplyUpdate replaces the entity with prior merged with the partial payload.
func (a *Applier) ApplyUpdate(entityType, entityID string, partial entity.Record, operationID string) error {
	return a.apply(operationID, entityType, entityID, func(current []entity.Record, snap *Snapshot) ([]entity.Record, error) {
		i := entity.IndexOf(current, entityID)
		if i < 0 {
			return nil, &entity.NotFoundError{EntityType: entityType, EntityID: entityID}
		}
		snap.Prior = current[i].Clone()
		snap.PriorIndex = i
		current[i] = current[i].Merge(partial)
		return current, nil
	})
}

// ApplyDelete removes the entity.
func (a *Applier) ApplyDelete(entityType, entityID, operationID string) error {
	return a.apply(operationID, entityType, entityID, func(current []entity.Record, snap *Snapshot) ([]entity.Record, error) {
		i := entity.IndexOf(current, entityID)
		if i < 0 {
			return nil, &entity.NotFoundError{EntityType: entityType, EntityID: entityID}
		}
		snap.Prior = current[i].Clone()
		snap.PriorIndex = i
		return slices.Delete(current, i, i+1), nil
	})
}

func (a *Applier) apply(
	operationID, entityType, entityID string,
	mutate func([]entity.Record, *Snapshot) ([]entity.Record, error),
) error {
	a.mu.Lock()
	if _, exists := a.snapshots[operationID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSnapshot, operationID)
	}
	// Reserve the id so a concurrent apply with the same id fails fast.
	a.snapshots[operationID] = nil
	a.mu.Unlock()

	snap := &Snapshot{
		OperationID: operationID,
		EntityType:  entityType,
		EntityID:    entityID,
		CreatedAt:   a.now(),
	}
	err := a.store.Update(entityType, func(current []entity.Record) ([]entity.Record, error) {
		return mutate(current, snap)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		delete(a.snapshots, operationID)
		return err
	}
	a.snapshots[operationID] = snap
	a.logger.Debug("Optimistic write applied",
		log.String("operation_id", operationID),
		log.String("entity_type", entityType),
		log.String("entity_id", entityID),
	)
	return nil
}

// Apply writes the mutation an operation describes and records its snapshot.
func (a *Applier) Apply(op *entity.Operation) error {
	switch op.Kind {
	case entity.KindCreate:
		return a.ApplyCreate(op.EntityType, op.EntityID, op.Payload, op.ID)
	case entity.KindUpdate:
		return a.ApplyUpdate(op.EntityType, op.EntityID, op.Payload, op.ID)
	case entity.KindDelete:
		return a.ApplyDelete(op.EntityType, op.EntityID, op.ID)
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}

// Rollback restores the state recorded for operationID and consumes the
// snapshot. It reports false if there was nothing to roll back.
func (a *Applier) Rollback(operationID string) (bool, error) {
	a.mu.Lock()
	snap := a.snapshots[operationID]
	if snap == nil {
		a.mu.Unlock()
		return false, nil
	}
	delete(a.snapshots, operationID)
	a.mu.Unlock()

	err := a.store.Update(snap.EntityType, func(current []entity.Record) ([]entity.Record, error) {
		i := entity.IndexOf(current, snap.EntityID)
		switch {
		case snap.Prior == nil && i >= 0:
			return slices.Delete(current, i, i+1), nil
		case snap.Prior == nil:
			return current, nil
		case i >= 0:
			current[i] = snap.Prior.Clone()
			return current, nil
		default:
			at := min(max(snap.PriorIndex, 0), len(current))
			return slices.Insert(current, at, snap.Prior.Clone()), nil
		}
	})
	if err != nil {
		return false, err
	}
	a.logger.Debug("Optimistic write rolled back",
		log.String("operation_id", operationID),
		log.String("entity_type", snap.EntityType),
		log.String("entity_id", snap.EntityID),
		log.Duration("age", a.now().Sub(snap.CreatedAt)),
	)
	return true, nil
}

// Discard drops the snapshot of a confirmed operation.
func (a *Applier) Discard(operationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.snapshots[operationID]
	delete(a.snapshots, operationID)
	return ok && snap != nil
}

// Outstanding returns the number of snapshots not yet discarded or rolled back.
func (a *Applier) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, snap := range a.snapshots {
		if snap != nil {
			n++
		}
	}
	return n
}

// Rebase replaces the Prior of every outstanding snapshot of the entity with
// serverValue, so a later rollback restores the last server-confirmed state.
// A nil serverValue marks the entity as absent on the server.
func (a *Applier) Rebase(entityType, entityID string, serverValue entity.Record) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, snap := range a.snapshots {
		if snap == nil || snap.EntityType != entityType || snap.EntityID != entityID {
			continue
		}
		snap.Prior = serverValue.Clone()
		n++
	}
	return n
}

// Reset drops every snapshot without touching the store.
func (a *Applier) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.snapshots)
}
