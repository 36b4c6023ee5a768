package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/resolver"
)

// ForceSyncAll refreshes every configured entity type from the server. A
// failure for one type is logged and audited and does not stop the others;
// the returned error joins the per-type failures. The drain is restarted
// afterwards so operations held back by the resync proceed.
func (m *Manager) ForceSyncAll(ctx context.Context) error {
	m.logger.Info("Bulk resync started", log.Strings("entity_types", m.entityTypes))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(m.resyncConcurrency)
	for _, entityType := range m.entityTypes {
		g.Go(func() error {
			if err := m.syncType(ctx, entityType); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.kick()
	m.logger.Info("Bulk resync finished",
		log.Int("entity_types", len(m.entityTypes)),
		log.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// SyncEntityType refreshes one entity type and restarts the drain.
func (m *Manager) SyncEntityType(ctx context.Context, entityType string) error {
	err := m.syncType(ctx, entityType)
	m.kick()
	return err
}

func (m *Manager) syncType(ctx context.Context, entityType string) error {
	m.mu.Lock()
	if m.syncing[entityType] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSyncInProgress, entityType)
	}
	m.syncing[entityType] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.syncing, entityType)
		m.mu.Unlock()
	}()

	records, err := m.client.Fetch(ctx, entityType)
	if err != nil {
		m.audit.Append(audit.ActionResyncFailed, entityType, map[string]any{"error": err.Error()})
		m.logger.Error("Resync failed",
			log.String("entity_type", entityType),
			log.Error(err),
		)
		m.handleAuth("/"+entityType, err)
		return fmt.Errorf("resync %s: %w", entityType, err)
	}

	outstanding := m.outstandingIDs(entityType)
	var conflicts []resolver.Conflict
	var winners []entity.Record
	err = m.store.Update(entityType, func(current []entity.Record) ([]entity.Record, error) {
		conflicts, winners = nil, nil
		next := make([]entity.Record, 0, len(records))
		seen := make(map[string]bool, len(records))
		for _, server := range records {
			id := server.ID()
			seen[id] = true
			opIDs, busy := outstanding[id]
			if !busy {
				next = append(next, server)
				continue
			}
			local, _ := entity.Find(current, id)
			if !resolver.Diverged(local, server) {
				next = append(next, server)
				continue
			}
			c := m.conflict(entityType, id, local, server, opIDs)
			winner := m.resolver.Resolve(c)
			conflicts = append(conflicts, c)
			winners = append(winners, winner)
			if winner != nil {
				next = append(next, winner)
			}
		}
		// Entities with an outstanding operation that the server does not have yet.
		for _, local := range current {
			id := local.ID()
			opIDs, busy := outstanding[id]
			if !busy || seen[id] {
				continue
			}
			c := m.conflict(entityType, id, local, nil, opIDs)
			winner := m.resolver.Resolve(c)
			conflicts = append(conflicts, c)
			winners = append(winners, winner)
			if winner != nil {
				next = append(next, winner)
			}
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("resync %s: %w", entityType, err)
	}

	serverByID := make(map[string]entity.Record, len(records))
	for _, rec := range records {
		serverByID[rec.ID()] = rec
	}
	for id := range outstanding {
		m.applier.Rebase(entityType, id, serverByID[id])
	}
	for i, c := range conflicts {
		m.recordConflict(c, winners[i])
	}

	m.mu.Lock()
	m.lastSync[entityType] = m.now()
	m.mu.Unlock()
	m.logger.Info("Entity type resynced",
		log.String("entity_type", entityType),
		log.Int("records", len(records)),
		log.Int("conflicts", len(conflicts)),
	)
	return nil
}

// outstandingIDs maps entity ids with an unconfirmed optimistic operation to those operation ids.
func (m *Manager) outstandingIDs(entityType string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	for _, t := range m.pending {
		if t.op.EntityType == entityType && t.op.Optimistic {
			out[t.op.EntityID] = append(out[t.op.EntityID], t.op.ID)
		}
	}
	for _, ids := range out {
		slices.Sort(ids)
	}
	return out
}

func (m *Manager) conflict(entityType, id string, local, server entity.Record, opIDs []string) resolver.Conflict {
	return resolver.Conflict{
		EntityType:   entityType,
		EntityID:     id,
		Local:        local.Clone(),
		Server:       server.Clone(),
		OperationIDs: opIDs,
		DetectedAt:   m.now(),
	}
}

func (m *Manager) recordConflict(c resolver.Conflict, winner entity.Record) {
	m.conflicts.Add(resolver.Record{
		ID:       resolver.RecordID(c),
		Conflict: c,
		Policy:   m.resolver.Policy(),
		Winner:   winner,
		Resolved: true,
	})
	m.audit.Append(audit.ActionConflict, c.EntityType, map[string]any{
		"entityId":     c.EntityID,
		"policy":       m.resolver.Policy(),
		"operationIds": c.OperationIDs,
	})
	m.logger.Warn("Conflict detected during resync",
		log.String("entity_type", c.EntityType),
		log.String("entity_id", c.EntityID),
		log.String("policy", m.resolver.Policy()),
	)
}
