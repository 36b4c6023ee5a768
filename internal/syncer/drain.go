package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/retry"
)

// ProcessQueue drains the operation queue. Only one drain runs at a time; a
// call made while another drain is active returns immediately. The drain stops
// when the queue is empty or when the head operation targets an entity type
// that is being resynced; in that case the operation keeps its position and
// the drain is restarted once the resync finishes.
//
// A cancelled ctx puts the current operation back at the head and returns the
// context error. Unless ctx is the Manager's own, the remaining queue is handed
// to a background drain so other callers' operations keep moving.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	m.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			m.abandonDrain(ctx)
			return err
		}

		m.mu.Lock()
		m.promoteDeferredLocked()
		t, ok := m.queue.PopFront()
		if !ok {
			m.draining = false
			m.mu.Unlock()
			return nil
		}
		if m.syncing[t.op.EntityType] {
			m.queue.PushFront(t)
			m.draining = false
			m.mu.Unlock()
			m.logger.Debug("Drain deferred by resync",
				log.String("entity_type", t.op.EntityType),
				log.String("operation_id", t.op.ID),
			)
			return nil
		}
		t.op.State = entity.StateInFlight
		m.mu.Unlock()

		if err := m.execute(ctx, t); err != nil {
			m.abandonDrain(ctx)
			return err
		}
	}
}

// abandonDrain releases the drain after ctx ended it.
func (m *Manager) abandonDrain(ctx context.Context) {
	m.mu.Lock()
	m.draining = false
	handOff := ctx != m.baseCtx && !m.closed && m.queue.Len() > 0
	m.mu.Unlock()
	if handOff {
		m.kick()
	}
}

// promoteDeferredLocked moves parked retries whose delay elapsed to the queue tail.
func (m *Manager) promoteDeferredLocked() {
	if m.deferred.IsEmpty() {
		return
	}
	for _, t := range m.deferred.PopReady(m.now()) {
		t.op.State = entity.StatePending
		m.queue.PushBack(t)
	}
}

// execute dispatches one operation and settles its outcome. It only returns an
// error when ctx is done, after putting the operation back at the head.
func (m *Manager) execute(ctx context.Context, t *tracked) error {
	op := t.op
	m.logger.Debug("Dispatching operation",
		log.String("operation_id", op.ID),
		log.String("kind", op.Kind.String()),
		log.String("entity_type", op.EntityType),
		log.String("entity_id", op.EntityID),
		log.Int("retry_count", op.RetryCount),
	)

	reqCtx := log.ContextWithRequestID(ctx, op.ID)
	raw, err := m.client.Send(reqCtx, op.Kind.Method(), op.Path(), op.Body())
	if err == nil {
		m.succeed(t, raw)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		m.requeueHead(t)
		return ctxErr
	}

	decision := m.retry.Decide(op, err)
	if !decision.Retry {
		m.fail(t, err, decision.Reason)
		return nil
	}

	m.mu.Lock()
	op.RetryCount++
	op.State = entity.StateRetryScheduled
	retryCount := op.RetryCount
	m.mu.Unlock()

	m.audit.Append(audit.ActionOperationRetry, op.EntityType, map[string]any{
		"operationId": op.ID,
		"kind":        op.Kind.String(),
		"entityId":    op.EntityID,
		"retryCount":  retryCount,
		"delayMs":     decision.Delay.Milliseconds(),
		"error":       err.Error(),
	})
	m.logger.Warn("Operation failed, retry scheduled",
		log.String("operation_id", op.ID),
		log.String("entity_type", op.EntityType),
		log.Int("retry_count", retryCount),
		log.Duration("delay", decision.Delay),
		log.Error(err),
	)

	if m.retry.Mode() == retry.ModeDeferred {
		m.park(t, decision.Delay)
		return nil
	}
	if err = m.retry.Wait(ctx, decision.Delay); err != nil {
		m.requeueHead(t)
		return err
	}
	m.requeueHead(t)
	return nil
}

func (m *Manager) requeueHead(t *tracked) {
	m.mu.Lock()
	if t.gen != m.gen {
		m.mu.Unlock()
		m.dropCleared(t)
		return
	}
	t.op.State = entity.StatePending
	m.queue.PushFront(t)
	m.mu.Unlock()
}

// park holds a retried operation aside until delay elapses and schedules a drain for then.
func (m *Manager) park(t *tracked, delay time.Duration) {
	m.mu.Lock()
	if t.gen != m.gen {
		m.mu.Unlock()
		m.dropCleared(t)
		return
	}
	m.deferred.Push(t, m.now().Add(delay))
	m.mu.Unlock()
	time.AfterFunc(delay, m.kick)
}

// dropCleared settles an operation that was in flight when ClearAll ran.
func (m *Manager) dropCleared(t *tracked) {
	m.logger.Debug("Dropping operation discarded by clear",
		log.String("operation_id", t.op.ID),
		log.String("entity_type", t.op.EntityType),
	)
	t.finish(ErrCleared)
}

func (m *Manager) succeed(t *tracked, reply json.RawMessage) {
	op := t.op
	m.mu.Lock()
	delete(m.pending, op.ID)
	op.State = entity.StateSucceeded
	m.lastSync[op.EntityType] = m.now()
	m.mu.Unlock()

	if op.Optimistic {
		m.applier.Discard(op.ID)
	} else if err := m.commitConfirmed(op, reply); err != nil {
		m.logger.Error("Failed to apply confirmed operation",
			log.String("operation_id", op.ID),
			log.Error(err),
		)
	}

	m.audit.Append(audit.ActionOperationSucceeded, op.EntityType, map[string]any{
		"operationId": op.ID,
		"kind":        op.Kind.String(),
		"entityId":    op.EntityID,
		"retryCount":  op.RetryCount,
	})
	m.logger.Info("Operation succeeded",
		log.String("operation_id", op.ID),
		log.String("kind", op.Kind.String()),
		log.String("entity_type", op.EntityType),
		log.String("entity_id", op.EntityID),
	)
	t.finish(nil)
}

// commitConfirmed writes a non-optimistic operation once the server accepted it.
// A record echoed back for the same id wins over the sent payload.
func (m *Manager) commitConfirmed(op *entity.Operation, reply json.RawMessage) error {
	confirmed := op.Payload
	if op.Kind != entity.KindDelete {
		echo, err := client.DecodeRecord(reply)
		if err != nil {
			m.logger.Debug("Ignoring undecodable reply",
				log.String("operation_id", op.ID),
				log.Error(err),
			)
		} else if echo.ID() == op.EntityID {
			confirmed = op.Payload.Merge(echo)
		}
	}
	return m.store.Update(op.EntityType, func(current []entity.Record) ([]entity.Record, error) {
		i := entity.IndexOf(current, op.EntityID)
		switch op.Kind {
		case entity.KindCreate:
			if i >= 0 {
				current[i] = confirmed.Clone()
				return current, nil
			}
			return append(current, confirmed.Clone()), nil
		case entity.KindUpdate:
			if i < 0 {
				return nil, &entity.NotFoundError{EntityType: op.EntityType, EntityID: op.EntityID}
			}
			current[i] = current[i].Merge(confirmed)
			return current, nil
		case entity.KindDelete:
			if i < 0 {
				return current, nil
			}
			return append(current[:i], current[i+1:]...), nil
		default:
			return nil, ErrUnknownOperation
		}
	})
}

// fail rolls back a terminally failed operation and tells subscribers.
func (m *Manager) fail(t *tracked, cause error, reason string) {
	op := t.op
	rolledBack, rbErr := m.applier.Rollback(op.ID)
	if rbErr != nil {
		m.logger.Error("Rollback failed",
			log.String("operation_id", op.ID),
			log.Error(rbErr),
		)
	}

	m.mu.Lock()
	delete(m.pending, op.ID)
	op.State = entity.StateRolledBack
	snapshot := op.Snapshot()
	m.mu.Unlock()

	m.audit.Append(audit.ActionOperationFailed, op.EntityType, map[string]any{
		"operationId": op.ID,
		"kind":        op.Kind.String(),
		"entityId":    op.EntityID,
		"retryCount":  op.RetryCount,
		"error":       cause.Error(),
		"errorKind":   client.KindOf(cause).String(),
		"reason":      reason,
		"rolledBack":  rolledBack,
	})
	m.logger.Error("Operation failed",
		log.String("operation_id", op.ID),
		log.String("kind", op.Kind.String()),
		log.String("entity_type", op.EntityType),
		log.String("entity_id", op.EntityID),
		log.Int("retry_count", op.RetryCount),
		log.String("reason", reason),
		log.Error(cause),
	)

	if err := m.hub.Publish(hub.Notification{
		Type:       hub.TypeOperationFailed,
		EntityType: op.EntityType,
		Operation:  &snapshot,
		Error:      cause.Error(),
		Timestamp:  m.now(),
	}); err != nil {
		m.logger.Warn("Subscriber failed on operation failure", log.Error(err))
	}

	m.handleAuth(op.Path(), cause)
	t.finish(cause)
}

// handleAuth hands an expired session to the guard. Permission failures never reach it.
func (m *Manager) handleAuth(path string, err error) {
	if !errors.Is(err, client.ErrAuthExpired) {
		return
	}
	if _, gerr := m.guard.Handle(path, err); gerr != nil {
		m.logger.Warn("Session guard failed", log.Error(gerr))
	}
}
