package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/optimistic"
	"github.com/zeusync/entitysync/internal/resolver"
	"github.com/zeusync/entitysync/internal/retry"
	"github.com/zeusync/entitysync/internal/session"
	"github.com/zeusync/entitysync/internal/store"
	"github.com/zeusync/entitysync/internal/validate"
	"github.com/zeusync/entitysync/pkg/sequence"
)

// DefaultEntityTypes is the set refreshed by ForceSyncAll unless configured otherwise.
var DefaultEntityTypes = []string{"clients", "leads", "projects", "invoices", "timeEntries", "users"}

// Deps are the collaborators of a Manager. Client is required; the rest
// default to fresh instances. When Store is supplied, Audit and Hub must be the
// ones it was built with.
type Deps struct {
	Store     *store.Store
	Audit     *audit.Log
	Hub       *hub.Hub
	Validator *validate.Registry
	Applier   *optimistic.Applier
	Retry     *retry.Controller
	Client    client.Sender
	Resolver  resolver.Resolver
	Conflicts *resolver.Recorder
	Guard     *session.Guard
	Logger    log.Log
}

// Option tunes a Manager.
type Option func(*Manager)

// WithEntityTypes replaces the types refreshed by ForceSyncAll.
func WithEntityTypes(types ...string) Option {
	return func(m *Manager) {
		if len(types) > 0 {
			m.entityTypes = append([]string(nil), types...)
		}
	}
}

// WithResyncConcurrency bounds parallel fetches during ForceSyncAll.
func WithResyncConcurrency(n int) Option {
	return func(m *Manager) { m.resyncConcurrency = max(n, 1) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// tracked is a queued operation plus the completion signal awaited callers block on.
// gen is the clear generation the operation was queued in.
type tracked struct {
	op   *entity.Operation
	done chan struct{}
	err  error
	gen  uint64
}

func (t *tracked) finish(err error) {
	t.err = err
	close(t.done)
}

// Manager is the synchronization engine: it validates and applies mutations,
// queues them, drains the queue through the client and refreshes collections.
type Manager struct {
	store     *store.Store
	audit     *audit.Log
	hub       *hub.Hub
	validator *validate.Registry
	applier   *optimistic.Applier
	retry     *retry.Controller
	client    client.Sender
	resolver  resolver.Resolver
	conflicts *resolver.Recorder
	guard     *session.Guard
	logger    log.Log
	now       func() time.Time

	entityTypes       []string
	resyncConcurrency int

	// mu guards the fields below. It is never held across a network call, a
	// store write or a notification.
	mu       sync.Mutex
	queue    *sequence.Deque[*tracked]
	deferred *sequence.DelayQueue[*tracked]
	pending  map[string]*tracked
	draining bool
	syncing  map[string]bool
	lastSync map[string]time.Time
	closed   bool
	gen      uint64

	observer hub.Observer

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Client == nil {
		return nil, ErrNoClient
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.New(audit.DefaultCapacity)
	}
	if deps.Hub == nil {
		deps.Hub = hub.New()
	}
	if deps.Store == nil {
		deps.Store = store.New(deps.Audit, deps.Hub, deps.Logger)
	}
	if deps.Applier == nil {
		deps.Applier = optimistic.New(deps.Store, deps.Logger)
	}
	if deps.Validator == nil {
		deps.Validator = validate.NewDefaultRegistry()
	}
	if deps.Retry == nil {
		deps.Retry = retry.New()
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.ServerWins{}
	}
	if deps.Conflicts == nil {
		deps.Conflicts = resolver.NewRecorder(resolver.DefaultRecorderCapacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:             deps.Store,
		audit:             deps.Audit,
		hub:               deps.Hub,
		validator:         deps.Validator,
		applier:           deps.Applier,
		retry:             deps.Retry,
		client:            deps.Client,
		resolver:          deps.Resolver,
		conflicts:         deps.Conflicts,
		guard:             deps.Guard,
		logger:            deps.Logger.With(log.String("component", "syncer")),
		now:               time.Now,
		entityTypes:       DefaultEntityTypes,
		resyncConcurrency: 1,
		queue:             sequence.NewDeque[*tracked](),
		deferred:          sequence.NewDelayQueue[*tracked](),
		pending:           make(map[string]*tracked),
		syncing:           make(map[string]bool),
		lastSync:          make(map[string]time.Time),
		baseCtx:           ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.observer = &deliveryObserver{logger: m.logger}
	m.hub.AddObserver(m.observer)
	return m, nil
}

// CreateEntity validates record, applies it optimistically and queues a CREATE.
// It returns the record as stored, including a generated id.
func (m *Manager) CreateEntity(ctx context.Context, entityType string, record entity.Record, opts ...entity.MutationOption) (entity.Record, error) {
	cfg := entity.ApplyMutationOptions(opts...)
	if entityType == "" {
		return nil, entity.ErrEmptyEntityType
	}
	rec := record.Clone()
	if rec == nil {
		rec = entity.Record{}
	}
	if !rec.HasID() {
		if !cfg.GenerateID {
			return nil, fmt.Errorf("%w: %s record has no id", entity.ErrInvalidRecord, entityType)
		}
		rec["id"] = uuid.NewString()
	}
	if err := m.check(entityType, rec, validate.Full, cfg); err != nil {
		return nil, err
	}
	id := rec.ID()
	if _, exists := m.store.Find(entityType, id); exists {
		return nil, fmt.Errorf("%w: %s/%s", entity.ErrDuplicateID, entityType, id)
	}

	op := m.newOperation(entity.KindCreate, entityType, id, rec, cfg)
	if err := m.submit(ctx, op, cfg); err != nil {
		return rec, err
	}
	return rec, nil
}

// UpdateEntity validates partial, merges it into the stored record and queues an UPDATE.
// It returns the merged record.
func (m *Manager) UpdateEntity(ctx context.Context, entityType, id string, partial entity.Record, opts ...entity.MutationOption) (entity.Record, error) {
	cfg := entity.ApplyMutationOptions(opts...)
	if entityType == "" {
		return nil, entity.ErrEmptyEntityType
	}
	patch := partial.Clone()
	if patch == nil {
		patch = entity.Record{}
	}
	delete(patch, "id")
	if err := m.check(entityType, patch, validate.Partial, cfg); err != nil {
		return nil, err
	}
	existing, ok := m.store.Find(entityType, id)
	if !ok {
		return nil, &entity.NotFoundError{EntityType: entityType, EntityID: id}
	}

	merged := existing.Merge(patch)
	op := m.newOperation(entity.KindUpdate, entityType, id, patch, cfg)
	if err := m.submit(ctx, op, cfg); err != nil {
		return merged, err
	}
	return merged, nil
}

// DeleteEntity removes the record optimistically and queues a DELETE.
func (m *Manager) DeleteEntity(ctx context.Context, entityType, id string, opts ...entity.MutationOption) error {
	cfg := entity.ApplyMutationOptions(opts...)
	if entityType == "" {
		return entity.ErrEmptyEntityType
	}
	existing, ok := m.store.Find(entityType, id)
	if !ok {
		return &entity.NotFoundError{EntityType: entityType, EntityID: id}
	}
	op := m.newOperation(entity.KindDelete, entityType, id, existing, cfg)
	return m.submit(ctx, op, cfg)
}

func (m *Manager) check(entityType string, payload entity.Record, mode validate.Mode, cfg entity.MutationConfig) error {
	if !cfg.Validate {
		return nil
	}
	err := m.validator.Check(entityType, payload, mode)
	if err == nil {
		return nil
	}
	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		m.audit.Append(audit.ActionValidationRejected, entityType, map[string]any{
			"errors": ve.Errors,
			"mode":   mode.String(),
		})
	}
	return err
}

func (m *Manager) newOperation(kind entity.Kind, entityType, id string, payload entity.Record, cfg entity.MutationConfig) *entity.Operation {
	return &entity.Operation{
		ID:             uuid.NewString(),
		Kind:           kind,
		EntityType:     entityType,
		EntityID:       id,
		Payload:        payload,
		CreatedAt:      m.now(),
		Optimistic:     cfg.Optimistic,
		RetryOnFailure: cfg.RetryOnFailure,
		State:          entity.StatePending,
	}
}

// submit applies the optimistic write, enqueues the operation and starts a drain.
func (m *Manager) submit(ctx context.Context, op *entity.Operation, cfg entity.MutationConfig) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if op.Optimistic {
		if err := m.applier.Apply(op); err != nil {
			return err
		}
	}

	t := &tracked{op: op, done: make(chan struct{})}
	m.mu.Lock()
	t.gen = m.gen
	m.pending[op.ID] = t
	m.queue.PushBack(t)
	m.mu.Unlock()

	m.kick()
	if !cfg.Await {
		return nil
	}
	// ctx only bounds the wait; the drain belongs to the Manager.
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.baseCtx.Done():
		select {
		case <-t.done:
			return t.err
		default:
			return ErrClosed
		}
	}
}

// kick starts a background drain owned by the Manager.
func (m *Manager) kick() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := m.ProcessQueue(m.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("Background drain stopped", log.Error(err))
		}
	}()
}

// GetState returns a copy of the collection.
func (m *Manager) GetState(entityType string) []entity.Record {
	return m.store.Get(entityType)
}

// SetState replaces a collection wholesale without validation.
func (m *Manager) SetState(entityType string, records []entity.Record) error {
	return m.store.Set(entityType, records)
}

// Subscribe registers handler for notifications about entityType (hub.Wildcard for all).
func (m *Manager) Subscribe(entityType string, handler hub.Handler) hub.Subscription {
	return m.hub.Subscribe(entityType, handler)
}

// Unsubscribe removes a subscription made with Subscribe.
func (m *Manager) Unsubscribe(entityType string, sub hub.Subscription) error {
	return m.hub.Unsubscribe(entityType, sub)
}

// Hub exposes the notification hub, e.g. for the change feed.
func (m *Manager) Hub() *hub.Hub {
	return m.hub
}

// AuditLog returns the retained audit entries, oldest first.
func (m *Manager) AuditLog() []audit.Entry {
	return m.audit.Entries()
}

// Conflicts returns the recorded resync conflicts, oldest first.
func (m *Manager) Conflicts() []resolver.Record {
	return m.conflicts.Records()
}

// ClearAll drops every collection, queued operation, snapshot, audit entry,
// conflict record and timestamp. Awaiting callers receive ErrCleared.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	var dropped []*tracked
	dropped = append(dropped, m.queue.Values()...)
	dropped = append(dropped, m.deferred.Values()...)
	m.queue.Clear()
	m.deferred.Clear()
	m.gen++
	m.pending = make(map[string]*tracked)
	m.syncing = make(map[string]bool)
	m.lastSync = make(map[string]time.Time)
	m.mu.Unlock()

	m.applier.Reset()
	m.store.Clear()
	m.audit.Reset()
	m.conflicts.Reset()
	for _, t := range dropped {
		t.finish(ErrCleared)
	}
	m.logger.Info("State cleared", log.Int("dropped_operations", len(dropped)))
}

// Close stops background drains and waits for them to return. Queued
// operations stay queued.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.hub.RemoveObserver(m.observer)
	return nil
}
