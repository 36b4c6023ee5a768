package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries retained before the oldest are evicted.
const DefaultCapacity = 1000

// Action names recorded by the engine.
const (
	ActionStateChange        = "STATE_CHANGE"
	ActionOperationSucceeded = "OPERATION_SUCCEEDED"
	ActionOperationRetry     = "OPERATION_RETRY"
	ActionOperationFailed    = "OPERATION_FAILED"
	ActionValidationRejected = "VALIDATION_REJECTED"
	ActionConflict           = "CONFLICT"
	ActionResyncFailed       = "RESYNC_FAILED"
)

// Entry is an immutable audit record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actorId"`
}

// ActorFunc resolves the id of the current actor. An empty result is recorded as "anonymous".
type ActorFunc func() string

// Log is a fixed-capacity ring buffer of entries, oldest evicted first.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	head  int // index of the oldest entry
	size  int
	actor ActorFunc
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithActor sets the actor resolver.
func WithActor(fn ActorFunc) Option {
	return func(l *Log) { l.actor = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a log holding at most capacity entries. Non-positive capacity uses DefaultCapacity.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		buf: make([]Entry, capacity),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new entry and returns it.
func (l *Log) Append(action, entityType string, details map[string]any) Entry {
	actor := ""
	if l.actor != nil {
		actor = l.actor()
	}
	if actor == "" {
		actor = "anonymous"
	}
	e := Entry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		Details:    details,
		Timestamp:  l.now(),
		ActorID:    actor,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.head+l.size)%capacity] = e
		l.size++
	} else {
		l.buf[l.head] = e
		l.head = (l.head + 1) % capacity
	}
	return e
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the ring size.
func (l *Log) Capacity() int {
	return len(l.buf)
}

// Reset drops all entries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.head = 0
	l.size = 0
}
