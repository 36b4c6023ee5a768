package resolver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/entitysync/internal/entity"
)

const (
	PolicyServerWins  = "server-wins"
	PolicyKeepPending = "keep-pending"

	DefaultRecorderCapacity = 256
)

// Conflict describes an entity whose server value diverged from a local value
// that still has an operation outstanding. A nil Local or Server means absent.
type Conflict struct {
	EntityType   string        `json:"entityType"`
	EntityID     string        `json:"entityId"`
	Local        entity.Record `json:"localData"`
	Server       entity.Record `json:"serverData"`
	OperationIDs []string      `json:"operationIds,omitempty"`
	DetectedAt   time.Time     `json:"detectedAt"`
}

// Resolver picks the value that goes into the store. A nil result removes the entity.
type Resolver interface {
	Resolve(c Conflict) entity.Record
	Policy() string
}

// ServerWins always keeps the server value.
type ServerWins struct{}

func (ServerWins) Resolve(c Conflict) entity.Record { return c.Server }
func (ServerWins) Policy() string                   { return PolicyServerWins }

// KeepPending keeps the local value while its operation is in flight. The
// server value still becomes the rollback target.
type KeepPending struct{}

func (KeepPending) Resolve(c Conflict) entity.Record { return c.Local }
func (KeepPending) Policy() string                   { return PolicyKeepPending }

// ForPolicy returns the resolver registered under name.
func ForPolicy(name string) (Resolver, error) {
	switch name {
	case "", PolicyServerWins:
		return ServerWins{}, nil
	case PolicyKeepPending:
		return KeepPending{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", name)
	}
}

// Fingerprint hashes the canonical JSON of a record. encoding/json sorts map
// keys, so equal records hash equally regardless of insertion order.
func Fingerprint(rec entity.Record) uint64 {
	if rec == nil {
		return 0
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return xxhash.Sum64String(fmt.Sprint(rec))
	}
	return xxhash.Sum64(data)
}

// Diverged reports whether two values differ.
func Diverged(local, server entity.Record) bool {
	if (local == nil) != (server == nil) {
		return true
	}
	return Fingerprint(local) != Fingerprint(server)
}

// Record is a resolved conflict kept for diagnostics.
type Record struct {
	ID       string        `json:"id"`
	Conflict Conflict      `json:"conflict"`
	Policy   string        `json:"policy"`
	Winner   entity.Record `json:"winner"`
	Resolved bool          `json:"resolved"`
}

// Recorder keeps the most recent conflict records.
type Recorder struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{capacity: capacity}
}

// Add stores a record, evicting the oldest when full.
func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == r.capacity {
		copy(r.records, r.records[1:])
		r.records = r.records[:len(r.records)-1]
	}
	r.records = append(r.records, rec)
}

// Records returns the records, oldest first.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// RecordID builds the record key from the entity and detection time.
func RecordID(c Conflict) string {
	return fmt.Sprintf("%s_%s_%d", c.EntityType, c.EntityID, c.DetectedAt.UnixMilli())
}
