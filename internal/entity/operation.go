package entity

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is the mutation an Operation carries.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, c := range []Kind{KindCreate, KindUpdate, KindDelete} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidOperation, text)
}

// Method returns the HTTP method the kind is sent with.
func (k Kind) Method() string {
	switch k {
	case KindCreate:
		return http.MethodPost
	case KindUpdate:
		return http.MethodPatch
	case KindDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// State is the lifecycle position of an Operation.
type State uint8

const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateRolledBack
	StateRetryScheduled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateRolledBack:
		return "ROLLED_BACK"
	case StateRetryScheduled:
		return "RETRY_SCHEDULED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := StatePending; c <= StateRetryScheduled; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("%w: unknown operation state %q", ErrInvalidOperation, text)
}

// Operation is one unit of pending work.
type Operation struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	EntityType     string    `json:"entityType"`
	EntityID       string    `json:"entityId"`
	Payload        Record    `json:"payload,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	RetryCount     int       `json:"retryCount"`
	Optimistic     bool      `json:"optimistic"`
	RetryOnFailure bool      `json:"retryOnFailure"`
	State          State     `json:"state"`
}

// Path returns the API path the operation is sent to, relative to /api.
func (op *Operation) Path() string {
	if op.Kind == KindCreate {
		return "/" + op.EntityType
	}
	return "/" + op.EntityType + "/" + op.EntityID
}

// Body returns the request body, nil for deletes.
func (op *Operation) Body() any {
	if op.Kind == KindDelete || op.Payload == nil {
		return nil
	}
	return op.Payload
}

// Snapshot returns a copy safe to hand to observers.
func (op *Operation) Snapshot() Operation {
	cp := *op
	cp.Payload = op.Payload.Clone()
	return cp
}
