package hub

import (
	"time"

	"github.com/zeusync/entitysync/internal/entity"
)

// Notification types delivered to subscribers.
const (
	TypeStateChange     = "STATE_CHANGE"
	TypeOperationFailed = "OPERATION_FAILED"
)

// Wildcard subscribes to notifications of every entity type.
const Wildcard = "*"

// Notification is the payload handed to a Handler.
//
// STATE_CHANGE carries Data and PreviousData. OPERATION_FAILED carries Operation
// and Error.
type Notification struct {
	Type         string            `json:"type"`
	EntityType   string            `json:"entityType"`
	Data         []entity.Record   `json:"data,omitempty"`
	PreviousData []entity.Record   `json:"previousData,omitempty"`
	Operation    *entity.Operation `json:"operation,omitempty"`
	Error        string            `json:"error,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Handler is invoked synchronously for each delivered notification. Returned
// errors are joined and reported to the publisher.
type Handler func(Notification) error

// Subscription is a registered handler bound to an entity type.
type Subscription interface {
	ID() string
	EntityType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// Observer receives delivery callbacks. Metrics are only collected while at
// least one observer is registered.
type Observer interface {
	OnPublish(entityType, notificationType string)
	OnDelivered(entityType, notificationType string, handlers int, err error, durationMicros int64)
}

// Metrics is a snapshot of the hub counters.
type Metrics struct {
	Published         uint64 `json:"published"`
	DeliveredHandlers uint64 `json:"deliveredHandlers"`
	Errors            uint64 `json:"errors"`
	Panics            uint64 `json:"panics"`
}
