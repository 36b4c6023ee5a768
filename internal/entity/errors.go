package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("entity not found")
	ErrDuplicateID      = errors.New("entity id already exists")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrEmptyEntityType  = errors.New("entity type is required")
	ErrInvalidOperation = errors.New("invalid operation")
)

// NotFoundError is returned when an update or delete targets an id missing locally.
type NotFoundError struct {
	EntityType string
	EntityID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s not found", e.EntityType, e.EntityID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
