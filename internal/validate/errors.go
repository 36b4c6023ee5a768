package validate

import (
	"errors"
	"strings"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrSchemaCompile = errors.New("schema compile failed")
)

// ValidationError is returned to the caller when a payload is rejected.
type ValidationError struct {
	EntityType string
	Errors     []string
}

func (e *ValidationError) Error() string {
	return "Validation failed: " + strings.Join(e.Errors, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
