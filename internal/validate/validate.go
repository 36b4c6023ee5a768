package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/zeusync/entitysync/internal/entity"
)

// Mode selects how required fields are treated.
type Mode uint8

const (
	// Full checks a complete record: required fields must be present.
	Full Mode = iota
	// Partial checks a patch: only the fields present are checked.
	Partial
)

func (m Mode) String() string {
	if m == Partial {
		return "partial"
	}
	return "full"
}

// Result is the outcome of validating one payload.
type Result struct {
	OK     bool
	Errors []string
}

// Validator checks one entity kind.
type Validator interface {
	Validate(payload entity.Record, mode Mode) Result
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(payload entity.Record, mode Mode) Result

func (f ValidatorFunc) Validate(payload entity.Record, mode Mode) Result {
	return f(payload, mode)
}

// Registry dispatches validation by entity type. Types without validators pass.
type Registry struct {
	mu         sync.RWMutex
	validators map[string][]Validator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string][]Validator)}
}

// NewDefaultRegistry returns a registry with the builtin rules installed.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// Register appends v to the validators of entityType.
func (r *Registry) Register(entityType string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[entityType] = append(r.validators[entityType], v)
}

// Types returns the entity types with at least one validator.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.validators))
	for t := range r.validators {
		out = append(out, t)
	}
	return out
}

// Validate runs every validator registered for entityType and merges the errors.
func (r *Registry) Validate(entityType string, payload entity.Record, mode Mode) Result {
	r.mu.RLock()
	vs := r.validators[entityType]
	r.mu.RUnlock()

	var errs []string
	for _, v := range vs {
		res := v.Validate(payload, mode)
		if !res.OK {
			errs = append(errs, res.Errors...)
		}
	}
	return Result{OK: len(errs) == 0, Errors: errs}
}

// Check is Validate returning a *ValidationError on rejection.
func (r *Registry) Check(entityType string, payload entity.Record, mode Mode) error {
	res := r.Validate(entityType, payload, mode)
	if res.OK {
		return nil
	}
	return &ValidationError{EntityType: entityType, Errors: res.Errors}
}

// Rules is a declarative validator: a required, non-blank text field plus
// fields that must be non-negative numbers when set.
type Rules struct {
	RequiredText string
	NonNegative  map[string]string // field -> message
}

func (rules Rules) Validate(payload entity.Record, mode Mode) Result {
	var errs []string
	if rules.RequiredText != "" {
		v, present := payload[rules.RequiredText]
		if mode == Full || present {
			if !nonBlank(v) {
				errs = append(errs, fmt.Sprintf("%s is required", capitalize(rules.RequiredText)))
			}
		}
	}
	for field, msg := range rules.NonNegative {
		v, present := payload[field]
		if !present || isZeroish(v) {
			continue
		}
		n, ok := toFloat(v)
		if !ok || n < 0 {
			errs = append(errs, msg)
		}
	}
	return Result{OK: len(errs) == 0, Errors: errs}
}

// RegisterBuiltins installs the clients, leads and projects rules.
func RegisterBuiltins(r *Registry) {
	r.Register("clients", Rules{
		RequiredText: "name",
		NonNegative:  map[string]string{"revenue": "Revenue must be a positive number"},
	})
	r.Register("leads", Rules{
		RequiredText: "name",
		NonNegative:  map[string]string{"value": "Value must be a positive number"},
	})
	r.Register("projects", Rules{
		RequiredText: "name",
		NonNegative:  map[string]string{"budget": "Budget must be a positive number"},
	})
}

func nonBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

// isZeroish reports values that count as unset for optional numeric fields.
func isZeroish(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case string:
		return n == ""
	case bool:
		return !n
	}
	f, ok := toFloat(v)
	return ok && f == 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
