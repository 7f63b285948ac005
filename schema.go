package xevent

import (
	"fmt"
	"sync"
)

// FieldError is a single field-level violation produced by a Validator.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// Validator is the Strategy for payload validation. Implementations report
// every violation, not just the first.
type Validator interface {
	Validate(payload map[string]any) []FieldError
}

// ValidatorFunc is an Adapter that lets a plain function satisfy Validator.
type ValidatorFunc func(payload map[string]any) []FieldError

func (f ValidatorFunc) Validate(payload map[string]any) []FieldError { return f(payload) }

// Schema binds a named, versioned payload shape to its Validator.
type Schema struct {
	Name      string
	Version   string
	Validator Validator
}

// ValidationResult is the typed outcome of Registry.Validate.
// "Schema not found" is a normal result here, never an error.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Registry owns the mapping from (event name, version) to a payload validator.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register stores a validator keyed by (name, version).
// Re-registration of an existing key is rejected with DuplicateSchemaError:
// a registered validator is never silently replaced.
func (r *Registry) Register(s Schema) error {
	if s.Name == "" {
		return ErrInvalidEventName
	}
	if s.Validator == nil {
		return fmt.Errorf("xevent: schema %s has no validator", SchemaRef(s.Name, s.Version))
	}

	key := SchemaRef(s.Name, s.Version)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[key]; exists {
		return DuplicateSchemaError{Name: s.Name, Version: s.Version}
	}
	r.schemas[key] = s
	return nil
}

// Get returns the schema for (name, version) and whether it is registered.
func (r *Registry) Get(name, version string) (Schema, bool) {
	r.mu.RLock()
	s, ok := r.schemas[SchemaRef(name, version)]
	r.mu.RUnlock()
	return s, ok
}

// Validate runs the registered validator for (name, version) against payload.
// An unregistered pair yields {Valid: false, Errors: ["Schema not found"]}.
func (r *Registry) Validate(name, version string, payload map[string]any) ValidationResult {
	s, ok := r.Get(name, version)
	if !ok {
		return ValidationResult{Valid: false, Errors: []string{"Schema not found"}}
	}

	violations := s.Validator.Validate(payload)
	if len(violations) == 0 {
		return ValidationResult{Valid: true}
	}

	errs := make([]string, len(violations))
	for i, v := range violations {
		errs[i] = v.String()
	}
	return ValidationResult{Valid: false, Errors: errs}
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
