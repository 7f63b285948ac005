package xevent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusDestroyed is returned by operations attempted after Destroy.
	ErrBusDestroyed = errors.New("xevent: bus destroyed")
	// ErrInvalidEventName is returned when an event name is empty.
	ErrInvalidEventName = errors.New("xevent: event name must not be empty")
	// ErrInvalidSubscription is returned when Subscribe is given a nil handler.
	ErrInvalidSubscription = errors.New("xevent: subscription requires an event name and handler")
	// ErrEnvelopeNotFound is returned by Store.Retrieve for unknown event ids.
	ErrEnvelopeNotFound = errors.New("xevent: envelope not found")
	// ErrObserverPoolShutdownTimeout is returned when the notification pool fails to drain in time.
	ErrObserverPoolShutdownTimeout = errors.New("xevent: observer pool shutdown timeout")
)

// DuplicateSchemaError reports an attempt to re-register an already registered (name, version).
type DuplicateSchemaError struct {
	Name    string
	Version string
}

func (e DuplicateSchemaError) Error() string {
	return fmt.Sprintf("xevent: schema %s already registered", SchemaRef(e.Name, e.Version))
}

// ValidationError rejects an emit whose payload failed a registered schema.
// The event is neither persisted nor dispatched.
type ValidationError struct {
	Event   string
	Version string
	Errors  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("xevent: validation failed for %s: %s",
		SchemaRef(e.Event, e.Version), strings.Join(e.Errors, "; "))
}

// PersistenceError wraps a store write failure surfaced to the Emit caller.
type PersistenceError struct {
	EventID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("xevent: persist %s: %v", e.EventID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type ErrUnknownStore struct{ name string }

func (e ErrUnknownStore) Error() string { return fmt.Sprintf("unknown store: %s", e.name) }
