package xevent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store is the Strategy interface any persistence backend must satisfy.
// The bus drives writes; Replay reads. Implementations must be safe for
// concurrent use and must keep Query order stable for a given store state.
type Store interface {
	// Store appends or upserts an envelope keyed by metadata.eventId.
	Store(ctx context.Context, env *Envelope) error
	// Retrieve returns the envelope for an event id, or ErrEnvelopeNotFound.
	Retrieve(ctx context.Context, eventID string) (*Envelope, error)
	// Query returns envelopes whose metadata matches every filter entry.
	Query(ctx context.Context, filter Filter) ([]*Envelope, error)
	// Cleanup removes envelopes with metadata.timestamp before the cutoff
	// and returns the number removed.
	Cleanup(ctx context.Context, before time.Time) (int, error)
	// Close releases backend resources.
	Close(ctx context.Context) error
}

// StoreFactory constructs stores from a config blob.
type StoreFactory func(cfg map[string]any) (Store, error)

var (
	storeRegistryMu sync.RWMutex
	storeRegistry   = map[string]StoreFactory{
		"memory": func(map[string]any) (Store, error) { return NewMemoryStore(), nil },
	}
)

// RegisterStore registers a backend adapter.
func RegisterStore(name string, factory StoreFactory) error {
	if name == "" {
		return errors.New("store name must not be empty")
	}
	if factory == nil {
		return errors.New("store factory must not be nil")
	}
	storeRegistryMu.Lock()
	storeRegistry[name] = factory
	storeRegistryMu.Unlock()
	return nil
}

// NewStore constructs a store by provider name with config.
func NewStore(name string, cfg map[string]any) (Store, error) {
	storeRegistryMu.RLock()
	f, ok := storeRegistry[name]
	storeRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownStore{name: name}
	}
	return f(cfg)
}

// MemoryStore is the in-process reference Store. Query order is insertion order.
// Suitable for development, testing and single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Envelope
	order []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Envelope)}
}

func (s *MemoryStore) Store(_ context.Context, env *Envelope) error {
	if env == nil || env.Metadata.EventID == "" {
		return errors.New("xevent: envelope requires an event id")
	}

	cp := env.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[cp.Metadata.EventID]; !exists {
		s.order = append(s.order, cp.Metadata.EventID)
	}
	s.byID[cp.Metadata.EventID] = cp
	return nil
}

func (s *MemoryStore) Retrieve(_ context.Context, eventID string) (*Envelope, error) {
	s.mu.RLock()
	env, ok := s.byID[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrEnvelopeNotFound
	}
	return env.Clone(), nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Envelope
	for _, id := range s.order {
		env := s.byID[id]
		if filter.Matches(env.Metadata) {
			out = append(out, env.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Cleanup(_ context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		env := s.byID[id]
		if env.Metadata.Timestamp < cutoff {
			delete(s.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// Len returns the number of stored envelopes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
