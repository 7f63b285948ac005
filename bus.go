package xevent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ API = (*Bus)(nil)
var _ HealthChecker = (*Bus)(nil)

// Bus is the central coordinator: it validates payloads via the schema
// Registry, persists envelopes to an optional Store, dispatches to matching
// subscriptions in registration order, and routes handler failures to an
// optional DeadLetterQueue.
//
// All mutating operations are serialized internally; concurrent callers need
// no external coordination. Handlers must not call Emit synchronously on the
// same bus — spawn a goroutine to chain events.
type Bus struct {
	name        string
	registry    *Registry
	store       Store
	dlq         *DeadLetterQueue
	clock       xclock.Clock
	logger      *xlog.Logger
	middlewares []Middleware
	defaults    Metadata
	metricsOff  bool

	// emitMu serializes the validate -> persist -> dispatch pipeline so a
	// second Emit cannot observe partial side effects of an earlier one.
	emitMu        sync.Mutex
	lastTimestamp int64

	subsMu   sync.RWMutex
	subs     map[string][]*subscription
	subIndex map[string]*subscription

	observersMu  sync.RWMutex
	observers    []Observer
	observerPool *ObserverPool

	metrics     busMetrics
	startedAt   time.Time
	destroyed   atomic.Bool
	destroyOnce sync.Once
}

// busMetrics uses lock-free atomics so Stats never contends with Emit.
type busMetrics struct {
	totalEvents  atomic.Uint64
	failedEvents atomic.Uint64
	dispatchNs   atomic.Int64
}

type subscription struct {
	id        string
	eventName string
	filter    Filter
	handler   Handler
}

// BusStats is a read-only snapshot of bus activity.
type BusStats struct {
	TotalEvents         uint64
	EventsPerSecond     float64
	ActiveSubscriptions int
	FailedEvents        uint64
	AvgLatencyMs        float64
}

// HealthStatus indicates bus health for production monitoring.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Stats     BusStats
	Timestamp time.Time
	Message   string
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xevent bus surface for extensibility.
type API interface {
	RegisterSchema(s Schema) error
	Emit(ctx context.Context, name string, payload map[string]any, overrides Metadata) (string, error)
	Subscribe(name string, handler Handler, opts ...SubscribeOption) (string, error)
	Unsubscribe(subscriptionID string)
	Stats() BusStats
	ReplayEvents(ctx context.Context, opts ReplayOptions) (int, error)
	Destroy(ctx context.Context) error
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

// Registry returns the schema registry backing this bus.
func (b *Bus) Registry() *Registry { return b.registry }

// DLQ returns the dead-letter queue, or nil when disabled.
func (b *Bus) DLQ() *DeadLetterQueue { return b.dlq }

// PersistenceStore returns the store, or nil when persistence is disabled.
func (b *Bus) PersistenceStore() Store { return b.store }

// RegisterSchema delegates to the schema registry.
func (b *Bus) RegisterSchema(s Schema) error {
	if b.destroyed.Load() {
		return ErrBusDestroyed
	}
	return b.registry.Register(s)
}

// Emit publishes an event through the bus and returns its assigned event id.
//
// Pipeline: generate id and timestamp, merge overrides with bus defaults,
// validate against a registered schema (opt-in per event type — unregistered
// names pass through), persist before returning so an immediately-subsequent
// Retrieve/Query observes the envelope, then dispatch to matching
// subscriptions in registration order.
//
// A ValidationError or PersistenceError leaves no partial state: nothing is
// persisted and no handler runs. A store write failure fails the emit rather
// than degrading silently — at-least-once replay is anchored on the durable
// write. Handler failures never propagate; they are dead-lettered.
func (b *Bus) Emit(ctx context.Context, name string, payload map[string]any, overrides Metadata) (string, error) {
	if b.destroyed.Load() {
		return "", ErrBusDestroyed
	}
	if name == "" {
		return "", ErrInvalidEventName
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	if b.destroyed.Load() {
		return "", ErrBusDestroyed
	}

	meta := b.mergeMetadata(overrides)
	meta.EventID = uuid.NewString()
	meta.Timestamp = b.nextTimestamp()

	if _, registered := b.registry.Get(name, meta.Version); registered {
		res := b.registry.Validate(name, meta.Version, payload)
		if !res.Valid {
			verr := &ValidationError{Event: name, Version: meta.Version, Errors: res.Errors}
			b.notifyAsync(Notification{
				Type:      EventRejected,
				Bus:       b.name,
				EventName: name,
				TenantID:  meta.TenantID,
				Err:       verr,
			})
			return "", verr
		}
	}

	env := &Envelope{
		Metadata: meta,
		Payload:  clonePayload(payload),
		Schema:   SchemaRef(name, meta.Version),
	}

	if b.store != nil {
		if err := b.store.Store(ctx, env); err != nil {
			perr := &PersistenceError{EventID: meta.EventID, Err: err}
			b.logger.Warn().Str("event_id", meta.EventID).Err(err).Msg("xevent: persist failed, emit rejected")
			b.notifyAsync(Notification{
				Type:      EventRejected,
				Bus:       b.name,
				EventID:   meta.EventID,
				EventName: name,
				TenantID:  meta.TenantID,
				Err:       perr,
			})
			return "", perr
		}
		b.notifyAsync(Notification{
			Type:      EventPersisted,
			Bus:       b.name,
			EventID:   meta.EventID,
			EventName: name,
			TenantID:  meta.TenantID,
		})
	}

	start := b.clock.Now()
	b.dispatch(ctx, name, env, b.subscriptionsFor(name))
	duration := b.clock.Since(start)

	b.metrics.totalEvents.Add(1)
	if !b.metricsOff {
		b.recordDispatchTime(duration.Nanoseconds())
	}

	b.notifyAsync(Notification{
		Type:      EventEmitted,
		Bus:       b.name,
		EventID:   meta.EventID,
		EventName: name,
		TenantID:  meta.TenantID,
		Duration:  duration,
	})

	return meta.EventID, nil
}

// mergeMetadata overlays caller overrides on process/session defaults.
// Zero-valued override fields fall back to the bus defaults.
func (b *Bus) mergeMetadata(o Metadata) Metadata {
	m := Metadata{
		TenantID:      o.TenantID,
		AppID:         o.AppID,
		UserID:        o.UserID,
		CorrelationID: o.CorrelationID,
		Version:       o.Version,
		Source:        o.Source,
	}
	if m.TenantID == "" {
		m.TenantID = b.defaults.TenantID
	}
	if m.AppID == "" {
		m.AppID = b.defaults.AppID
	}
	if m.Version == "" {
		m.Version = b.defaults.Version
	}
	if m.Source == "" {
		m.Source = b.defaults.Source
	}
	if len(o.Tags) > 0 {
		m.Tags = make(map[string]string, len(o.Tags))
		for k, v := range o.Tags {
			m.Tags[k] = v
		}
	}
	return m
}

// nextTimestamp returns unix-millis timestamps that are strictly monotonic
// within the process, even when the clock stalls. Callers hold emitMu.
func (b *Bus) nextTimestamp() int64 {
	ts := b.clock.Now().UnixMilli()
	if ts <= b.lastTimestamp {
		ts = b.lastTimestamp + 1
	}
	b.lastTimestamp = ts
	return ts
}

// dispatch invokes every matching subscription in registration order.
// Each handler is isolated: an error or panic from one never prevents
// delivery to the rest, and is routed to the DLQ when one is configured.
func (b *Bus) dispatch(ctx context.Context, name string, env *Envelope, subs []*subscription) {
	if len(subs) == 0 {
		return
	}

	hctx := injectClock(injectLogger(ctx, b.logger), b.clock)

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter.Matches(env.Metadata) {
			continue
		}

		handler := Chain(RecoveryMiddleware()(sub.handler), b.middlewares...)
		if err := handler(hctx, env.Clone()); err != nil {
			b.metrics.failedEvents.Add(1)
			b.logger.Warn().
				Str("event_id", env.Metadata.EventID).
				Str("event_name", name).
				Str("subscription_id", sub.id).
				Err(err).
				Msg("xevent: handler failed")
			b.notifyAsync(Notification{
				Type:      EventHandlerError,
				Bus:       b.name,
				EventID:   env.Metadata.EventID,
				EventName: name,
				TenantID:  env.Metadata.TenantID,
				Err:       err,
			})
			if b.dlq != nil {
				b.dlq.Add(env, err)
				b.notifyAsync(Notification{
					Type:      EventDeadLettered,
					Bus:       b.name,
					EventID:   env.Metadata.EventID,
					EventName: name,
					TenantID:  env.Metadata.TenantID,
					Err:       err,
				})
			}
		}
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithFilter restricts delivery to envelopes whose metadata matches every
// filter entry (e.g. Filter{"tenantId": "acme"}).
func WithFilter(f Filter) SubscribeOption {
	return func(s *subscription) { s.filter = f }
}

// Subscribe registers a handler for an event name and returns the
// subscription id. Past events are not replayed to new subscribers.
func (b *Bus) Subscribe(name string, handler Handler, opts ...SubscribeOption) (string, error) {
	if b.destroyed.Load() {
		return "", ErrBusDestroyed
	}
	if name == "" || handler == nil {
		return "", ErrInvalidSubscription
	}

	sub := &subscription{
		id:        uuid.NewString(),
		eventName: name,
		handler:   handler,
	}
	for _, o := range opts {
		if o != nil {
			o(sub)
		}
	}

	b.subsMu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.subIndex[sub.id] = sub
	b.subsMu.Unlock()

	return sub.id, nil
}

// Unsubscribe removes a subscription. Removing an unknown or already removed
// id is a no-op.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	sub, ok := b.subIndex[subscriptionID]
	if !ok {
		return
	}
	delete(b.subIndex, subscriptionID)

	list := b.subs[sub.eventName]
	for i, s := range list {
		if s.id == subscriptionID {
			b.subs[sub.eventName] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.eventName]) == 0 {
		delete(b.subs, sub.eventName)
	}
}

// subscriptionsFor snapshots the registration-ordered subscriptions for an event name.
func (b *Bus) subscriptionsFor(name string) []*subscription {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	list := b.subs[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]*subscription, len(list))
	copy(out, list)
	return out
}

// Stats returns a read-only snapshot of bus activity.
func (b *Bus) Stats() BusStats {
	b.subsMu.RLock()
	active := len(b.subIndex)
	b.subsMu.RUnlock()

	total := b.metrics.totalEvents.Load()
	elapsed := b.clock.Since(b.startedAt).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(total) / elapsed
	}

	return BusStats{
		TotalEvents:         total,
		EventsPerSecond:     rate,
		ActiveSubscriptions: active,
		FailedEvents:        b.metrics.failedEvents.Load(),
		AvgLatencyMs:        float64(b.metrics.dispatchNs.Load()) / 1e6,
	}
}

// Health checks bus health for liveness/readiness probes.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	if b.destroyed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "bus is destroyed",
		}
	}

	stats := b.Stats()
	status := "healthy"

	// Degraded if handler failure rate > 5%
	if stats.FailedEvents > 0 && stats.TotalEvents > 0 {
		failureRate := float64(stats.FailedEvents) / float64(stats.TotalEvents)
		if failureRate > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Stats:     stats,
		Timestamp: time.Now(),
	}
}

// Destroy stops accepting new emits, drains in-flight work, clears
// subscriptions and releases the store and observer pool.
// Subsequent operations fail with ErrBusDestroyed. Idempotent.
func (b *Bus) Destroy(ctx context.Context) error {
	var destroyErr error

	b.destroyOnce.Do(func() {
		b.destroyed.Store(true)

		// Wait out any in-flight emit before tearing state down.
		b.emitMu.Lock()
		b.emitMu.Unlock()

		b.subsMu.Lock()
		b.subs = make(map[string][]*subscription)
		b.subIndex = make(map[string]*subscription)
		b.subsMu.Unlock()

		b.notifyAsync(Notification{Type: SystemDestroy, Bus: b.name})

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xevent: observer pool shutdown timeout")
				destroyErr = err
			}
		}

		if b.store != nil {
			if err := b.store.Close(ctx); err != nil {
				b.logger.Error().Err(err).Msg("xevent: store close failed")
				destroyErr = err
			}
		}
	})

	return destroyErr
}

// AddObserver registers an audit/telemetry observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches notifications without blocking the emit path.
func (b *Bus) notifyAsync(n Notification) {
	if b.observerPool == nil {
		return
	}

	b.observersMu.RLock()
	count := len(b.observers)
	if count == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, count)
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(n, observers)
}

// recordDispatchTime maintains an exponential moving average of dispatch latency.
func (b *Bus) recordDispatchTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := b.metrics.dispatchNs.Load()
	if current == 0 {
		b.metrics.dispatchNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	b.metrics.dispatchNs.Store(newAvg)
}
