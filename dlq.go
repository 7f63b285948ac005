package xevent

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DLQConfig controls dead-letter queue behavior.
type DLQConfig struct {
	// MaxRetries caps the per-entry retry counter. Retry calls past the cap
	// still run the handler but never increment the counter further.
	MaxRetries int
	// TTL is how long an unresolved entry survives, measured from FirstFailedAt.
	// Zero disables expiry.
	TTL time.Duration
	// AlertThreshold fires the alert callback once per upward crossing of the
	// active-entry count. Zero disables alerts.
	AlertThreshold int
}

// DLQEntry is a failed delivery pending retry or expiry.
type DLQEntry struct {
	EventID       string
	Envelope      *Envelope
	Error         string
	Retries       int
	FirstFailedAt time.Time
	LastAttemptAt time.Time
}

// AlertFunc receives the active-entry count when it crosses the threshold.
// It is invoked synchronously; keep it cheap or hand off internally.
type AlertFunc func(active int)

// DeadLetterQueue holds envelopes whose handling failed, pending bounded
// retry or TTL expiry. Expired entries are purged lazily on every call that
// touches the queue; PurgeExpired exposes the sweep for deterministic tests.
type DeadLetterQueue struct {
	cfg    DLQConfig
	clock  xclock.Clock
	logger *xlog.Logger
	alert  AlertFunc

	mu      sync.Mutex
	entries map[string]*DLQEntry
	order   []string
	alerted bool
}

// NewDeadLetterQueue creates a DLQ with the given config.
func NewDeadLetterQueue(cfg DLQConfig, opts ...DLQOption) *DeadLetterQueue {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	q := &DeadLetterQueue{
		cfg:     cfg,
		clock:   xclock.Default(),
		logger:  xlog.Default(),
		entries: make(map[string]*DLQEntry),
	}
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	return q
}

// DLQOption configures a DeadLetterQueue.
type DLQOption func(*DeadLetterQueue)

// WithDLQClock injects the clock used for failure timestamps and TTL math.
func WithDLQClock(c xclock.Clock) DLQOption {
	return func(q *DeadLetterQueue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithDLQLogger injects the logger.
func WithDLQLogger(l *xlog.Logger) DLQOption {
	return func(q *DeadLetterQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithDLQAlert installs the threshold alert callback.
func WithDLQAlert(fn AlertFunc) DLQOption {
	return func(q *DeadLetterQueue) { q.alert = fn }
}

// Add records a failed delivery. An existing entry for the same event id is
// updated in place (error and last-attempt time) rather than duplicated.
func (q *DeadLetterQueue) Add(env *Envelope, cause error) {
	if env == nil || cause == nil {
		return
	}
	now := q.clock.Now()

	q.mu.Lock()
	q.purgeLocked(now)

	id := env.Metadata.EventID
	if entry, exists := q.entries[id]; exists {
		entry.Error = cause.Error()
		entry.LastAttemptAt = now
		q.mu.Unlock()
		return
	}

	q.entries[id] = &DLQEntry{
		EventID:       id,
		Envelope:      env.Clone(),
		Error:         cause.Error(),
		FirstFailedAt: now,
		LastAttemptAt: now,
	}
	q.order = append(q.order, id)
	alertFn, active := q.checkAlertLocked()
	q.mu.Unlock()

	q.logger.Warn().
		Str("event_id", id).
		Str("tenant_id", env.Metadata.TenantID).
		Err(cause).
		Msg("xevent: event dead-lettered")

	if alertFn != nil {
		alertFn(active)
	}
}

// Retry re-runs delivery for a dead-lettered event.
// Unknown ids are a no-op returning false. On handler success the entry is
// removed and Retry returns true. On failure the entry stays, Retries is
// incremented up to MaxRetries, and Retry returns false. Reaching the cap is
// terminal-but-visible: the entry remains until a later retry succeeds or TTL
// elapses, and further Retry calls are still allowed.
func (q *DeadLetterQueue) Retry(ctx context.Context, eventID string, handler Handler) bool {
	now := q.clock.Now()

	q.mu.Lock()
	q.purgeLocked(now)
	entry, ok := q.entries[eventID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	env := entry.Envelope.Clone()
	q.mu.Unlock()

	err := invokeHandler(ctx, handler, env)

	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok = q.entries[eventID]
	if !ok {
		// Expired or resolved concurrently while the handler ran.
		return err == nil
	}

	if err == nil {
		q.removeLocked(eventID)
		return true
	}

	if entry.Retries < q.cfg.MaxRetries {
		entry.Retries++
	}
	entry.Error = err.Error()
	entry.LastAttemptAt = q.clock.Now()
	return false
}

// FailedEvents returns a snapshot of all active entries in arrival order.
func (q *DeadLetterQueue) FailedEvents() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeLocked(q.clock.Now())

	out := make([]DLQEntry, 0, len(q.order))
	for _, id := range q.order {
		entry := q.entries[id]
		cp := *entry
		cp.Envelope = entry.Envelope.Clone()
		out = append(out, cp)
	}
	return out
}

// Len returns the number of active entries after purging expired ones.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purgeLocked(q.clock.Now())
	return len(q.entries)
}

// PurgeExpired removes entries older than TTL and returns the number purged.
func (q *DeadLetterQueue) PurgeExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.purgeLocked(q.clock.Now())
}

func (q *DeadLetterQueue) purgeLocked(now time.Time) int {
	if q.cfg.TTL <= 0 {
		return 0
	}
	purged := 0
	kept := q.order[:0]
	for _, id := range q.order {
		entry := q.entries[id]
		if now.Sub(entry.FirstFailedAt) > q.cfg.TTL {
			delete(q.entries, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	if purged > 0 && len(q.entries) < q.cfg.AlertThreshold {
		q.alerted = false
	}
	return purged
}

func (q *DeadLetterQueue) removeLocked(eventID string) {
	delete(q.entries, eventID)
	for i, id := range q.order {
		if id == eventID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if len(q.entries) < q.cfg.AlertThreshold {
		q.alerted = false
	}
}

// checkAlertLocked arms the alert exactly once per upward threshold crossing.
func (q *DeadLetterQueue) checkAlertLocked() (AlertFunc, int) {
	if q.alert == nil || q.cfg.AlertThreshold <= 0 {
		return nil, 0
	}
	active := len(q.entries)
	if active >= q.cfg.AlertThreshold && !q.alerted {
		q.alerted = true
		return q.alert, active
	}
	return nil, 0
}
