package xevent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// NotificationType enumerates bus lifecycle notifications delivered to the
// audit/telemetry sink. system_* cover bus lifecycle, event_* cover envelopes.
type NotificationType string

const (
	SystemStart   NotificationType = "system_start"
	SystemDestroy NotificationType = "system_destroy"
	SystemAlert   NotificationType = "system_alert"

	EventEmitted      NotificationType = "event_emitted"
	EventRejected     NotificationType = "event_rejected"
	EventPersisted    NotificationType = "event_persisted"
	EventHandlerError NotificationType = "event_handler_error"
	EventDeadLettered NotificationType = "event_dead_lettered"
	EventReplayed     NotificationType = "event_replayed"
)

// Notification carries telemetry for observers. Delivery is fire-and-forget
// and never blocks the bus.
type Notification struct {
	Type      NotificationType
	Bus       string
	EventID   string
	EventName string
	TenantID  string
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// Observer receives bus lifecycle notifications. Implementations should be non-blocking.
type Observer interface {
	OnNotification(n Notification)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(n Notification)

func (f ObserverFunc) OnNotification(n Notification) { f(n) }

// LoggingObserver is an Adapter that emits notifications via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnNotification(n Notification) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(n.Type)),
		xlog.Str("bus", n.Bus),
		xlog.Str("event_id", n.EventID),
		xlog.Str("event_name", n.EventName),
		xlog.Str("tenant_id", n.TenantID),
	)
	switch n.Type {
	case EventRejected, EventHandlerError, EventDeadLettered, SystemAlert:
		ev.Warn().Err(n.Err).Msg("xevent notification")
	default:
		if n.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", n.Duration))
		}
		ev.Debug().Msg("xevent notification")
	}
}

// ObserverPool manages asynchronous notification dispatch to observers.
// Prevents slow sinks from blocking the emit path.
// Non-blocking design: drops notifications if the buffer is full.
type ObserverPool struct {
	notifCh   chan *Notification
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Notifications dropped due to full buffer
	Processed    uint64 // Notifications successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// NewObserverPool creates a pool for async observer notification.
// workers: number of concurrent dispatch goroutines (4-16 for typical use)
// bufferSize: capacity of the notification channel (1000-5000 for burst resilience)
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		notifCh: make(chan *Notification, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}

	return op
}

// Notify queues a notification for asynchronous dispatch.
// Non-blocking: returns immediately, drops the notification if the buffer is full.
func (op *ObserverPool) Notify(n Notification, observers []Observer) {
	if len(observers) == 0 {
		return
	}

	n.observers = make([]Observer, len(observers))
	copy(n.observers, observers)

	select {
	case op.notifCh <- &n:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// Drain remaining notifications before exiting
			for {
				select {
				case n := <-op.notifCh:
					if n != nil {
						op.dispatch(n)
					}
				default:
					return
				}
			}
		case n := <-op.notifCh:
			if n != nil {
				op.dispatch(n)
				op.processed.Add(1)
			}
		}
	}
}

// dispatch calls all observers for a single notification.
// Tolerates observer panics to prevent pool corruption.
func (op *ObserverPool) dispatch(n *Notification) {
	for _, obs := range n.observers {
		if obs != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						// Silent recovery; observer panic shouldn't crash the pool
					}
				}()
				obs.OnNotification(*n)
			}()
		}
	}
}

// Close gracefully shuts down the observer pool.
// Waits up to timeout for workers to finish processing queued notifications.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}

	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.notifCh),
		Workers:      op.workers,
		BufferSize:   cap(op.notifCh),
	}
}
