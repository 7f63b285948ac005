package xevent

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
// Buses are owned values: hold and pass the reference, there is no
// process-wide singleton.
type BusBuilder struct {
	name string

	storeProvider string
	storeCfg      map[string]any
	storeInst     Store

	dlqEnabled bool
	dlqCfg     DLQConfig
	dlqAlert   AlertFunc

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	defaults    Metadata

	poolWorkers int
	poolBuffer  int
	auditOff    bool
	metricsOff  bool
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		name:        "xevent",
		poolWorkers: 4,
		poolBuffer:  1000,
		defaults:    Metadata{Version: "1"},
	}
}

// WithName sets the bus name used in notifications and logs.
func (bb *BusBuilder) WithName(name string) *BusBuilder {
	if name != "" {
		bb.name = name
	}
	return bb
}

// WithStore enables persistence with a ready Store instance (e.g. from an adapter).
func (bb *BusBuilder) WithStore(s Store) *BusBuilder {
	bb.storeInst = s
	return bb
}

// WithStoreProvider enables persistence via the store factory registry
// ("memory" is built in; adapters register themselves on import).
func (bb *BusBuilder) WithStoreProvider(name string, cfg map[string]any) *BusBuilder {
	bb.storeProvider = name
	bb.storeCfg = cfg
	return bb
}

// WithDLQ enables the dead-letter queue.
func (bb *BusBuilder) WithDLQ(cfg DLQConfig) *BusBuilder {
	bb.dlqEnabled = true
	bb.dlqCfg = cfg
	return bb
}

// WithDLQAlert installs the threshold alert callback for the DLQ.
func (bb *BusBuilder) WithDLQAlert(fn AlertFunc) *BusBuilder {
	bb.dlqAlert = fn
	return bb
}

// WithLogger injects a custom xlog logger.
func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

// WithClock injects a custom xclock clock.
func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithMiddleware adds processing middlewares around every handler (retry, timeout, etc).
func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

// WithObserver attaches observers for lifecycle notifications.
func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool configures the async notification pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

// WithoutAudit disables the default logging observer; explicitly attached
// observers still receive notifications.
func (bb *BusBuilder) WithoutAudit() *BusBuilder {
	bb.auditOff = true
	return bb
}

// WithoutMetrics disables dispatch-latency sampling; event counters and
// subscription counts in Stats remain live.
func (bb *BusBuilder) WithoutMetrics() *BusBuilder {
	bb.metricsOff = true
	return bb
}

// WithDefaults sets session defaults merged under every emit's metadata
// overrides (AppID, TenantID, Source, Version).
func (bb *BusBuilder) WithDefaults(m Metadata) *BusBuilder {
	if m.Version == "" {
		m.Version = bb.defaults.Version
	}
	bb.defaults = m
	return bb
}

// Build constructs the bus.
func (bb *BusBuilder) Build() (*Bus, error) {
	var st Store
	var err error

	switch {
	case bb.storeInst != nil:
		st = bb.storeInst
	case bb.storeProvider != "":
		st, err = NewStore(bb.storeProvider, bb.storeCfg)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	var dlq *DeadLetterQueue
	if bb.dlqEnabled {
		dlq = NewDeadLetterQueue(bb.dlqCfg,
			WithDLQClock(clk),
			WithDLQLogger(lg),
			WithDLQAlert(bb.dlqAlert),
		)
	}

	b := &Bus{
		name:         bb.name,
		registry:     NewRegistry(),
		store:        st,
		dlq:          dlq,
		clock:        clk,
		logger:       lg,
		middlewares:  bb.middlewares,
		defaults:     bb.defaults,
		metricsOff:   bb.metricsOff,
		subs:         make(map[string][]*subscription),
		subIndex:     make(map[string]*subscription),
		observerPool: NewObserverPool(context.Background(), bb.poolWorkers, bb.poolBuffer),
		startedAt:    clk.Now(),
	}

	// Attach the logging observer first for dependable audit telemetry
	// unless one was supplied externally or audit is off.
	if !bb.auditOff {
		hasLoggingObserver := false
		for _, o := range bb.observers {
			if _, ok := o.(LoggingObserver); ok {
				hasLoggingObserver = true
				break
			}
		}
		if !hasLoggingObserver {
			b.AddObserver(LoggingObserver{Logger: lg})
		}
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	b.notifyAsync(Notification{Type: SystemStart, Bus: b.name})

	return b, nil
}

// New constructs a Bus via Builder and returns a destroy func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	destroyFn := func() error { return bus.Destroy(context.Background()) }
	return bus, destroyFn, nil
}
