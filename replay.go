package xevent

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ReplayOptions controls re-driving persisted envelopes through the bus.
type ReplayOptions struct {
	// Enabled gates the whole pipeline; false returns 0 immediately.
	Enabled bool
	// BatchSize partitions matches into sequential batches (default 100).
	BatchSize int
	// Concurrency bounds the worker pool within a batch (default 1).
	// Batches are strictly sequential; ordering inside a batch is not guaranteed.
	Concurrency int
	// Filter selects which persisted envelopes to replay.
	Filter Filter
}

// ReplayEvents reads matching envelopes from the persistence store and
// re-drives them through the dispatch path, returning the count redispatched.
//
// Replay bypasses schema validation (payloads were validated at original emit
// time), never re-persists, and never mutates event ids. Handler failures are
// dead-lettered exactly as on the emit path and do not abort the replay.
func (b *Bus) ReplayEvents(ctx context.Context, opts ReplayOptions) (int, error) {
	if b.destroyed.Load() {
		return 0, ErrBusDestroyed
	}
	if !opts.Enabled || b.store == nil {
		return 0, nil
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 100
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	envs, err := b.store.Query(ctx, opts.Filter)
	if err != nil {
		return 0, err
	}

	var replayed atomic.Int64

	for start := 0; start < len(envs); start += batchSize {
		end := start + batchSize
		if end > len(envs) {
			end = len(envs)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, env := range envs[start:end] {
			env := env
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				name := env.EventName()
				b.dispatch(gctx, name, env, b.subscriptionsFor(name))
				replayed.Add(1)
				b.notifyAsync(Notification{
					Type:      EventReplayed,
					Bus:       b.name,
					EventID:   env.Metadata.EventID,
					EventName: name,
					TenantID:  env.Metadata.TenantID,
				})
				return nil
			})
		}

		// A batch fully completes before the next one starts.
		if err := g.Wait(); err != nil {
			return int(replayed.Load()), err
		}
	}

	return int(replayed.Load()), nil
}
