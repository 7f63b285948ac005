// Package redistore provides a durable xevent.Store backed by Redis.
//
// Envelopes live in a hash keyed by event id; a companion sorted set indexed
// by emit timestamp makes Cleanup a range operation. Query filtering happens
// client-side over the decoded envelopes.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xevent"
)

const ProviderName = "redis"

func init() {
	if err := xevent.RegisterStore(ProviderName, func(cfg map[string]any) (xevent.Store, error) {
		return New(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevent/redistore: failed to register store: %w", err))
	}
}

// Store persists envelopes in Redis. Query order is (timestamp, event id),
// stable for a given store state.
type Store struct {
	client *redis.Client
	codec  xevent.Codec

	envelopesKey string
	byTimeKey    string
}

var _ xevent.Store = (*Store)(nil)

// New connects to Redis and returns a ready store.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redistore: ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = Defaults().KeyPrefix
	}

	return &Store{
		client:       client,
		codec:        xevent.JSONCodec{},
		envelopesKey: prefix + ":envelopes",
		byTimeKey:    prefix + ":by_time",
	}, nil
}

// NewWithClient wraps an existing client (shared pools, tests).
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = Defaults().KeyPrefix
	}
	return &Store{
		client:       client,
		codec:        xevent.JSONCodec{},
		envelopesKey: keyPrefix + ":envelopes",
		byTimeKey:    keyPrefix + ":by_time",
	}
}

// Store implements xevent.Store: hash upsert plus timestamp index, atomically.
func (s *Store) Store(ctx context.Context, env *xevent.Envelope) error {
	data, err := s.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("redistore: encode envelope: %w", err)
	}

	id := env.Metadata.EventID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.envelopesKey, id, data)
	pipe.ZAdd(ctx, s.byTimeKey, redis.Z{
		Score:  float64(env.Metadata.Timestamp),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistore: store %s: %w", id, err)
	}
	return nil
}

// Retrieve implements xevent.Store.
func (s *Store) Retrieve(ctx context.Context, eventID string) (*xevent.Envelope, error) {
	data, err := s.client.HGet(ctx, s.envelopesKey, eventID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xevent.ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: retrieve %s: %w", eventID, err)
	}

	var env xevent.Envelope
	if err := s.codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("redistore: decode %s: %w", eventID, err)
	}
	return &env, nil
}

// Query implements xevent.Store with client-side metadata filtering.
func (s *Store) Query(ctx context.Context, filter xevent.Filter) ([]*xevent.Envelope, error) {
	all, err := s.client.HGetAll(ctx, s.envelopesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: query: %w", err)
	}

	var out []*xevent.Envelope
	for id, raw := range all {
		var env xevent.Envelope
		if err := s.codec.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("redistore: decode %s: %w", id, err)
		}
		if filter.Matches(env.Metadata) {
			out = append(out, &env)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.Timestamp != out[j].Metadata.Timestamp {
			return out[i].Metadata.Timestamp < out[j].Metadata.Timestamp
		}
		return out[i].Metadata.EventID < out[j].Metadata.EventID
	})
	return out, nil
}

// Cleanup implements xevent.Store: range over the time index, then delete.
func (s *Store) Cleanup(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	ids, err := s.client.ZRangeByScore(ctx, s.byTimeKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redistore: cleanup range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.envelopesKey, ids...)
	pipe.ZRem(ctx, s.byTimeKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redistore: cleanup delete: %w", err)
	}
	return len(ids), nil
}

// Close releases the client.
func (s *Store) Close(context.Context) error {
	return s.client.Close()
}
