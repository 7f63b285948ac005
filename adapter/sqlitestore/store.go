// Package sqlitestore provides a durable xevent.Store backed by SQLite.
// It is suitable for single-process production use.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trickstertwo/xevent"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const ProviderName = "sqlite"

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("sqlitestore: store is closed")

func init() {
	if err := xevent.RegisterStore(ProviderName, func(cfg map[string]any) (xevent.Store, error) {
		return New(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevent/sqlitestore: failed to register store: %w", err))
	}
}

// Config controls the SQLite store.
type Config struct {
	// Path is a file path (e.g. "./events.db") or ":memory:" for testing.
	Path string
	// Codec serializes envelopes into the blob column (default JSON).
	Codec xevent.Codec
}

// Defaults returns a Config with safe defaults.
func Defaults() Config {
	return Config{Path: "./xevent.db", Codec: xevent.JSONCodec{}}
}

// ConfigFromMap builds a Config from the generic provider options blob.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()
	if v, ok := cfg["path"].(string); ok && v != "" {
		c.Path = v
	}
	if v, ok := cfg["codec"].(string); ok && v != "" {
		if cd, err := xevent.NewCodec(v); err == nil {
			c.Codec = cd
		}
	}
	return c
}

// Store persists envelopes to SQLite, indexed by event id and timestamp.
// Query order is (timestamp, event id), stable for a given store state.
type Store struct {
	db     *sql.DB
	codec  xevent.Codec
	mu     sync.RWMutex
	closed bool
}

var _ xevent.Store = (*Store)(nil)

// New opens (and migrates) a SQLite-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = Defaults().Path
	}
	if cfg.Codec == nil {
		cfg.Codec = xevent.JSONCodec{}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS envelopes (
			event_id       TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL,
			app_id         TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			version        TEXT NOT NULL,
			source         TEXT NOT NULL DEFAULT '',
			ts             INTEGER NOT NULL,
			envelope       BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_envelopes_ts ON envelopes(ts)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_envelopes_tenant ON envelopes(tenant_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Store{db: db, codec: cfg.Codec}, nil
}

// Store implements xevent.Store via upsert keyed by event_id.
func (s *Store) Store(ctx context.Context, env *xevent.Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := s.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	m := env.Metadata
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO envelopes (event_id, tenant_id, app_id, user_id, correlation_id, version, source, ts, envelope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			app_id = excluded.app_id,
			user_id = excluded.user_id,
			correlation_id = excluded.correlation_id,
			version = excluded.version,
			source = excluded.source,
			ts = excluded.ts,
			envelope = excluded.envelope
	`, m.EventID, m.TenantID, m.AppID, m.UserID, m.CorrelationID, m.Version, m.Source, m.Timestamp, data)

	if err != nil {
		return fmt.Errorf("store envelope: %w", err)
	}
	return nil
}

// Retrieve implements xevent.Store.
func (s *Store) Retrieve(ctx context.Context, eventID string) (*xevent.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT envelope FROM envelopes WHERE event_id = ?
	`, eventID).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, xevent.ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve envelope: %w", err)
	}

	var env xevent.Envelope
	if err := s.codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// filterColumns maps filterable metadata fields to their columns.
var filterColumns = map[string]string{
	"eventId":       "event_id",
	"tenantId":      "tenant_id",
	"appId":         "app_id",
	"userId":        "user_id",
	"correlationId": "correlation_id",
	"version":       "version",
	"source":        "source",
}

// Query implements xevent.Store. Filters on unknown metadata fields match nothing.
func (s *Store) Query(ctx context.Context, filter xevent.Filter) ([]*xevent.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	q := "SELECT envelope FROM envelopes"
	var args []any
	var where []string
	for key, want := range filter {
		col, ok := filterColumns[key]
		if !ok {
			return nil, nil
		}
		where = append(where, col+" = ?")
		args = append(args, want)
	}
	for i, clause := range where {
		if i == 0 {
			q += " WHERE " + clause
			continue
		}
		q += " AND " + clause
	}
	q += " ORDER BY ts, event_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	var out []*xevent.Envelope
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		var env xevent.Envelope
		if err := s.codec.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

// Cleanup implements xevent.Store.
func (s *Store) Cleanup(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM envelopes WHERE ts < ?
	`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup envelopes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup envelopes: %w", err)
	}
	return int(n), nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
