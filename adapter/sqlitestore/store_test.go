package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xevent"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func envelope(id, tenant string, ts int64) *xevent.Envelope {
	return &xevent.Envelope{
		Metadata: xevent.Metadata{
			EventID:   id,
			Timestamp: ts,
			TenantID:  tenant,
			AppID:     "test-app",
			Version:   "1",
		},
		Payload: map[string]any{"message": "hello", "count": float64(2)},
		Schema:  xevent.SchemaRef("thing.happened", "1"),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	env := envelope("evt-1", "tenant-1", 1000)
	require.NoError(t, s.Store(ctx, env))

	got, err := s.Retrieve(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestStore_RetrieveNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Retrieve(context.Background(), "missing")
	assert.ErrorIs(t, err, xevent.ErrEnvelopeNotFound)
}

func TestStore_UpsertByEventID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Store(ctx, envelope("evt-1", "tenant-1", 1000)))

	updated := envelope("evt-1", "tenant-2", 2000)
	updated.Payload["message"] = "updated"
	require.NoError(t, s.Store(ctx, updated))

	got, err := s.Retrieve(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", got.Metadata.TenantID)
	assert.Equal(t, "updated", got.Payload["message"])

	all, err := s.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_QueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Store(ctx, envelope("evt-3", "tenant-1", 3000)))
	require.NoError(t, s.Store(ctx, envelope("evt-1", "tenant-1", 1000)))
	require.NoError(t, s.Store(ctx, envelope("evt-2", "tenant-2", 2000)))

	got, err := s.Query(ctx, xevent.Filter{"tenantId": "tenant-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt-1", got[0].Metadata.EventID)
	assert.Equal(t, "evt-3", got[1].Metadata.EventID)

	none, err := s.Query(ctx, xevent.Filter{"unknownField": "x"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Store(ctx, envelope("evt-old", "tenant-1", now.Add(-24*time.Hour).UnixMilli())))
	require.NoError(t, s.Store(ctx, envelope("evt-new", "tenant-1", now.UnixMilli())))

	deleted, err := s.Cleanup(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.Retrieve(ctx, "evt-old")
	assert.ErrorIs(t, err, xevent.ErrEnvelopeNotFound)
}

func TestStore_ClosedOperationsFail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx)) // idempotent

	assert.ErrorIs(t, s.Store(ctx, envelope("evt-1", "tenant-1", 1)), ErrStoreClosed)
	_, err := s.Retrieve(ctx, "evt-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Query(ctx, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Cleanup(ctx, time.Now())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_RegisteredProvider(t *testing.T) {
	s, err := xevent.NewStore(ProviderName, map[string]any{
		"path": filepath.Join(t.TempDir(), "provider.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.NoError(t, s.Store(context.Background(), envelope("evt-1", "tenant-1", 1)))
	got, err := s.Retrieve(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.Metadata.EventID)
}
