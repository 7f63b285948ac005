package xevent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(id, tenant string, ts int64) *Envelope {
	return &Envelope{
		Metadata: Metadata{
			EventID:   id,
			Timestamp: ts,
			TenantID:  tenant,
			AppID:     "test-app",
			Version:   "1",
			Tags:      map[string]string{"origin": "test"},
		},
		Payload: map[string]any{
			"message": "hello",
			"count":   float64(2),
			"nested":  map[string]any{"ok": true},
		},
		Schema: SchemaRef("thing.happened", "1"),
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	env := testEnvelope("evt-1", "tenant-1", 1000)
	require.NoError(t, store.Store(ctx, env))

	got, err := store.Retrieve(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, env, got)

	// The stored copy is isolated from caller mutation.
	env.Payload["message"] = "mutated"
	got2, err := store.Retrieve(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got2.Payload["message"])
}

func TestMemoryStore_RetrieveNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Retrieve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEnvelopeNotFound)
}

func TestMemoryStore_UpsertByEventID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Store(ctx, testEnvelope("evt-1", "tenant-1", 1000)))
	updated := testEnvelope("evt-1", "tenant-1", 1000)
	updated.Payload["message"] = "updated"
	require.NoError(t, store.Store(ctx, updated))

	assert.Equal(t, 1, store.Len())
	got, err := store.Retrieve(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Payload["message"])
}

func TestMemoryStore_QueryByTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Store(ctx, testEnvelope("evt-1", "tenant-1", 1000)))
	require.NoError(t, store.Store(ctx, testEnvelope("evt-2", "tenant-2", 2000)))
	require.NoError(t, store.Store(ctx, testEnvelope("evt-3", "tenant-1", 3000)))

	got, err := store.Query(ctx, Filter{"tenantId": "tenant-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Insertion order is the stable query order.
	assert.Equal(t, "evt-1", got[0].Metadata.EventID)
	assert.Equal(t, "evt-3", got[1].Metadata.EventID)

	all, err := store.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.Query(ctx, Filter{"unknownField": "x"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	old := testEnvelope("evt-old", "tenant-1", now.Add(-24*time.Hour).UnixMilli())
	fresh := testEnvelope("evt-new", "tenant-1", now.UnixMilli())
	require.NoError(t, store.Store(ctx, old))
	require.NoError(t, store.Store(ctx, fresh))

	deleted, err := store.Cleanup(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Retrieve(ctx, "evt-old")
	assert.ErrorIs(t, err, ErrEnvelopeNotFound)

	_, err = store.Retrieve(ctx, "evt-new")
	assert.NoError(t, err)
}

func TestStoreRegistry(t *testing.T) {
	s, err := NewStore("memory", nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = NewStore("bogus", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestFilter_Matches(t *testing.T) {
	m := Metadata{
		EventID:       "evt-1",
		TenantID:      "tenant-1",
		AppID:         "app",
		UserID:        "u-1",
		CorrelationID: "corr-1",
		Version:       "2",
		Source:        "api",
	}

	assert.True(t, Filter(nil).Matches(m))
	assert.True(t, Filter{"tenantId": "tenant-1", "userId": "u-1"}.Matches(m))
	assert.False(t, Filter{"tenantId": "tenant-2"}.Matches(m))
	assert.False(t, Filter{"nope": "x"}.Matches(m))
}

func TestEnvelope_EventName(t *testing.T) {
	env := testEnvelope("evt-1", "tenant-1", 1)
	assert.Equal(t, "thing.happened", env.EventName())
}

func TestDecode(t *testing.T) {
	type payload struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}

	env := testEnvelope("evt-1", "tenant-1", 1)
	p, err := Decode[payload](env)
	require.NoError(t, err)
	assert.Equal(t, payload{Message: "hello", Count: 2}, p)
}
