package xevent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDraft_CarriesAllMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bus := newTestBus(t, func(b *BusBuilder) { b.WithStore(store) })

	id, err := NewEvent("order.created", map[string]any{"order_id": "ord-1"}).
		Tenant("tenant-1").
		App("checkout").
		User("u-42").
		Correlation("corr-9").
		Version("2").
		Source("api").
		Tag("region", "eu").
		Tag("channel", "web").
		Emit(ctx, bus)
	require.NoError(t, err)

	env, err := store.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", env.Metadata.TenantID)
	assert.Equal(t, "checkout", env.Metadata.AppID)
	assert.Equal(t, "u-42", env.Metadata.UserID)
	assert.Equal(t, "corr-9", env.Metadata.CorrelationID)
	assert.Equal(t, "2", env.Metadata.Version)
	assert.Equal(t, "api", env.Metadata.Source)
	assert.Equal(t, map[string]string{"region": "eu", "channel": "web"}, env.Metadata.Tags)
	assert.Equal(t, "ord-1", env.Payload["order_id"])
	assert.Equal(t, "order.created", env.EventName())
}

func TestEventDraft_DefaultsApplyWhenUnset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithStore(store).WithDefaults(Metadata{TenantID: "default-tenant", AppID: "default-app"})
	})

	id, err := NewEvent("order.created", map[string]any{"order_id": "ord-2"}).
		Source("batch").
		Emit(ctx, bus)
	require.NoError(t, err)

	env, err := store.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "default-tenant", env.Metadata.TenantID)
	assert.Equal(t, "default-app", env.Metadata.AppID)
	assert.Equal(t, "batch", env.Metadata.Source)
}
