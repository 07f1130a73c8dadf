package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ClaimOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Claim(ctx, "NEW_TRANSACTIONS_AVAILABLE|19|2026-10-19T00:00:00Z", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "NEW_TRANSACTIONS_AVAILABLE|19|2026-10-19T00:00:00Z", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ReleaseAllowsReclaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, _ := store.Claim(ctx, "k", time.Hour)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "k"))

	ok, err := store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := store.Claim(ctx, "k", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err := store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim can be taken again")
}

func TestNew_EmptyAddrUsesMemory(t *testing.T) {
	store, err := New("", "", 0)
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok)
}
