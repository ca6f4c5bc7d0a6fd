package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/models"
)

func exerciseCache(t *testing.T, cache ActiveCache) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, cache.TrackActive(ctx, models.ActiveMeta{
		RefID:     refA,
		User:      user,
		Flow:      models.FlowDeposit,
		Status:    models.StatusPending,
		MinAmount: "990000",
		CreatedAt: created,
	}))
	require.NoError(t, cache.UpdateActive(ctx, refA, models.ActiveMeta{
		Status:     models.StatusBridgeInFlight,
		FromTxHash: "0xfeed",
	}))

	all, err := cache.ReadAllActive(ctx)
	require.NoError(t, err)
	require.Contains(t, all, refA)
	got := all[refA]
	assert.Equal(t, models.StatusBridgeInFlight, got.Status)
	assert.Equal(t, "0xfeed", got.FromTxHash)
	assert.Equal(t, "990000", got.MinAmount)
	assert.True(t, created.Equal(got.CreatedAt))

	// update of an unknown entry creates it
	require.NoError(t, cache.UpdateActive(ctx, refB, models.ActiveMeta{Status: models.StatusBurned}))
	all, err = cache.ReadAllActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, refB, all[refB].RefID)

	require.NoError(t, cache.ClearActive(ctx, refA))
	require.NoError(t, cache.ClearActive(ctx, refB))
	all, err = cache.ReadAllActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestFileCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "active.json")
	cache, err := NewFileCache(path)
	require.NoError(t, err)
	exerciseCache(t, cache)

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, cache.TrackActive(ctx, models.ActiveMeta{RefID: refC, User: user}))

		reopened, err := NewFileCache(path)
		require.NoError(t, err)
		all, err := reopened.ReadAllActive(ctx)
		require.NoError(t, err)
		assert.Contains(t, all, refC)
	})

	t.Run("corrupt file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := cache.ReadAllActive(context.Background())
		assert.Error(t, err)
	})
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "relayer:active:test"
	require.NoError(t, client.Del(context.Background(), key).Err())
	exerciseCache(t, NewRedisCache(client, key))
}
