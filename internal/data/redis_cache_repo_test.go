package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/internal/testutil"
)

func TestRedisCacheRepo_StoreLookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client, "analysis:test:")
	ctx := context.Background()

	snapshot := []byte(`{"status":"completed","progress":100}`)
	require.NoError(t, repo.Store(ctx, "job:1", snapshot, 5*time.Minute))

	got, ok, err := repo.Lookup(ctx, "job:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, snapshot, got)

	ttl := client.TTL(ctx, "analysis:test:job:1").Val()
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	got, ok, err = repo.Lookup(ctx, "job:missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	// Entries without ttl persist.
	require.NoError(t, repo.Store(ctx, "job:2", []byte("x"), 0))
	assert.Equal(t, time.Duration(-1), client.TTL(ctx, "analysis:test:job:2").Val())
}

func TestRedisCacheRepo_EmptyKey(t *testing.T) {
	// Key validation happens before any Redis call.
	repo := NewRedisCacheRepo(nil, "analysis:")
	ctx := context.Background()

	require.ErrorIs(t, repo.Store(ctx, "", []byte("v"), time.Minute), errEmptyCacheKey)
	_, _, err := repo.Lookup(ctx, "")
	require.ErrorIs(t, err, errEmptyCacheKey)
}
