package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/internal/testutil"
)

func TestRedisBurstLimiter_Allow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	start := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	clock := NewFixedTimeProvider(start)
	limiter := NewRedisBurstLimiter(client, "analysis:burst", clock)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, "ip:203.0.113.7", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, int64(i), res.Count)
		assert.Equal(t, int64(3-i), res.Remaining)
		assert.Equal(t, start.Truncate(time.Minute).Add(time.Minute), res.ResetAt)
	}

	res, err := limiter.Allow(ctx, "ip:203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)

	// Another caller has its own window.
	res, err = limiter.Allow(ctx, "ip:198.51.100.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// The next window starts fresh.
	clock.AddTime(time.Minute)
	res, err = limiter.Allow(ctx, "ip:203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)

	ttl := client.PTTL(ctx, limiter.buildKey("ip:203.0.113.7", clock.Now().Truncate(time.Minute))).Val()
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestRedisBurstLimiter_DisabledLimits(t *testing.T) {
	limiter := NewRedisBurstLimiter(nil, "analysis:burst", nil)

	res, err := limiter.Allow(context.Background(), "ip:203.0.113.7", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(-1), res.Remaining)

	res, err = limiter.Allow(context.Background(), "", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisBurstLimiter_BuildKey(t *testing.T) {
	ws := time.Unix(1700000000, 0)
	assert.Equal(t, "analysis:burst:ip:1.2.3.4:1700000000",
		NewRedisBurstLimiter(nil, " analysis:burst ", nil).buildKey("ip:1.2.3.4", ws))
	assert.Equal(t, "ip:1.2.3.4:1700000000", NewRedisBurstLimiter(nil, "", nil).buildKey("ip:1.2.3.4", ws))
}
