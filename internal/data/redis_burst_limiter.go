package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bizmarket/analysis-pipeline/internal/core"
)

var burstIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisBurstLimiter is a fixed-window counter keyed by caller and window start.
type RedisBurstLimiter struct {
	client       redis.UniversalClient
	prefix       string
	timeProvider TimeProvider
}

// NewRedisBurstLimiter constructs a RedisBurstLimiter.
func NewRedisBurstLimiter(client redis.UniversalClient, prefix string, tp TimeProvider) *RedisBurstLimiter {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RedisBurstLimiter{
		client:       client,
		prefix:       strings.TrimSpace(prefix),
		timeProvider: tp,
	}
}

var _ core.BurstLimiter = (*RedisBurstLimiter)(nil)

// Allow counts one hit for key in the current window.
func (l *RedisBurstLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (core.BurstResult, error) {
	if limit <= 0 || window <= 0 || key == "" || l == nil || l.client == nil {
		return core.BurstResult{Allowed: true, Remaining: -1}, nil
	}

	now := l.timeProvider.Now()
	start := now.Truncate(window)
	reset := start.Add(window).UTC()

	res, err := burstIncrScript.Run(ctx, l.client, []string{l.buildKey(key, start)}, window.Milliseconds()).Result()
	if err != nil {
		return core.BurstResult{}, fmt.Errorf("burst limiter eval: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return core.BurstResult{}, errors.New("burst limiter: unexpected response type")
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return core.BurstResult{
		Allowed:   count <= int64(limit),
		Count:     count,
		ResetAt:   reset,
		Remaining: remaining,
	}, nil
}

func (l *RedisBurstLimiter) buildKey(key string, windowStart time.Time) string {
	ts := strconv.FormatInt(windowStart.Unix(), 10)
	if l.prefix == "" {
		return key + ":" + ts
	}
	return l.prefix + ":" + key + ":" + ts
}
