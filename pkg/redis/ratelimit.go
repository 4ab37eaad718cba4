package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window counter: INCR only while under the limit so rejected attempts do not extend the window.
var fixedWindow = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if current == 0 then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	end
	return {0, 0, ttl}
`)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

// RateLimiter is a fixed-window limiter for one kind of action.
type RateLimiter struct {
	client *Client
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter whose keys are "ratelimit:<prefix>:<key>".
func NewRateLimiter(client *Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Check consumes one unit for key when available.
func (r *RateLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", r.prefix, key)
	res, err := fixedWindow.Run(ctx, r.client, []string{redisKey}, r.limit, int(r.window.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	return &RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetIn:   time.Duration(res[2]) * time.Second,
		Limit:     r.limit,
	}, nil
}

// Allow reports whether key may act now.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := r.Check(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Reset clears the window for key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, fmt.Sprintf("ratelimit:%s:%s", r.prefix, key)).Err()
}
