// Package redis backs the rate gate with a Redis fixed-window counter.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-api-guard/internal/domain"
)

// hitLua resets or increments one window in a single server-side step.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = window length (ms)
// ARGV[3] = now (unix ms)
//
// Returns {allowed, count, window_start_ms}.
var hitLua = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'ws', 'count')
local ws = tonumber(state[1])
local count = tonumber(state[2])
if not ws or not count or now >= ws + window then
  ws = now
  count = 0
end

local allowed = 0
if count < limit then
  count = count + 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'ws', ws, 'count', count)
redis.call('PEXPIRE', KEYS[1], ws + window - now)
return {allowed, count, ws}
`)

type CounterStore struct {
	client redis.UniversalClient
	prefix string
}

func NewCounterStore(client redis.UniversalClient, prefix string) *CounterStore {
	return &CounterStore{client: client, prefix: prefix}
}

// NewClient parses a redis:// URL and checks the server is reachable.
func NewClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *CounterStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.CounterState, error) {
	res, err := hitLua.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return domain.CounterState{}, fmt.Errorf("counter hit %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.CounterState{}, fmt.Errorf("counter hit %s: unexpected reply of %d values", key, len(res))
	}
	return domain.CounterState{
		Allowed:     res[0] == 1,
		Count:       int(res[1]),
		WindowStart: time.UnixMilli(res[2]).UTC(),
	}, nil
}

func (s *CounterStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}
