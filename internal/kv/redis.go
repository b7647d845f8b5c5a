package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements §4.3's token bucket as a single Lua script
// so refill-then-take runs atomically on the Redis server, rather than as
// separate GET/SET round trips from the caller.
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1] .. ":tokens"
local refill_key = KEYS[1] .. ":last_refill"
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("GET", tokens_key))
local last_refill = tonumber(redis.call("GET", refill_key))
if tokens == nil then tokens = capacity end
if last_refill == nil then last_refill = now end

local elapsed = (now - last_refill) / 1000.0
if elapsed > 0 then
	tokens = math.min(capacity, tokens + elapsed * refill_per_sec)
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("SET", tokens_key, tostring(tokens), "PX", ttl)
redis.call("SET", refill_key, tostring(now), "PX", ttl)
return allowed
`)

// windowAddScript implements §4.3's sliding window as a sorted set: trim
// members older than the window, then add now if under budget.
var windowAddScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local max_entries = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window_ms)
local count = redis.call("ZCARD", key)
if count < max_entries then
	redis.call("ZADD", key, now, tostring(now) .. ":" .. tostring(math.random()))
	redis.call("PEXPIRE", key, ttl)
	return 1
end
return 0
`)

// casDeleteScript implements the distributed mutex's compare-and-delete
// release: only the current holder's token can unlock the resource.
var casDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisStore is the production Store backend, wired through
// github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr/db with the given password (empty for
// none).
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: GET %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: SET %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv: SETNX %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	res, err := casDeleteScript.Run(ctx, r.client, []string{key}, expect).Int()
	if err != nil {
		return false, fmt.Errorf("kv: compare-and-delete %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: INCRBY %s: %w", key, err)
	}
	if ttl > 0 {
		r.client.Expire(ctx, key, ttl)
	}
	return n, nil
}

func (r *RedisStore) TokenBucketTake(ctx context.Context, key string, capacity, refillPerSec float64, ttl time.Duration) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, r.client, []string{key},
		capacity, refillPerSec, time.Now().UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("kv: token bucket %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisStore) WindowAdd(ctx context.Context, key string, nowMillis int64, windowSeconds int, maxEntries int, ttl time.Duration) (bool, error) {
	res, err := windowAddScript.Run(ctx, r.client, []string{key},
		nowMillis, windowSeconds*1000, maxEntries, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("kv: sliding window %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisStore) SetAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	if err := r.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("kv: SADD %s: %w", key, err)
	}
	if ttl > 0 {
		r.client.Expire(ctx, key, ttl)
	}
	return nil
}

func (r *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: SMEMBERS %s: %w", key, err)
	}
	return members, nil
}

// ResetRateLimit deletes key itself (the sliding window's sorted set lives
// there directly) plus the ":tokens"/":last_refill" sub-keys
// tokenBucketScript derives from it, so either primitive built on key is
// fully cleared regardless of which one was in use.
func (r *RedisStore) ResetRateLimit(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key, key+":tokens", key+":last_refill").Err(); err != nil {
		return fmt.Errorf("kv: reset rate limit %s: %w", key, err)
	}
	return nil
}
