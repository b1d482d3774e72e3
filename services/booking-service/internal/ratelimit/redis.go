package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the fixed-window limiter for deployments running several
// service instances against one Redis.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
}

// The count is only incremented while under the limit, matching FileLimiter.
var redisFixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[2]) then
  return -1
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisLimiter(rdb redis.Cmdable, prefix string) *RedisLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

// ForTenant scopes keys to one tenant.
func (rl *RedisLimiter) ForTenant(tenant string) *RedisLimiter {
	return &RedisLimiter{rdb: rl.rdb, prefix: rl.prefix + ":" + tenant}
}

func (rl *RedisLimiter) key(client, action string) string {
	return rl.prefix + ":" + action + ":" + keyHash(client, action)
}

func (rl *RedisLimiter) Check(ctx context.Context, client, action string, rule Rule) (bool, error) {
	if !rule.valid() {
		return true, nil
	}
	ms := rule.Window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{rl.key(client, action)}, ms, rule.Limit).Result()
	if err != nil {
		return false, err
	}
	n, err := scriptInt(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (rl *RedisLimiter) IsLimited(ctx context.Context, client, action string, rule Rule) (bool, error) {
	if !rule.valid() {
		return false, nil
	}
	n, err := rl.rdb.Get(ctx, rl.key(client, action)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= rule.Limit, nil
}

func (rl *RedisLimiter) Reset(ctx context.Context, client, action string) error {
	return rl.rdb.Del(ctx, rl.key(client, action)).Err()
}

// ReadyCheck pings Redis.
func (rl *RedisLimiter) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rl.rdb.Ping(ctx).Err()
	}
}

func scriptInt(res any) (int64, error) {
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		// Lua sometimes returns strings depending on Redis config/driver conversions.
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

var _ Limiter = (*RedisLimiter)(nil)
