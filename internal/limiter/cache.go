package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avridge/accountd/internal/model"
)

// RedisBlockCache implements BlockCache on Redis with a bounded TTL.
// Entries are "1" (permanently blocked) or "0" (known open); a missing key
// means the caller must ask the store. Redis being down is treated the
// same as a miss.
type RedisBlockCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisBlockCache returns a cache over the given client, or nil when
// the client is nil so callers can pass the result straight through.
func NewRedisBlockCache(rdb *redis.Client, ttl time.Duration) *RedisBlockCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisBlockCache{rdb: rdb, ttl: ttl, prefix: "permblock"}
}

func (c *RedisBlockCache) key(subject string, strategy model.Strategy) string {
	return c.prefix + ":" + string(strategy) + ":" + subject
}

func (c *RedisBlockCache) Get(ctx context.Context, subject string, strategy model.Strategy) (bool, bool) {
	v, err := c.rdb.Get(ctx, c.key(subject, strategy)).Result()
	if err != nil {
		return false, false
	}
	return v == "1", true
}

func (c *RedisBlockCache) Set(ctx context.Context, subject string, strategy model.Strategy, permanent bool) {
	v := "0"
	if permanent {
		v = "1"
	}
	_ = c.rdb.Set(ctx, c.key(subject, strategy), v, c.ttl).Err()
}

func (c *RedisBlockCache) Delete(ctx context.Context, subject string, strategy model.Strategy) {
	_ = c.rdb.Del(ctx, c.key(subject, strategy)).Err()
}
