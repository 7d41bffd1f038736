package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/avridge/accountd/internal/model"
)

func newTestCache(t *testing.T) (*RedisBlockCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBlockCache(rdb, time.Minute), mr
}

func TestRedisBlockCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	// Unknown subject is a miss, not a verdict.
	if _, ok := cache.Get(ctx, "10.0.0.1", model.StrategyLoginIP); ok {
		t.Fatal("empty cache reported a hit")
	}

	cache.Set(ctx, "10.0.0.1", model.StrategyLoginIP, true)
	perm, ok := cache.Get(ctx, "10.0.0.1", model.StrategyLoginIP)
	if !ok || !perm {
		t.Fatalf("Get = (%v, %v), want (true, true)", perm, ok)
	}

	cache.Set(ctx, "10.0.0.2", model.StrategyLoginIP, false)
	perm, ok = cache.Get(ctx, "10.0.0.2", model.StrategyLoginIP)
	if !ok || perm {
		t.Fatalf("Get = (%v, %v), want (false, true)", perm, ok)
	}
}

func TestRedisBlockCacheKeysScopedByStrategy(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "alice", model.StrategyLoginUser, true)
	if _, ok := cache.Get(ctx, "alice", model.StrategyRegistrationIP); ok {
		t.Fatal("verdict leaked across strategies")
	}
}

func TestRedisBlockCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "mallory", model.StrategyLoginUser, true)
	cache.Delete(ctx, "mallory", model.StrategyLoginUser)
	if _, ok := cache.Get(ctx, "mallory", model.StrategyLoginUser); ok {
		t.Fatal("deleted entry still readable")
	}
}

func TestRedisBlockCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "10.0.0.3", model.StrategyRegistrationIP, true)
	mr.FastForward(2 * time.Minute)
	if _, ok := cache.Get(ctx, "10.0.0.3", model.StrategyRegistrationIP); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestNewRedisBlockCacheNilClient(t *testing.T) {
	if c := NewRedisBlockCache(nil, time.Minute); c != nil {
		t.Fatal("nil client must yield a nil cache")
	}
}
