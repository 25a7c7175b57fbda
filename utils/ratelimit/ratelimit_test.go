package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// fixedClock returns a clock the test can move by hand.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestRedisLimiter_Allow(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "", nil, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "ip:10.0.0.1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
	allowed, err := limiter.Allow(ctx, "ip:10.0.0.1", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "request should be denied after limit exceeded")

	// other keys are independent
	allowed, err = limiter.Allow(ctx, "ip:10.0.0.2", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_AllowN(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "", nil, false)
	ctx := context.Background()

	for _, step := range []struct {
		n    int
		want bool
	}{{3, true}, {5, true}, {2, true}, {1, false}} {
		allowed, err := limiter.AllowN(ctx, "burst", step.n, 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, step.want, allowed)
	}
}

func TestRedisLimiter_PrefixAndExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "featuredfeed", nil, false)
	limiter.now = func() time.Time { return epoch }

	_, err := limiter.Allow(context.Background(), "ip:1", 5, time.Minute)
	require.NoError(t, err)

	key := fmt.Sprintf("featuredfeed:ratelimit:ip:1:%d", epoch.Unix()/60)
	assert.True(t, mr.Exists(key), "keys: %v", mr.Keys())
	assert.Equal(t, 61*time.Second, mr.TTL(key))
}

func TestRedisLimiter_RecoversInNextWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "", nil, false)
	now, advance := fixedClock(epoch)
	limiter.now = now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, allowed)

	advance(time.Minute)
	allowed, err := limiter.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_ResetAndRemaining(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "", nil, false)
	ctx := context.Background()

	remaining, err := limiter.GetRemaining(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for i := 0; i < 7; i++ {
		_, _ = limiter.Allow(ctx, "k", 5, time.Minute)
	}
	remaining, err = limiter.GetRemaining(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, limiter.Reset(ctx, "k"))
	allowed, err := limiter.Allow(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_ConcurrentRequests(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRedisLimiter(client, "", nil, false)

	var allowedCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.Allow(context.Background(), "shared", 10, time.Minute); err == nil && ok {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowedCount.Load())
}

func TestRedisLimiter_Failure(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRedisLimiter(client, "", nil, true)
		mr.Close()

		allowed, err := limiter.Allow(context.Background(), "k", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("fail closed", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRedisLimiter(client, "", nil, false)
		mr.Close()

		allowed, err := limiter.Allow(context.Background(), "k", 5, time.Minute)
		assert.Error(t, err)
		assert.False(t, allowed)
	})
}

func TestLocalLimiter(t *testing.T) {
	limiter := NewLocalLimiter()
	now, advance := fixedClock(epoch)
	limiter.now = now
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		allowed, err := limiter.Allow(ctx, "ip:1", 4, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow(ctx, "ip:1", 4, time.Minute)
	assert.False(t, allowed)

	remaining, err := limiter.GetRemaining(ctx, "ip:1", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// one token refills every 15s
	advance(15 * time.Second)
	allowed, _ = limiter.Allow(ctx, "ip:1", 4, time.Minute)
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "ip:1", 4, time.Minute)
	assert.False(t, allowed)

	allowed, _ = limiter.Allow(ctx, "ip:2", 4, time.Minute)
	assert.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "ip:1"))
	remaining, _ = limiter.GetRemaining(ctx, "ip:1", 4, time.Minute)
	assert.Equal(t, 4, remaining)
}

func TestLimitersSatisfyInterface(t *testing.T) {
	client, _ := setupTestRedis(t)
	for _, l := range []Limiter{NewRedisLimiter(client, "", nil, false), NewLocalLimiter()} {
		allowed, err := l.Allow(context.Background(), "k", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}
