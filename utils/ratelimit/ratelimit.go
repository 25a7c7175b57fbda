package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a request should be allowed based on rate limits
	// Returns true if allowed, false if rate limit exceeded
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// AllowN checks if N requests should be allowed
	AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error)

	// Reset resets the rate limit counter for a key
	Reset(ctx context.Context, key string) error

	// GetRemaining returns the number of remaining requests in the current window
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// RedisLimiter counts requests per fixed window in Redis, so the limit holds
// across every instance sharing the server.
type RedisLimiter struct {
	redisClient *redis.Client
	prefix      string
	logger      *zap.Logger
	fallback    bool // If true, allow requests when Redis is unavailable (fail-open)
	now         func() time.Time
}

// NewRedisLimiter creates a new fixed window rate limiter
//
// Parameters:
//   - redisClient: Redis client for storing rate limit state
//   - prefix: Key namespace shared with the document store (may be empty)
//   - logger: Logger for recording rate limit events
//   - fallback: If true, allows requests when Redis fails (fail-open strategy)
//
// Returns:
//   - *RedisLimiter: The initialized rate limiter
func NewRedisLimiter(redisClient *redis.Client, prefix string, logger *zap.Logger, fallback bool) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		redisClient: redisClient,
		prefix:      prefix,
		logger:      logger,
		fallback:    fallback,
		now:         time.Now,
	}
}

// Allow checks if a single request should be allowed based on rate limits
//
// Parameters:
//   - ctx: Context for the operation
//   - key: Unique identifier for the rate limit bucket (e.g. "ip:192.168.1.1")
//   - limit: Maximum number of requests allowed in the time window
//   - window: Time window for the rate limit (e.g., 1 minute)
//
// Returns:
//   - bool: true if the request is allowed, false if rate limit exceeded
//   - error: Any error encountered during the check
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

// AllowN checks if N requests should be allowed based on rate limits.
// It uses Redis INCRBY and EXPIRE in one pipeline.
func (l *RedisLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	bucketKey := l.getBucketKey(key, l.now(), window)

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, window+time.Second) // Add 1 second buffer

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limit check failed",
			zap.String("key", bucketKey),
			zap.Error(err),
		)

		// Fail-open: allow request if Redis is unavailable and fallback is enabled
		if l.fallback {
			l.logger.Warn("rate limit check failed, allowing request (fail-open)",
				zap.String("key", key),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
			zap.Duration("window", window),
		)
	}
	return allowed, nil
}

// Reset clears the current and previous window of every standard window size.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	now := l.now()
	windows := []time.Duration{time.Minute, time.Hour, 24 * time.Hour}

	var keys []string
	for _, window := range windows {
		keys = append(keys, l.getBucketKey(key, now, window))
		keys = append(keys, l.getBucketKey(key, now.Add(-window), window))
	}

	if err := l.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	l.logger.Info("rate limit reset", zap.String("key", key))
	return nil
}

// GetRemaining returns the number of remaining requests in the current window
// (0 if limit exceeded).
func (l *RedisLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	bucketKey := l.getBucketKey(key, l.now(), window)

	count, err := l.redisClient.Get(ctx, bucketKey).Int64()
	if err != nil {
		if err == redis.Nil {
			// Key doesn't exist, all tokens available
			return limit, nil
		}
		return 0, fmt.Errorf("failed to get remaining tokens: %w", err)
	}
	return max(limit-int(count), 0), nil
}

// getBucketKey generates a time-based bucket key: one counter per window.
func (l *RedisLimiter) getBucketKey(key string, now time.Time, window time.Duration) string {
	var bucketTime int64

	switch {
	case window <= time.Minute:
		bucketTime = now.Unix() / max(int64(window.Seconds()), 1)
	case window <= time.Hour:
		bucketTime = now.Unix() / 60 / int64(window.Minutes())
	default:
		bucketTime = now.Unix() / 3600 / int64(window.Hours())
	}

	if l.prefix != "" {
		return fmt.Sprintf("%s:ratelimit:%s:%d", l.prefix, key, bucketTime)
	}
	return fmt.Sprintf("ratelimit:%s:%d", key, bucketTime)
}

// LocalLimiter keeps one token bucket per key in process memory. It refills
// limit tokens evenly over window and never fails.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *LocalLimiter) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	every := rate.Every(window / time.Duration(max(limit, 1)))
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(every, limit)
		l.limiters[key] = lim
		return lim
	}
	if lim.Burst() != limit || lim.Limit() != every {
		lim.SetBurstAt(l.now(), limit)
		lim.SetLimitAt(l.now(), every)
	}
	return lim
}

func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

func (l *LocalLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	return l.bucket(key, limit, window).AllowN(l.now(), n), nil
}

func (l *LocalLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
	return nil
}

func (l *LocalLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	tokens := l.bucket(key, limit, window).TokensAt(l.now())
	return max(int(tokens), 0), nil
}
