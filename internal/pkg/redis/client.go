package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/FeaturedFeed/config"
)

// ErrNil is returned when a document key does not exist.
var ErrNil = errors.New("redis: key not found")

// Client wraps a go-redis client with the document operations the bot needs.
type Client struct {
	client *redis.Client
	prefix string
}

// NewClient dials redis and verifies the connection.
//
// Parameters:
//   - cfg: Redis connection settings
//   - prefix: Prepended to every document key
//
// Returns:
//   - *Client: A connected client
//   - error: Connection failure
func NewClient(cfg *config.RedisConfig, prefix string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return Wrap(rdb, prefix), nil
}

// Wrap builds a Client around an existing go-redis client.
func Wrap(rdb *redis.Client, prefix string) *Client {
	return &Client{client: rdb, prefix: prefix}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient exposes the underlying client for the rate limiter.
func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key returns the namespaced redis key for a document.
func (c *Client) Key(name string) string {
	return c.prefix + name
}

// GetDocument reads a whole document. Missing keys yield ErrNil.
func (c *Client) GetDocument(ctx context.Context, name string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", name, err)
	}
	return data, nil
}

// SetDocument replaces a whole document. A single SET is atomic in redis.
func (c *Client) SetDocument(ctx context.Context, name string, data []byte) error {
	if err := c.client.Set(ctx, c.Key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set document %s: %w", name, err)
	}
	return nil
}
