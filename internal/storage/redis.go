package storage

import (
	"context"
	"errors"

	pkgredis "github.com/Gopher0727/FeaturedFeed/internal/pkg/redis"
)

// RedisStore keeps each document in a single redis string.
type RedisStore struct {
	client *pkgredis.Client
}

func NewRedisStore(client *pkgredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetDocument(ctx, key)
	if errors.Is(err, pkgredis.ErrNil) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.client.SetDocument(ctx, key, data)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
