package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Gopher0727/FeaturedFeed/config"
	pkgredis "github.com/Gopher0727/FeaturedFeed/internal/pkg/redis"
)

// ErrKeyNotFound is returned by Load when no document has been saved under key.
var ErrKeyNotFound = errors.New("storage: key not found")

// DocumentStore is a key/value store of whole JSON documents. Save replaces
// the previous document atomically: a reader sees either the old or the new
// document, never a mix.
type DocumentStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// LoadJSON decodes the document at key into v. Missing keys leave v untouched
// and return (false, nil).
func LoadJSON(ctx context.Context, s DocumentStore, key string, v any) (bool, error) {
	data, err := s.Load(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v with two-space indentation and saves it under key.
func SaveJSON(ctx context.Context, s DocumentStore, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Save(ctx, key, data)
}

// Open builds the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (DocumentStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.Storage.Dir)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		client, err := pkgredis.NewClient(&cfg.Redis, cfg.Storage.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	case config.BackendPostgres:
		pg := cfg.Postgres
		dsn := BuildDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		db, err := InitPostgres(dsn, pg.MaxIdleConns, pg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case config.BackendPebble:
		return NewPebbleStore(filepath.Clean(cfg.Storage.PebblePath))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
