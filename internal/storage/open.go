package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
)

// Open builds the backend selected by cfg. The returned close func releases
// backend connections and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.StorageFS:
		store, err := NewFileStore(cfg.Root)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.StorageS3:
		store, err := NewS3Store(S3Options{
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), client.Close, nil

	default:
		return nil, noop, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
