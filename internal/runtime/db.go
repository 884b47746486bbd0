package runtime

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to the configured Redis and pings it. It returns nil
// without error when Redis is not configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// OpenStore opens the run store when Postgres is configured, applying
// pending migrations first when migrate is set.
func OpenStore(ctx context.Context, cfg config.PostgresConfig, migrate bool) (*store.Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if migrate {
		if err := store.Migrate("", cfg.DSN(), "up", 0); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store.New(ctx, cfg)
}
