// Package app wires the stores, cache, notifier and service shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/magcollector/internal/cache"
	"example.com/magcollector/internal/config"
	"example.com/magcollector/internal/domain"
	"example.com/magcollector/internal/notify"
	"example.com/magcollector/internal/persistence/postgres"
)

// Runtime owns the long-lived clients. Close releases them in reverse order.
type Runtime struct {
	Pool       *pgxpool.Pool
	Repository *postgres.Repository
	Service    *domain.Service

	closers []func() error
}

// New connects to Postgres and, when configured, Redis and Kafka, then builds the service.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	rt := &Runtime{Pool: pool, Repository: postgres.NewRepository(pool)}
	rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

	opts := []domain.Option{domain.WithLogger(logger)}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		index := cache.NewRedisBatchIndex(client, cfg.BatchCacheTTL)
		if err := index.Ping(ctx); err != nil {
			// The cache is an optimisation; run without it.
			logger.Warn("redis unavailable, batch cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			opts = append(opts, domain.WithCache(index))
			rt.closers = append(rt.closers, client.Close)
		}
	}

	if cfg.NotifyEnabled && len(cfg.KafkaBrokers) > 0 {
		writer := notify.NewBatchWriter(cfg.KafkaBrokers, cfg.BatchTopic)
		opts = append(opts, domain.WithNotifier(notify.NewKafkaNotifier(writer)))
		rt.closers = append(rt.closers, writer.Close)
	}

	rt.Service = domain.NewService(rt.Repository, opts...)
	return rt, nil
}

// Close releases every client.
func (r *Runtime) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}
