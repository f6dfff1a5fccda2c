package bootstrap

import (
	"context"
	"fmt"

	"fdsengine/config"
	"fdsengine/core"

	"go.uber.org/zap"
)

// RedisOptionsFromConfig maps the redis config section onto store options
func RedisOptionsFromConfig(cfg *config.Config) core.RedisOptions {
	r := cfg.Redis
	return core.RedisOptions{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		PoolSize:   r.PoolSize,
		OpTimeout:  r.OpTimeout,
		CounterTTL: r.CounterTTL,
		Breaker: core.BreakerConfig{
			MaxFailures:         r.CircuitBreaker.MaxFailures,
			Timeout:             r.CircuitBreaker.Timeout,
			MaxHalfOpenRequests: r.CircuitBreaker.MaxHalfOpenRequests,
		},
	}
}

// InitRedisStore connects the counter store and verifies it with a ping
func InitRedisStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*core.RedisStore, error) {
	store, err := core.NewRedisStore(RedisOptionsFromConfig(cfg), sugar)
	if err != nil {
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		msg := ClassifyConnectionError(err, cfg.Redis.Addr)
		sugar.Error(msg)
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	sugar.Infow("Redis counter store connected",
		"addr", cfg.Redis.Addr,
		"db", cfg.Redis.DB,
		"counter_ttl", cfg.Redis.CounterTTL)
	return store, nil
}
