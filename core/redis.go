package core

import (
	"context"
	"errors"
	"time"

	"fdsengine/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// OpTimeout bounds every store round trip (0 = rely on the caller's context)
	OpTimeout time.Duration
	// CounterTTL is applied to detection counters when they are created (0 = no expiry)
	CounterTTL time.Duration
	Breaker    BreakerConfig
}

// RedisStore is the Redis-backed counter store shared by all engine instances.
// Every call is a single synchronous round trip guarded by a circuit breaker.
type RedisStore struct {
	client     *redis.Client
	logger     *zap.SugaredLogger
	opTimeout  time.Duration
	counterTTL time.Duration
	breaker    *CircuitBreaker
}

// NewRedisStore creates a store connected to opts.Addr
func NewRedisStore(opts RedisOptions, logger *zap.SugaredLogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return NewRedisStoreWithClient(client, opts, logger)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, opts RedisOptions, logger *zap.SugaredLogger) (*RedisStore, error) {
	bc := opts.Breaker
	if bc == (BreakerConfig{}) {
		bc = DefaultBreakerConfig()
	}
	breaker, err := NewCircuitBreaker(bc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisStore{
		client:     client,
		logger:     logger,
		opTimeout:  opts.OpTimeout,
		counterTTL: opts.CounterTTL,
		breaker:    breaker,
	}, nil
}

// Ping tests the Redis connection
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.do(ctx, "ping", "", func(ctx context.Context) error {
		return rs.client.Ping(ctx).Err()
	})
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// BreakerState exposes the circuit breaker state for health reporting
func (rs *RedisStore) BreakerState() BreakerState {
	return rs.breaker.State()
}

// Increment atomically increments key and returns the new value. With a counter
// TTL the expiry is sent in the same MULTI/EXEC round trip and only set when the
// key has none, so later hits do not extend it.
func (rs *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	var count int64
	err := rs.do(ctx, "incr", key, func(ctx context.Context) error {
		if rs.counterTTL <= 0 {
			var err error
			count, err = rs.client.Incr(ctx, key).Result()
			return err
		}

		var incr *redis.IntCmd
		_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, rs.counterTTL)
			return nil
		})
		if err != nil {
			return err
		}
		count = incr.Val()
		return nil
	})
	return count, err
}

// SetAdd adds member to the set at key
func (rs *RedisStore) SetAdd(ctx context.Context, key, member string) error {
	return rs.do(ctx, "sadd", key, func(ctx context.Context) error {
		return rs.client.SAdd(ctx, key, member).Err()
	})
}

// SetContains reports whether member is in the set at key
func (rs *RedisStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	var found bool
	err := rs.do(ctx, "sismember", key, func(ctx context.Context) error {
		var err error
		found, err = rs.client.SIsMember(ctx, key, member).Result()
		return err
	})
	return found, err
}

// KeyExists reports whether key exists
func (rs *RedisStore) KeyExists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := rs.do(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		n, err = rs.client.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

// SortedSetAdd adds member with score to the sorted set at key
func (rs *RedisStore) SortedSetAdd(ctx context.Context, key, member string, score int64) error {
	return rs.do(ctx, "zadd", key, func(ctx context.Context) error {
		return rs.client.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
	})
}

// FlushAll clears every key on the server
func (rs *RedisStore) FlushAll(ctx context.Context) error {
	return rs.do(ctx, "flushall", "", func(ctx context.Context) error {
		return rs.client.FlushAll(ctx).Err()
	})
}

func (rs *RedisStore) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if err := rs.breaker.Allow(); err != nil {
		metrics.StoreOperations.WithLabelValues(op, "rejected").Inc()
		return &StoreError{Op: op, Key: key, Err: err}
	}

	if rs.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.opTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.StoreOperations.WithLabelValues(op, "error").Inc()
		if rs.breaker.RecordFailure() {
			rs.logger.Errorw("Counter store circuit breaker opened", "op", op, "error", err)
		} else {
			rs.logger.Warnw("Counter store operation failed", "op", op, "key", key, "error", err)
		}
		return &StoreError{Op: op, Key: key, Err: err}
	}

	rs.breaker.RecordSuccess()
	metrics.StoreOperations.WithLabelValues(op, "ok").Inc()
	return nil
}
