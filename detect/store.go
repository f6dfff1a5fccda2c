package detect

import "context"

// CounterStore is the external state the engine reads and writes. Every method is
// one synchronous round trip; implementations own the timeout. Increment must be
// atomic per key so engines sharing a store never under- or over-count.
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	SetAdd(ctx context.Context, key, member string) error
	SetContains(ctx context.Context, key, member string) (bool, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	SortedSetAdd(ctx context.Context, key, member string, score int64) error
	FlushAll(ctx context.Context) error
}
