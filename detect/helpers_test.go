package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"fdsengine/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestStore starts a miniredis server and returns a RedisStore bound to it
func newTestStore(t *testing.T) (*core.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := core.NewRedisStoreWithClient(client, core.RedisOptions{OpTimeout: time.Second}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// failingStore fails every call the way RedisStore does when Redis is down
type failingStore struct {
	calls int
}

func (f *failingStore) fail(op, key string) error {
	f.calls++
	return &core.StoreError{Op: op, Key: key, Err: errors.New("connection refused")}
}

func (f *failingStore) Increment(_ context.Context, key string) (int64, error) {
	return 0, f.fail("incr", key)
}

func (f *failingStore) SetAdd(_ context.Context, key, _ string) error {
	return f.fail("sadd", key)
}

func (f *failingStore) SetContains(_ context.Context, key, _ string) (bool, error) {
	return false, f.fail("sismember", key)
}

func (f *failingStore) KeyExists(_ context.Context, key string) (bool, error) {
	return false, f.fail("exists", key)
}

func (f *failingStore) SortedSetAdd(_ context.Context, key, _ string, _ int64) error {
	return f.fail("zadd", key)
}

func (f *failingStore) FlushAll(_ context.Context) error {
	return f.fail("flushall", "")
}

func txn(fields map[string]interface{}) core.Transaction {
	return core.Transaction(fields)
}

func operatorLeaf(field string, op core.Operator, threshold interface{}) *core.Leaf {
	return &core.Leaf{
		ID:             field,
		Field:          field,
		TimestampField: core.DefaultTimestampField,
		Comparison:     &core.OperatorComparison{Aggregation: core.AggregationLast, Operator: op, Threshold: threshold},
	}
}

func windowLeaf(field string, agg core.Aggregation, lookback time.Duration, op core.Operator, threshold interface{}) *core.Leaf {
	l := operatorLeaf(field, op, threshold)
	l.Lookback = lookback
	l.Comparison.(*core.OperatorComparison).Aggregation = agg
	return l
}

func likeLeaf(t *testing.T, field, pattern string) *core.Leaf {
	t.Helper()
	m, err := CompileLike(pattern, time.Second)
	require.NoError(t, err)
	return &core.Leaf{
		ID:             field,
		Field:          field,
		TimestampField: core.DefaultTimestampField,
		Comparison:     &core.PatternComparison{PatternKind: core.ComparisonLike, Pattern: pattern, Matcher: m},
	}
}

func cacheLeaf(kind core.ComparisonKind, field, key string) *core.Leaf {
	return &core.Leaf{
		ID:             string(kind),
		Field:          field,
		TimestampField: core.DefaultTimestampField,
		Comparison:     &core.CacheComparison{CacheKind: kind, KeyTemplate: core.MustParseTemplate(key)},
	}
}
