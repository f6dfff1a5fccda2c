package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fdsengine/core"
	"fdsengine/metrics"

	"go.uber.org/zap"
)

// LeafEvaluator evaluates atomic conditions against an anchor transaction and
// its recent window
type LeafEvaluator struct {
	store  CounterStore
	times  *core.TimeParser
	logger *zap.SugaredLogger
}

// NewLeafEvaluator creates a leaf evaluator. A nil time parser uses the default layouts in UTC.
func NewLeafEvaluator(store CounterStore, times *core.TimeParser, logger *zap.SugaredLogger) *LeafEvaluator {
	if times == nil {
		times = core.MustNewTimeParser(nil, time.UTC, 0)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LeafEvaluator{store: store, times: times, logger: logger}
}

// Evaluate returns the leaf's truth value. Unusable transaction data makes the
// leaf false; template and store failures are returned to the caller.
func (le *LeafEvaluator) Evaluate(ctx context.Context, leaf *core.Leaf, window []core.Transaction, anchor core.Transaction) (bool, error) {
	matched, err := le.evaluate(ctx, leaf, window, anchor)
	if err == nil {
		return matched, nil
	}
	if core.IsFailClosed(err) {
		metrics.LeafFailClosed.WithLabelValues(failClosedReason(err)).Inc()
		le.logger.Debugw("Leaf failed closed",
			"step_id", leaf.ID,
			"field", leaf.Field,
			"comparison", leaf.Comparison.Kind(),
			"error", err)
		return false, nil
	}
	return false, err
}

func (le *LeafEvaluator) evaluate(ctx context.Context, leaf *core.Leaf, window []core.Transaction, anchor core.Transaction) (bool, error) {
	switch c := leaf.Comparison.(type) {
	case *core.OperatorComparison:
		values, err := le.windowValues(leaf, window, anchor)
		if err != nil {
			return false, err
		}
		return le.compareOperator(leaf, c, values)
	case *core.PatternComparison:
		values, err := le.windowValues(leaf, window, anchor)
		if err != nil {
			return false, err
		}
		return matchAny(c, values)
	case *core.CacheComparison:
		return le.checkCache(ctx, leaf, c, anchor)
	case nil:
		return false, fmt.Errorf("%w: leaf %s has no comparison", core.ErrInvalidComparisonKind, leaf.ID)
	default:
		return false, fmt.Errorf("%w: %T", core.ErrInvalidComparisonKind, c)
	}
}

// windowValues collects leaf.Field from every transaction in the recent window,
// oldest first. Transactions lacking the field are skipped; an empty result is
// ErrMissingField.
func (le *LeafEvaluator) windowValues(leaf *core.Leaf, window []core.Transaction, anchor core.Transaction) ([]interface{}, error) {
	recent, err := le.recentWindow(leaf, window, anchor)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, 0, len(recent))
	for _, txn := range recent {
		if v, ok := txn.Get(leaf.Field); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrMissingField, leaf.Field)
	}
	return values, nil
}

// recentWindow returns the transactions whose timestamps fall in
// [anchor-lookback, anchor], in input order. A zero lookback is the anchor alone.
func (le *LeafEvaluator) recentWindow(leaf *core.Leaf, window []core.Transaction, anchor core.Transaction) ([]core.Transaction, error) {
	to, err := le.timestamp(leaf, anchor)
	if err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	if leaf.Lookback == 0 {
		return []core.Transaction{anchor}, nil
	}

	from := to.Add(-leaf.Lookback)
	recent := make([]core.Transaction, 0, len(window))
	for i, txn := range window {
		ts, err := le.timestamp(leaf, txn)
		if err != nil {
			return nil, fmt.Errorf("window[%d]: %w", i, err)
		}
		if ts.Before(from) || ts.After(to) {
			continue
		}
		recent = append(recent, txn)
	}
	return recent, nil
}

func (le *LeafEvaluator) timestamp(leaf *core.Leaf, txn core.Transaction) (time.Time, error) {
	v, ok := txn.Get(leaf.TimestampField)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", core.ErrMissingField, leaf.TimestampField)
	}
	return le.times.Parse(v)
}

func (le *LeafEvaluator) compareOperator(leaf *core.Leaf, c *core.OperatorComparison, values []interface{}) (bool, error) {
	agg := leaf.EffectiveAggregation()
	if agg == core.AggregationLast {
		return core.Compare(values[len(values)-1], c.Operator, c.Threshold)
	}

	nums := make([]float64, len(values))
	for i, v := range values {
		f, ok := core.ToFloat(v)
		if !ok {
			return false, fmt.Errorf("%w: %s over %T value of %s", core.ErrTypeMismatch, agg, v, leaf.Field)
		}
		nums[i] = f
	}
	result, err := Aggregate(agg, nums)
	if err != nil {
		return false, err
	}
	return core.Compare(result, c.Operator, c.Threshold)
}

// matchAny reports whether any non-empty value matches; empty strings never match
func matchAny(c *core.PatternComparison, values []interface{}) (bool, error) {
	for _, v := range values {
		s := core.FormatValue(v)
		if s == "" {
			continue
		}
		ok, err := c.Matcher.MatchString(s)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// checkCache renders the key against the anchor before touching the field, so
// a missing placeholder is reported even when the member is also absent
func (le *LeafEvaluator) checkCache(ctx context.Context, leaf *core.Leaf, c *core.CacheComparison, anchor core.Transaction) (bool, error) {
	key, err := c.KeyTemplate.Render(anchor)
	if err != nil {
		return false, err
	}

	if c.CacheKind == core.ComparisonCacheExists {
		return le.store.KeyExists(ctx, key)
	}

	member, ok := anchor.Get(leaf.Field)
	if !ok {
		return false, fmt.Errorf("%w: %s", core.ErrMissingField, leaf.Field)
	}
	found, err := le.store.SetContains(ctx, key, core.FormatValue(member))
	if err != nil {
		return false, err
	}
	if c.CacheKind == core.ComparisonCacheNotContains {
		return !found, nil
	}
	return found, nil
}

func failClosedReason(err error) string {
	switch {
	case errors.Is(err, core.ErrMissingField):
		return "missing_field"
	case errors.Is(err, core.ErrTimestampParse):
		return "timestamp"
	case errors.Is(err, core.ErrUnsupportedAggregation):
		return "aggregation"
	case errors.Is(err, core.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, core.ErrPatternTimeout):
		return "pattern_timeout"
	}
	return "other"
}
