package detect

import (
	"context"
	"strings"
)

// DefaultCounterKeyPrefix prefixes every detection counter key
const DefaultCounterKeyPrefix = "detected:count"

// DetectionCounter tracks how often a rule matched a transaction
type DetectionCounter struct {
	store  CounterStore
	prefix string
}

// NewDetectionCounter creates a counter writing keys under prefix
func NewDetectionCounter(store CounterStore, prefix string) *DetectionCounter {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = DefaultCounterKeyPrefix
	}
	return &DetectionCounter{store: store, prefix: prefix}
}

// Key returns the counter key for a rule and transaction
func (dc *DetectionCounter) Key(ruleID, txnID string) string {
	return dc.prefix + ":" + ruleID + ":" + txnID
}

// IncrementAndCheck atomically increments the counter and reports whether the
// post-increment count reached threshold. Thresholds below 1 are treated as 1.
func (dc *DetectionCounter) IncrementAndCheck(ctx context.Context, ruleID, txnID string, threshold int64) (int64, bool, error) {
	if threshold < 1 {
		threshold = 1
	}
	count, err := dc.store.Increment(ctx, dc.Key(ruleID, txnID))
	if err != nil {
		return 0, false, err
	}
	return count, count >= threshold, nil
}
