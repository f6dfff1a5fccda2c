package detect

import (
	"context"
	"fmt"
	"time"

	"fdsengine/core"
	"fdsengine/metrics"

	"go.uber.org/zap"
)

// RuleIDField is the extra placeholder available to scored-set value templates
const RuleIDField = "rule_id"

// ActionExecutor performs the caching side effects of a confirmed detection.
//
// Side effects:
//   - object_set: SADD the transaction's FieldToCache value under the rendered key
//   - scored_set: ZADD the rendered value template scored by the ScoreField timestamp
//   - terminal rules optionally FLUSHALL the store first (resetOnTerminal)
//
// The reset runs before the rule's own actions, so the entries a terminal rule
// caches survive its own flush.
type ActionExecutor struct {
	store           CounterStore
	times           *core.TimeParser
	logger          *zap.SugaredLogger
	resetOnTerminal bool
}

// NewActionExecutor creates an action executor. resetOnTerminal enables the
// global store flush on LABEL/BLOCK detections.
func NewActionExecutor(store CounterStore, times *core.TimeParser, resetOnTerminal bool, logger *zap.SugaredLogger) *ActionExecutor {
	if times == nil {
		times = core.MustNewTimeParser(nil, time.UTC, 0)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ActionExecutor{
		store:           store,
		times:           times,
		logger:          logger,
		resetOnTerminal: resetOnTerminal,
	}
}

// Run executes a detected rule's side effects for txn
func (ae *ActionExecutor) Run(ctx context.Context, rule *core.Rule, txn core.Transaction) error {
	if rule.Action.IsTerminal() && ae.resetOnTerminal {
		if err := ae.store.FlushAll(ctx); err != nil {
			return err
		}
		metrics.StoreResets.Inc()
		ae.logger.Warnw("Counter store flushed on terminal detection",
			"rule_id", rule.ID,
			"action", rule.Action)
	}
	return ae.RunActions(ctx, rule.OnDetected, txn, rule.ID)
}

// RunActions executes actions in order and stops at the first fatal error
func (ae *ActionExecutor) RunActions(ctx context.Context, actions []core.OnDetectedAction, txn core.Transaction, ruleID string) error {
	for i := range actions {
		action := &actions[i]
		var err error
		switch action.CacheType {
		case core.CacheTypeObjectSet:
			err = ae.addToObjectSet(ctx, action, txn)
		case core.CacheTypeScoredSet:
			err = ae.addToScoredSet(ctx, action, txn, ruleID)
		default:
			err = fmt.Errorf("%w: unknown cache type %q", core.ErrInvalidConfiguration, action.CacheType)
		}
		if err != nil {
			return fmt.Errorf("on_detected[%d]: %w", i, err)
		}
	}
	return nil
}

func (ae *ActionExecutor) addToObjectSet(ctx context.Context, action *core.OnDetectedAction, txn core.Transaction) error {
	key, err := action.KeyTemplate.Render(txn)
	if err != nil {
		return err
	}

	value, ok := txn.Get(action.FieldToCache)
	member := ""
	if ok {
		member = core.FormatValue(value)
	}
	if member == "" {
		ae.logger.Debugw("Skipping object set action, field empty",
			"key", key,
			"field", action.FieldToCache)
		return nil
	}

	if err := ae.store.SetAdd(ctx, key, member); err != nil {
		return err
	}
	metrics.ActionsExecuted.WithLabelValues(string(core.CacheTypeObjectSet)).Inc()
	return nil
}

// addToScoredSet renders both templates before reading the score so a missing
// placeholder is fatal even when the score field is also unusable
func (ae *ActionExecutor) addToScoredSet(ctx context.Context, action *core.OnDetectedAction, txn core.Transaction, ruleID string) error {
	key, err := action.KeyTemplate.Render(txn)
	if err != nil {
		return err
	}
	member, err := action.ValueTemplate.Render(txn.WithField(RuleIDField, ruleID))
	if err != nil {
		return err
	}

	raw, _ := txn.Get(action.ScoreField)
	ts, err := ae.times.Parse(raw)
	if err != nil {
		// the detection already counted; an unusable score only loses this cache entry
		ae.logger.Warnw("Skipping scored set action, score field unusable",
			"rule_id", ruleID,
			"key", key,
			"field", action.ScoreField,
			"error", err)
		metrics.ActionsExecuted.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := ae.store.SortedSetAdd(ctx, key, member, ts.Unix()); err != nil {
		return err
	}
	metrics.ActionsExecuted.WithLabelValues(string(core.CacheTypeScoredSet)).Inc()
	return nil
}
