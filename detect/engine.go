package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fdsengine/core"
	"fdsengine/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig holds the transaction field names and behavior switches of an Engine
type EngineConfig struct {
	IDField          string
	StreamField      string
	CounterKeyPrefix string
	// ResetStoreOnTerminalDetection flushes the whole store before a LABEL/BLOCK
	// rule's actions run
	ResetStoreOnTerminalDetection bool
	// TimeParser parses anchor, window and score timestamps. Nil uses the default layouts in UTC.
	TimeParser *core.TimeParser
}

// Engine evaluates transaction batches against a rule catalog. It holds no
// mutable state between calls; counters and caches live in the store.
type Engine struct {
	rules       []*core.Rule
	tree        *TreeEvaluator
	counter     *DetectionCounter
	actions     *ActionExecutor
	idField     string
	streamField string
	logger      *zap.SugaredLogger
	now         func() time.Time
	newID       func() string
}

// NewEngine creates an engine over rules in catalog order
func NewEngine(rules []*core.Rule, store CounterStore, cfg EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	for i, r := range rules {
		if r == nil || r.Steps == nil {
			return nil, fmt.Errorf("%w: rule %d has no condition tree", core.ErrInvalidConfiguration, i)
		}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.IDField == "" {
		cfg.IDField = core.DefaultIDField
	}
	if cfg.StreamField == "" {
		cfg.StreamField = core.DefaultStreamField
	}
	times := cfg.TimeParser
	if times == nil {
		times = core.MustNewTimeParser(nil, time.UTC, 0)
	}

	return &Engine{
		rules:       rules,
		tree:        NewTreeEvaluator(NewLeafEvaluator(store, times, logger)),
		counter:     NewDetectionCounter(store, cfg.CounterKeyPrefix),
		actions:     NewActionExecutor(store, times, cfg.ResetStoreOnTerminalDetection, logger),
		idField:     cfg.IDField,
		streamField: cfg.StreamField,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// Rules returns the catalog in evaluation order
func (e *Engine) Rules() []*core.Rule {
	return e.rules
}

// Evaluate runs the catalog over txns and returns the first terminal detection.
// Transactions are visited in input order and rules in catalog order; the whole
// batch is the window for every leaf. It returns nil, nil when no LABEL/BLOCK
// rule reaches its threshold.
//
// A template or store failure aborts the batch with an *EvaluationError naming
// the rule, the transaction and the transactions already fully evaluated.
func (e *Engine) Evaluate(ctx context.Context, txns []core.Transaction) (*core.Incident, error) {
	start := time.Now()
	defer func() {
		metrics.BatchEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	evaluated := make([]string, 0, len(txns))
	for _, txn := range txns {
		id := txn.String(e.idField)
		if id == "" {
			// without an id the counter key would be shared by every such transaction
			e.logger.Warnw("Skipping transaction without id",
				"id_field", e.idField)
			metrics.EvaluationErrors.WithLabelValues("missing_id").Inc()
			continue
		}

		incident, err := e.evaluateTransaction(ctx, txns, txn, id)
		if err != nil {
			return nil, e.fail(err, id, evaluated)
		}
		if incident != nil {
			return incident, nil
		}
		evaluated = append(evaluated, id)
		metrics.TransactionsEvaluated.Inc()
	}
	return nil, nil
}

func (e *Engine) evaluateTransaction(ctx context.Context, window []core.Transaction, txn core.Transaction, id string) (*core.Incident, error) {
	stream := txn.String(e.streamField)
	for _, rule := range e.rules {
		if !rule.AppliesTo(stream) {
			continue
		}

		matched, err := e.tree.Evaluate(ctx, rule.Steps, window, txn)
		if err != nil {
			return nil, &ruleError{ruleID: rule.ID, err: err}
		}
		if !matched {
			continue
		}

		count, met, err := e.counter.IncrementAndCheck(ctx, rule.ID, id, rule.Threshold())
		if err != nil {
			return nil, &ruleError{ruleID: rule.ID, err: err}
		}
		if !met {
			metrics.RuleMatches.WithLabelValues(rule.ID, "below_threshold").Inc()
			e.logger.Debugw("Rule matched below threshold",
				"rule_id", rule.ID,
				"transaction_id", id,
				"count", count,
				"threshold", rule.Threshold())
			continue
		}

		if err := e.actions.Run(ctx, rule, txn); err != nil {
			return nil, &ruleError{ruleID: rule.ID, err: err}
		}

		if !rule.Action.IsTerminal() {
			metrics.RuleMatches.WithLabelValues(rule.ID, "detected").Inc()
			e.logger.Infow("Rule detected",
				"rule_id", rule.ID,
				"transaction_id", id,
				"action", rule.Action,
				"count", count)
			continue
		}

		incident, err := e.newIncident(rule, txn, id, count)
		if err != nil {
			return nil, &ruleError{ruleID: rule.ID, err: err}
		}
		metrics.RuleMatches.WithLabelValues(rule.ID, "terminal").Inc()
		metrics.IncidentsRaised.WithLabelValues(string(rule.Action), rule.Level).Inc()
		e.logger.Warnw("Terminal detection",
			"rule_id", rule.ID,
			"transaction_id", id,
			"action", rule.Action,
			"incident_id", incident.ID)
		return incident, nil
	}
	return nil, nil
}

func (e *Engine) newIncident(rule *core.Rule, txn core.Transaction, id string, count int64) (*core.Incident, error) {
	payload, err := txn.JSON()
	if err != nil {
		return nil, err
	}
	return &core.Incident{
		ID:              e.newID(),
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Level:           rule.Level,
		Action:          rule.Action,
		Notify:          rule.Notify,
		TransactionID:   id,
		TransactionJSON: payload,
		Count:           count,
		DetectedAt:      e.now().UTC(),
	}, nil
}

// ruleError carries the failing rule id up to Evaluate
type ruleError struct {
	ruleID string
	err    error
}

func (e *ruleError) Error() string { return e.err.Error() }
func (e *ruleError) Unwrap() error { return e.err }

func (e *Engine) fail(err error, txnID string, evaluated []string) error {
	evalErr := &core.EvaluationError{
		TransactionID: txnID,
		Evaluated:     evaluated,
		Err:           err,
	}
	var re *ruleError
	if errors.As(err, &re) {
		evalErr.RuleID = re.ruleID
		evalErr.Err = re.err
	}

	kind := "other"
	switch {
	case errors.Is(err, core.ErrTemplateSubstitution):
		kind = "template"
	case errors.Is(err, core.ErrStoreUnavailable):
		kind = "store"
	case errors.Is(err, core.ErrInvalidConfiguration), errors.Is(err, core.ErrInvalidComparisonKind):
		kind = "configuration"
	}
	metrics.EvaluationErrors.WithLabelValues(kind).Inc()
	e.logger.Errorw("Batch evaluation aborted",
		"rule_id", evalErr.RuleID,
		"transaction_id", txnID,
		"evaluated", len(evaluated),
		"error", evalErr.Err)
	return evalErr
}
