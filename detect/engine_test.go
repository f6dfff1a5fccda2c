package detect

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fdsengine/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, rules []*core.Rule, store CounterStore, cfg EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(rules, store, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC) }
	return e
}

func highValueATMRule(id string, action core.Action, threshold int) *core.Rule {
	return &core.Rule{
		ID:                 id,
		Name:               "High value ATM withdrawal",
		Level:              "high",
		Action:             action,
		DetectionThreshold: threshold,
		Steps: &core.Group{Logic: core.LogicAnd, Children: []core.Node{
			operatorLeaf("amount", core.OpGreater, 10000000),
			operatorLeaf("channel_type", core.OpEqual, "ATM"),
		}},
	}
}

func atmTxn(id string, amount int) core.Transaction {
	return txn(map[string]interface{}{
		"@id":          id,
		"@index":       "fds-transactions-2024.03",
		"@timestamp":   "2024-03-01 10:00:00",
		"amount":       amount,
		"channel_type": "ATM",
		"account_no":   "ACC1",
	})
}

func TestEngine_TerminalDetectionReturnsIncident(t *testing.T) {
	store, mr := newTestStore(t)
	e := newTestEngine(t, []*core.Rule{highValueATMRule("R1", core.ActionBlock, 1)}, store, EngineConfig{})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{atmTxn("T1", 12000000)})
	require.NoError(t, err)
	require.NotNil(t, incident)

	assert.Equal(t, "R1", incident.RuleID)
	assert.Equal(t, "T1", incident.TransactionID)
	assert.Equal(t, core.ActionBlock, incident.Action)
	assert.Equal(t, int64(1), incident.Count)
	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC), incident.DetectedAt)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(incident.TransactionJSON), &payload))
	assert.Equal(t, "T1", payload["@id"])
	assert.Equal(t, float64(12000000), payload["amount"])

	v, err := mr.Get("detected:count:R1:T1")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestEngine_NoMatchReturnsNil(t *testing.T) {
	store, mr := newTestStore(t)
	e := newTestEngine(t, []*core.Rule{highValueATMRule("R1", core.ActionBlock, 1)}, store, EngineConfig{})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{atmTxn("T1", 300000)})
	require.NoError(t, err)
	assert.Nil(t, incident)
	assert.Empty(t, mr.Keys())
}

func TestEngine_ThresholdAcrossCalls(t *testing.T) {
	store, _ := newTestStore(t)
	e := newTestEngine(t, []*core.Rule{highValueATMRule("R1", core.ActionLabel, 3)}, store, EngineConfig{})
	batch := []core.Transaction{atmTxn("T1", 12000000)}

	for call := 1; call <= 4; call++ {
		incident, err := e.Evaluate(context.Background(), batch)
		require.NoError(t, err)
		if call < 3 {
			assert.Nil(t, incident, "call %d", call)
			continue
		}
		require.NotNil(t, incident, "call %d", call)
		assert.Equal(t, int64(call), incident.Count)
	}
}

func TestEngine_FirstMatchWinsAndIsDeterministic(t *testing.T) {
	rules := []*core.Rule{
		highValueATMRule("R-alert", "ALERT", 1),
		highValueATMRule("R-label", core.ActionLabel, 1),
		highValueATMRule("R-block", core.ActionBlock, 1),
	}
	batch := []core.Transaction{
		atmTxn("T0", 100),
		atmTxn("T1", 12000000),
		atmTxn("T2", 15000000),
	}

	var first *core.Incident
	for run := 0; run < 3; run++ {
		store, mr := newTestStore(t)
		e := newTestEngine(t, rules, store, EngineConfig{})

		incident, err := e.Evaluate(context.Background(), batch)
		require.NoError(t, err)
		require.NotNil(t, incident)
		assert.Equal(t, "R-label", incident.RuleID)
		assert.Equal(t, "T1", incident.TransactionID)

		// the non-terminal rule still counted; later rules and transactions were not evaluated
		assert.True(t, mr.Exists("detected:count:R-alert:T1"))
		assert.False(t, mr.Exists("detected:count:R-block:T1"))
		assert.False(t, mr.Exists("detected:count:R-alert:T2"))

		if first != nil {
			assert.Equal(t, first.RuleID, incident.RuleID)
			assert.Equal(t, first.TransactionID, incident.TransactionID)
			assert.Equal(t, first.TransactionJSON, incident.TransactionJSON)
		}
		first = incident
	}
}

func TestEngine_NonTerminalRulesNeverReturnIncident(t *testing.T) {
	store, mr := newTestStore(t)
	rule := highValueATMRule("R1", "ALERT", 1)
	rule.OnDetected = []core.OnDetectedAction{objectSetAction("suspects:{channel_type}", "account_no")}
	e := newTestEngine(t, []*core.Rule{rule}, store, EngineConfig{})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{atmTxn("T1", 12000000)})
	require.NoError(t, err)
	assert.Nil(t, incident)

	ok, err := mr.SIsMember("suspects:ATM", "ACC1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_IndexPrefixFilter(t *testing.T) {
	store, _ := newTestStore(t)
	rule := highValueATMRule("R1", core.ActionBlock, 1)
	rule.IndexPrefixes = []string{"card-", "fds-transactions"}
	other := highValueATMRule("R2", core.ActionBlock, 1)
	other.IndexPrefixes = []string{"wire-"}
	e := newTestEngine(t, []*core.Rule{other, rule}, store, EngineConfig{})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{atmTxn("T1", 12000000)})
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, "R1", incident.RuleID)

	unindexed := atmTxn("T2", 12000000)
	delete(unindexed, "@index")
	incident, err = e.Evaluate(context.Background(), []core.Transaction{unindexed})
	require.NoError(t, err)
	assert.Nil(t, incident)
}

func TestEngine_CustomFieldNames(t *testing.T) {
	store, mr := newTestStore(t)
	rule := highValueATMRule("R1", core.ActionBlock, 1)
	rule.IndexPrefixes = []string{"card"}
	e := newTestEngine(t, []*core.Rule{rule}, store, EngineConfig{
		IDField:          "txn_id",
		StreamField:      "source",
		CounterKeyPrefix: "fds:hits",
	})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{txn(map[string]interface{}{
		"txn_id":       "X9",
		"source":       "card-auth",
		"@timestamp":   "2024-03-01 10:00:00",
		"amount":       20000000,
		"channel_type": "ATM",
	})})
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, "X9", incident.TransactionID)
	assert.True(t, mr.Exists("fds:hits:R1:X9"))
}

func TestEngine_TemplateErrorAbortsWithoutMutation(t *testing.T) {
	store, mr := newTestStore(t)
	rule := &core.Rule{
		ID:     "R-cache",
		Action: core.ActionBlock,
		Steps:  cacheLeaf(core.ComparisonCacheExists, "", "blacklist:{account_no}"),
	}
	e := newTestEngine(t, []*core.Rule{rule}, store, EngineConfig{})

	t1 := atmTxn("T1", 100)
	delete(t1, "account_no")
	incident, err := e.Evaluate(context.Background(), []core.Transaction{t1})
	assert.Nil(t, incident)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTemplateSubstitution)

	var evalErr *core.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "R-cache", evalErr.RuleID)
	assert.Equal(t, "T1", evalErr.TransactionID)
	assert.Empty(t, evalErr.Evaluated)
	assert.Empty(t, mr.Keys())
}

func TestEngine_StoreFailureReportsProgress(t *testing.T) {
	store, mr := newTestStore(t)
	rule := highValueATMRule("R1", core.ActionBlock, 1)
	e := newTestEngine(t, []*core.Rule{rule}, store, EngineConfig{})

	// T0 and T1 never match so never touch the store; T2 does
	batch := []core.Transaction{atmTxn("T0", 1), atmTxn("T1", 2), atmTxn("T2", 12000000)}
	mr.SetError("LOADING Redis is loading the dataset in memory")

	incident, err := e.Evaluate(context.Background(), batch)
	assert.Nil(t, incident)

	var evalErr *core.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Equal(t, "R1", evalErr.RuleID)
	assert.Equal(t, "T2", evalErr.TransactionID)
	assert.Equal(t, []string{"T0", "T1"}, evalErr.Evaluated)
}

func TestEngine_StoreFailureIsNotTreatedAsNoMatch(t *testing.T) {
	rule := &core.Rule{
		ID:     "R1",
		Action: core.ActionBlock,
		Steps:  cacheLeaf(core.ComparisonCacheNotContains, "device_id", "devices:{account_no}"),
	}
	e := newTestEngine(t, []*core.Rule{rule}, &failingStore{}, EngineConfig{})

	_, err := e.Evaluate(context.Background(), []core.Transaction{txn(map[string]interface{}{
		"@id":        "T1",
		"account_no": "A",
		"device_id":  "D",
	})})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestEngine_SkipsTransactionsWithoutID(t *testing.T) {
	store, mr := newTestStore(t)
	e := newTestEngine(t, []*core.Rule{highValueATMRule("R1", core.ActionBlock, 1)}, store, EngineConfig{})

	anonymous := atmTxn("", 12000000)
	delete(anonymous, "@id")
	incident, err := e.Evaluate(context.Background(), []core.Transaction{anonymous})
	require.NoError(t, err)
	assert.Nil(t, incident)
	assert.Empty(t, mr.Keys())
}

func TestEngine_WindowSpansBatch(t *testing.T) {
	store, _ := newTestStore(t)
	rule := &core.Rule{
		ID:     "R-velocity",
		Action: core.ActionLabel,
		Steps:  windowLeaf("amount", core.AggregationSum, 10*time.Minute, core.OpGreaterEqual, 3000),
	}
	e := newTestEngine(t, []*core.Rule{rule}, store, EngineConfig{})

	batch := []core.Transaction{
		txn(map[string]interface{}{"@id": "T1", "@timestamp": "2024-03-01 10:00:00", "amount": 1000}),
		txn(map[string]interface{}{"@id": "T2", "@timestamp": "2024-03-01 10:04:00", "amount": 1000}),
		txn(map[string]interface{}{"@id": "T3", "@timestamp": "2024-03-01 10:08:00", "amount": 1000}),
	}
	incident, err := e.Evaluate(context.Background(), batch)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, "T3", incident.TransactionID)
}

func TestEngine_ResetStoreOnTerminalDetection(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("unrelated", "x"))
	e := newTestEngine(t, []*core.Rule{highValueATMRule("R1", core.ActionBlock, 1)}, store, EngineConfig{
		ResetStoreOnTerminalDetection: true,
	})

	incident, err := e.Evaluate(context.Background(), []core.Transaction{atmTxn("T1", 12000000)})
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Empty(t, mr.Keys())
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, nil, EngineConfig{}, nil)
	assert.Error(t, err)

	_, err = NewEngine([]*core.Rule{{ID: "R1"}}, &failingStore{}, EngineConfig{}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}
