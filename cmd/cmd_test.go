package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleRules        = "../testdata/rules.yaml"
	sampleTransactions = "../testdata/transactions.json"
)

// execute runs the root command with args and returns stdout and stderr
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "fdsengine", root.Use)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"evaluate", "rules", "serve"} {
		assert.True(t, names[want], "missing command: %s", want)
	}

	for _, flag := range []string{"json", "config", "no-color", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag: %s", flag)
	}
}

func TestRulesValidate(t *testing.T) {
	out, _, err := execute(t, "rules", "validate", "--rules", sampleRules)
	require.NoError(t, err)
	assert.Contains(t, out, "3 rules valid")
	assert.Contains(t, out, "FDS-ATM-001")
	assert.Contains(t, out, "BLOCK (terminal)")
	assert.Contains(t, out, "FDS-DEV-003")
}

func TestRulesValidate_JSON(t *testing.T) {
	out, _, err := execute(t, "rules", "validate", "--rules", sampleRules, "--json")
	require.NoError(t, err)

	var summaries []ruleSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 3)
	assert.Equal(t, "FDS-ATM-001", summaries[0].ID)
	assert.True(t, summaries[0].Terminal)
	assert.Equal(t, 3, summaries[0].Leaves)
	assert.Equal(t, []string{"object_set", "scored_set"}, summaries[0].OnDetected)
	assert.Equal(t, int64(2), summaries[1].Threshold)
	assert.Equal(t, []string{"fds-", "wire-"}, summaries[1].Prefixes)
	assert.False(t, summaries[2].Terminal)
}

func TestRulesValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: BROKEN
    steps:
      field: amount
      comparison_type: fuzzy
`), 0o600))

	_, stderr, err := execute(t, "rules", "validate", "--rules", path)
	require.Error(t, err)
	assert.Contains(t, stderr, "Invalid catalog")
	assert.Contains(t, err.Error(), "BROKEN")
}

func TestEvaluate_RaisesIncident(t *testing.T) {
	mr := miniredis.RunT(t)

	out, _, err := execute(t, "evaluate", "--rules", sampleRules, "--input", sampleTransactions, "--redis", mr.Addr(), "--json")
	require.NoError(t, err)

	var result struct {
		Incident *struct {
			RuleID        string `json:"rule_id"`
			Action        string `json:"action"`
			TransactionID string `json:"transaction_id"`
			Count         int64  `json:"count"`
		} `json:"incident"`
		Transactions int `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Incident)
	assert.Equal(t, "FDS-ATM-001", result.Incident.RuleID)
	assert.Equal(t, "BLOCK", result.Incident.Action)
	assert.Equal(t, "T2", result.Incident.TransactionID)
	assert.Equal(t, int64(1), result.Incident.Count)
	assert.Equal(t, 3, result.Transactions)

	// the non-terminal device rule registered DEV1 on T1, the blocking rule cached DEV9
	devices, err := mr.Members("devices:ACC1")
	require.NoError(t, err)
	assert.Equal(t, []string{"DEV1"}, devices)
	blocked, err := mr.Members("blocked:ACC1")
	require.NoError(t, err)
	assert.Equal(t, []string{"DEV9"}, blocked)
	assert.True(t, mr.Exists("persona:ACC1"))
}

func TestEvaluate_TextOutput(t *testing.T) {
	mr := miniredis.RunT(t)

	out, _, err := execute(t, "evaluate", "--rules", sampleRules, "--input", sampleTransactions, "--redis", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "BLOCK")
	assert.Contains(t, out, "rule FDS-ATM-001")
	assert.Contains(t, out, "on transaction T2")
	assert.Contains(t, out, "fraud-ops")
}

func TestEvaluate_NoIncident(t *testing.T) {
	mr := miniredis.RunT(t)
	// DEV9 already known, so the ATM withdrawal is not from a new device
	_, err := mr.SAdd("devices:ACC1", "DEV9")
	require.NoError(t, err)

	input := filepath.Join(t.TempDir(), "one.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"@id":"T2","@index":"fds-tx","@timestamp":"2024-03-01 10:00:00","account_no":"ACC1","amount":6000000,"channel_type":"ATM","device_id":"DEV9"}`), 0o600))

	out, _, err := execute(t, "evaluate", "--rules", sampleRules, "--input", input, "--redis", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "No incident")
	assert.Contains(t, out, "1 transactions evaluated")
}

func TestEvaluate_StoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)

	input := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(input, []byte(`[{"@id":"T1","@index":"fds-tx","@timestamp":"2024-03-01 10:00:00","account_no":"ACC1","amount":5}]`), 0o600))
	mr.SetError("ERR simulated outage")

	_, _, err := execute(t, "evaluate", "--rules", sampleRules, "--input", input, "--redis", mr.Addr())
	require.Error(t, err)
}

func TestEvaluate_RequiresInput(t *testing.T) {
	_, _, err := execute(t, "evaluate", "--rules", sampleRules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input")
}

func TestReadTransactions(t *testing.T) {
	dir := t.TempDir()

	single := filepath.Join(dir, "single.json")
	require.NoError(t, os.WriteFile(single, []byte(`  {"@id":"T1","amount":10}`), 0o600))
	txns, err := readTransactions(single)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, json.Number("10"), txns[0]["amount"])

	txns, err = readTransactions(sampleTransactions)
	require.NoError(t, err)
	assert.Len(t, txns, 3)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1, 2]`), 0o600))
	_, err = readTransactions(bad)
	assert.Error(t, err)

	nullEntry := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(nullEntry, []byte(`[null]`), 0o600))
	_, err = readTransactions(nullEntry)
	assert.Error(t, err)

	_, err = readTransactions(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
