package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Default transaction field names
const (
	DefaultIDField        = "@id"
	DefaultTimestampField = "@timestamp"
	DefaultStreamField    = "@index"
)

// Transaction is an opaque field-name to scalar mapping. The engine never
// mutates a transaction it is handed.
type Transaction map[string]interface{}

// Get returns a field value and whether it is present and non-nil
func (t Transaction) Get(field string) (interface{}, bool) {
	v, ok := t[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns a field formatted as a string, or "" when absent
func (t Transaction) String(field string) string {
	v, ok := t.Get(field)
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// WithField returns a shallow copy of the transaction with one extra field
func (t Transaction) WithField(field string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[field] = value
	return out
}

// JSON serializes the transaction without HTML escaping so non-ASCII and
// markup characters survive unchanged
func (t Transaction) JSON() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]interface{}(t)); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Incident is the outcome of a terminal detection
type Incident struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"rule_id"`
	RuleName        string    `json:"rule_name,omitempty"`
	Level           string    `json:"level,omitempty"`
	Action          Action    `json:"action"`
	Notify          string    `json:"notify,omitempty"`
	TransactionID   string    `json:"transaction_id"`
	TransactionJSON string    `json:"transaction_json"`
	Count           int64     `json:"count"`
	DetectedAt      time.Time `json:"detected_at"`
}
