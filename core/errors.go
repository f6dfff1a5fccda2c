package core

import (
	"errors"
	"fmt"
	"strings"
)

// Fail-closed conditions: a leaf hitting one of these evaluates to false and
// evaluation continues.
var (
	// ErrMissingField is returned when a referenced field is absent from a transaction
	ErrMissingField = errors.New("field missing from transaction")

	// ErrTimestampParse is returned when a timestamp value cannot be parsed
	ErrTimestampParse = errors.New("timestamp could not be parsed")

	// ErrUnsupportedAggregation is returned when there are too few data points for an aggregation
	ErrUnsupportedAggregation = errors.New("insufficient data for aggregation")

	// ErrTypeMismatch is returned when values of incompatible types are compared
	ErrTypeMismatch = errors.New("incompatible value types")

	// ErrPatternTimeout is returned when a like/regex match exceeds its time budget
	ErrPatternTimeout = errors.New("pattern match timeout")
)

// Load-time and evaluation-time fatal conditions.
var (
	// ErrInvalidConfiguration marks a malformed rule definition
	ErrInvalidConfiguration = errors.New("invalid rule configuration")

	// ErrInvalidComparisonKind marks an unknown leaf comparison type
	ErrInvalidComparisonKind = errors.New("invalid comparison kind")

	// ErrTemplateSubstitution marks a template referencing an absent field
	ErrTemplateSubstitution = errors.New("template substitution failed")

	// ErrStoreUnavailable marks a failed or timed out counter store call
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

// IsFailClosed reports whether err is a data-content condition that should make
// a leaf evaluate to false rather than abort evaluation.
func IsFailClosed(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrTimestampParse) ||
		errors.Is(err, ErrUnsupportedAggregation) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrPatternTimeout)
}

// RuleValidationError describes a rule rejected at load time
type RuleValidationError struct {
	RuleID string
	// Path locates the offending element, e.g. "steps.conditions[1].pattern"
	Path   string
	Reason string
	// Err is ErrInvalidConfiguration or ErrInvalidComparisonKind
	Err error
}

func (e *RuleValidationError) Error() string {
	id := e.RuleID
	if id == "" {
		id = "<unknown>"
	}
	if e.Path == "" {
		return fmt.Sprintf("rule %s: %s", id, e.Reason)
	}
	return fmt.Sprintf("rule %s: %s: %s", id, e.Path, e.Reason)
}

func (e *RuleValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidConfiguration
	}
	return e.Err
}

// TemplateError is returned when a template references a placeholder the
// context does not provide
type TemplateError struct {
	Template string
	Missing  string
	// Available lists the keys that were present, sorted
	Available []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: placeholder %q missing (available: %s)",
		e.Template, e.Missing, strings.Join(e.Available, ", "))
}

func (e *TemplateError) Unwrap() error {
	return ErrTemplateSubstitution
}

// StoreError wraps a failed counter store operation
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// EvaluationError aborts a batch evaluation with enough context to retry
type EvaluationError struct {
	RuleID        string
	TransactionID string
	// Evaluated holds the ids of transactions fully evaluated before the failure
	Evaluated []string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating rule %s on transaction %s (%d transactions completed): %v",
		e.RuleID, e.TransactionID, len(e.Evaluated), e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
