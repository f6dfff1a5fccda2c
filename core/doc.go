// Package core defines the domain model of the fraud detection engine.
//
// # Overview
//
// The core package provides:
//   - Transactions and incidents (Transaction, Incident)
//   - The compiled rule model: Rule, OnDetectedAction and the condition
//     tree of *Group and *Leaf nodes with their Comparison variants
//   - Key templates with {field} and ${rule_id} placeholders (Template)
//   - Timestamp and lookback parsing (TimeParser, ParseLookback)
//   - Value coercion and operator comparison (ToFloat, Compare)
//   - The Redis-backed store (RedisStore) guarded by a CircuitBreaker
//   - Typed errors shared by the loader, engine and stream runner
//
// # Error Model
//
// Leaf-level problems such as missing fields or pattern timeouts
// are fail-closed: the leaf evaluates to false and evaluation continues.
// They wrap ErrMissingField, ErrTimestampParse and the other fail-closed
// sentinels and are recognised with IsFailClosed.
//
// Problems that invalidate a whole batch are fatal and surface as
// *TemplateError, *StoreError or *EvaluationError. Catalog problems are
// reported at load time as *RuleValidationError.
package core
