package core

import (
	"fmt"
	"strings"
	"time"
)

// Logic is the boolean combinator of a condition group
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ParseLogic normalizes a logic keyword ("and", "OR", ...)
func ParseLogic(s string) (Logic, error) {
	switch Logic(strings.ToUpper(strings.TrimSpace(s))) {
	case LogicAnd:
		return LogicAnd, nil
	case LogicOr:
		return LogicOr, nil
	}
	return "", fmt.Errorf("unknown logic %q (must be AND or OR)", s)
}

// Aggregation is the reduction applied to windowed field values before comparison
type Aggregation string

const (
	AggregationLast   Aggregation = "LAST"
	AggregationMax    Aggregation = "MAX"
	AggregationMin    Aggregation = "MIN"
	AggregationAvg    Aggregation = "AVG"
	AggregationSum    Aggregation = "SUM"
	AggregationStd    Aggregation = "STD"
	AggregationMedian Aggregation = "MEDIAN"
	AggregationSlope  Aggregation = "SLOPE"
)

// ParseAggregation normalizes an aggregation keyword. An empty value means LAST.
func ParseAggregation(s string) (Aggregation, error) {
	a := Aggregation(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case "":
		return AggregationLast, nil
	case AggregationLast, AggregationMax, AggregationMin, AggregationAvg,
		AggregationSum, AggregationStd, AggregationMedian, AggregationSlope:
		return a, nil
	}
	return "", fmt.Errorf("unknown aggregation %q", s)
}

// Operator is a comparator used by operator leaves
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// ParseOperator validates a comparator symbol
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// ComparisonKind names the way a leaf compares transaction data
type ComparisonKind string

const (
	ComparisonOperator         ComparisonKind = "operator"
	ComparisonLike             ComparisonKind = "like"
	ComparisonRegex            ComparisonKind = "regex"
	ComparisonCacheContains    ComparisonKind = "cache_contains"
	ComparisonCacheNotContains ComparisonKind = "cache_not_contains"
	ComparisonCacheExists      ComparisonKind = "cache_exists"
)

// ParseComparisonKind accepts both snake_case and kebab-case spellings
func ParseComparisonKind(s string) (ComparisonKind, error) {
	k := ComparisonKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch k {
	case ComparisonOperator, ComparisonLike, ComparisonRegex,
		ComparisonCacheContains, ComparisonCacheNotContains, ComparisonCacheExists:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidComparisonKind, s)
}

// Node is an element of a rule's condition tree. The set of implementations is
// closed: *Group and *Leaf.
type Node interface {
	isNode()
}

// Group combines child nodes with AND/OR logic
type Group struct {
	Logic    Logic
	Children []Node
}

func (*Group) isNode() {}

// Leaf is an atomic test against transaction data
type Leaf struct {
	ID             string
	Field          string
	Lookback       time.Duration // zero evaluates only the anchor transaction
	TimestampField string
	Comparison     Comparison
}

func (*Leaf) isNode() {}

// Comparison is the kind-specific part of a leaf. Implementations:
// *OperatorComparison, *PatternComparison, *CacheComparison.
type Comparison interface {
	Kind() ComparisonKind
	isComparison()
}

// OperatorComparison aggregates windowed values and compares against a threshold
type OperatorComparison struct {
	Aggregation Aggregation
	Operator    Operator
	Threshold   interface{}
}

func (*OperatorComparison) Kind() ComparisonKind { return ComparisonOperator }
func (*OperatorComparison) isComparison()        {}

// Matcher reports whether a string matches a compiled pattern
type Matcher interface {
	MatchString(s string) (bool, error)
}

// PatternComparison matches windowed values against a like or regex pattern
type PatternComparison struct {
	PatternKind ComparisonKind // ComparisonLike or ComparisonRegex
	Pattern     string
	Matcher     Matcher
}

func (c *PatternComparison) Kind() ComparisonKind { return c.PatternKind }
func (*PatternComparison) isComparison()          {}

// CacheComparison checks external store state under a rendered key
type CacheComparison struct {
	CacheKind   ComparisonKind // one of the cache_* kinds
	KeyTemplate *Template
}

func (c *CacheComparison) Kind() ComparisonKind { return c.CacheKind }
func (*CacheComparison) isComparison()          {}

// EffectiveAggregation returns the aggregation actually applied for a leaf.
// A zero lookback always reduces to LAST.
func (l *Leaf) EffectiveAggregation() Aggregation {
	oc, ok := l.Comparison.(*OperatorComparison)
	if !ok || l.Lookback == 0 {
		return AggregationLast
	}
	return oc.Aggregation
}

// Walk visits every node of the tree depth-first
func Walk(n Node, fn func(Node)) {
	fn(n)
	if g, ok := n.(*Group); ok {
		for _, c := range g.Children {
			Walk(c, fn)
		}
	}
}
