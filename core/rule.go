package core

import (
	"strings"
)

// Action is the outcome a rule requests once its detection threshold is reached
type Action string

const (
	// ActionLabel marks the transaction and stops evaluating the batch
	ActionLabel Action = "LABEL"
	// ActionBlock blocks the transaction and stops evaluating the batch
	ActionBlock Action = "BLOCK"
)

// NormalizeAction upper-cases an action and folds the BLOCKED alias into BLOCK
func NormalizeAction(s string) Action {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if a == "BLOCKED" {
		return ActionBlock
	}
	return a
}

// IsTerminal reports whether the action halts further rule evaluation
func (a Action) IsTerminal() bool {
	return a == ActionLabel || a == ActionBlock
}

// CacheType selects the store structure an on-detected action writes to
type CacheType string

const (
	// CacheTypeObjectSet adds a transaction field value to a set
	CacheTypeObjectSet CacheType = "object_set"
	// CacheTypeScoredSet adds a rendered value to a sorted set scored by a timestamp
	CacheTypeScoredSet CacheType = "scored_set"
)

// ParseCacheType accepts the historical spellings used by rule files
func ParseCacheType(s string) (CacheType, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "object", "object_set":
		return CacheTypeObjectSet, true
	case "personna", "persona", "scored", "scored_set":
		return CacheTypeScoredSet, true
	}
	return "", false
}

// OnDetectedAction is a caching side effect performed on confirmed detection
type OnDetectedAction struct {
	CacheType     CacheType
	KeyTemplate   *Template
	FieldToCache  string    // object_set only
	ScoreField    string    // scored_set only
	ValueTemplate *Template // scored_set only
}

// Rule is an immutable detection scenario
type Rule struct {
	ID                 string
	Name               string
	Level              string
	Action             Action
	Notify             string
	LastModified       string
	IndexPrefixes      []string
	DetectionThreshold int
	Steps              Node
	OnDetected         []OnDetectedAction
}

// AppliesTo reports whether the rule's index-prefix filter admits a stream identifier.
// An empty filter admits every stream.
func (r *Rule) AppliesTo(stream string) bool {
	if len(r.IndexPrefixes) == 0 {
		return true
	}
	for _, p := range r.IndexPrefixes {
		if strings.HasPrefix(stream, p) {
			return true
		}
	}
	return false
}

// Threshold returns the detection threshold, defaulting to 1
func (r *Rule) Threshold() int64 {
	if r.DetectionThreshold < 1 {
		return 1
	}
	return int64(r.DetectionThreshold)
}
