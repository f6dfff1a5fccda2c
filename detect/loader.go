package detect

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"fdsengine/core"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules_schema.json
var rulesSchema []byte

// LoaderOptions configures rule catalog compilation
type LoaderOptions struct {
	// DefaultTimestampField is used by leaves that do not name a timestamp_field
	DefaultTimestampField string
	// RegexTimeout bounds each like/regex match
	RegexTimeout time.Duration
	// SchemaValidation checks the catalog against the embedded JSON schema before decoding
	SchemaValidation bool
	// StrictPatterns rejects regex leaves that LintRegex flags instead of warning
	StrictPatterns bool
}

// Loader reads rule catalogs and compiles them into the typed condition model.
// Every structural problem is reported at load time as a *core.RuleValidationError.
type Loader struct {
	opts     LoaderOptions
	schema   *gojsonschema.Schema
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// NewLoader creates a loader
func NewLoader(opts LoaderOptions, logger *zap.SugaredLogger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.DefaultTimestampField == "" {
		opts.DefaultTimestampField = core.DefaultTimestampField
	}
	if opts.RegexTimeout <= 0 {
		opts.RegexTimeout = DefaultPatternTimeout
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rulesSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules schema: %w", err)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{opts: opts, schema: schema, validate: validate, logger: logger}, nil
}

// LoadRules reads and compiles a catalog file with the given options
func LoadRules(filename string, opts LoaderOptions, logger *zap.SugaredLogger) ([]*core.Rule, error) {
	l, err := NewLoader(opts, logger)
	if err != nil {
		return nil, err
	}
	return l.LoadFile(filename)
}

// LoadFile reads a YAML or JSON catalog from disk
func (l *Loader) LoadFile(filename string) ([]*core.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filename), err)
	}
	l.logger.Infof("Loaded %d rules from %s", len(rules), filename)
	return rules, nil
}

// Load compiles a catalog document. JSON documents are detected by a leading '{'.
func (l *Loader) Load(data []byte) ([]*core.Rule, error) {
	data, err := normalizeDocument(data)
	if err != nil {
		return nil, err
	}

	if l.opts.SchemaValidation {
		if err := l.validateSchema(data); err != nil {
			return nil, err
		}
	}

	var catalog rawCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal rules: %v", core.ErrInvalidConfiguration, err)
	}

	rules := make([]*core.Rule, 0, len(catalog.Rules))
	seen := make(map[string]struct{}, len(catalog.Rules))
	for i := range catalog.Rules {
		raw := &catalog.Rules[i]
		if _, dup := seen[raw.ID]; dup && raw.ID != "" {
			return nil, &core.RuleValidationError{RuleID: raw.ID, Reason: "duplicate rule id"}
		}
		seen[raw.ID] = struct{}{}

		rule, err := l.compileRule(i, raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		l.logger.Warn("Rule catalog is empty")
	}
	return rules, nil
}

// normalizeDocument converts JSON catalogs into YAML so a single decoding path
// (and a single set of struct tags) handles both formats
func normalizeDocument(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal rules: %v", core.ErrInvalidConfiguration, err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode rules: %w", err)
	}
	return out, nil
}

func (l *Loader) validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: failed to unmarshal rules: %v", core.ErrInvalidConfiguration, err)
	}

	result, err := l.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate rules against schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return &core.RuleValidationError{
		Path:   result.Errors()[0].Field(),
		Reason: "schema validation failed: " + strings.Join(msgs, "; "),
	}
}

func (l *Loader) compileRule(index int, raw *rawRule) (*core.Rule, error) {
	if err := l.validate.Struct(raw); err != nil {
		return nil, l.structError(index, raw.ID, err)
	}

	if raw.Steps == nil {
		return nil, &core.RuleValidationError{RuleID: raw.ID, Path: "steps", Reason: "rule has no steps"}
	}
	steps, err := l.compileNode(raw.ID, "steps", raw.Steps)
	if err != nil {
		return nil, err
	}

	rule := &core.Rule{
		ID:                 raw.ID,
		Name:               raw.Name,
		Level:              raw.Level,
		Action:             core.NormalizeAction(raw.Action),
		Notify:             raw.Notify,
		LastModified:       raw.LastModified,
		IndexPrefixes:      []string(raw.IndexPrefix),
		DetectionThreshold: 1,
		Steps:              steps,
	}
	if raw.DetectionThreshold != nil {
		rule.DetectionThreshold = *raw.DetectionThreshold
	}

	for i := range raw.OnDetected {
		action, err := l.compileAction(raw.ID, fmt.Sprintf("on_detected[%d]", i), &raw.OnDetected[i])
		if err != nil {
			return nil, err
		}
		rule.OnDetected = append(rule.OnDetected, action)
	}
	return rule, nil
}

func (l *Loader) structError(index int, ruleID string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &core.RuleValidationError{RuleID: ruleID, Reason: err.Error()}
	}
	fe := verrs[0]
	path := strings.TrimPrefix(fe.Namespace(), "rawRule.")
	reason := fmt.Sprintf("failed %q validation", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
	}
	if ruleID == "" {
		ruleID = fmt.Sprintf("#%d", index)
	}
	return &core.RuleValidationError{RuleID: ruleID, Path: path, Reason: reason}
}

func (l *Loader) compileNode(ruleID, path string, step *rawStep) (core.Node, error) {
	// a list of steps is an implicit AND group
	if step.list != nil {
		return l.compileGroup(ruleID, path, core.LogicAnd, step.list)
	}

	isGroup := step.Logic != "" || step.Conditions != nil
	isLeaf := step.Field != "" || step.ComparisonType != ""
	switch {
	case isGroup && isLeaf:
		return nil, &core.RuleValidationError{RuleID: ruleID, Path: path, Reason: "step mixes group and leaf fields"}
	case isGroup:
		logic, err := core.ParseLogic(step.Logic)
		if err != nil {
			return nil, &core.RuleValidationError{RuleID: ruleID, Path: path + ".logic", Reason: err.Error()}
		}
		return l.compileGroup(ruleID, path, logic, step.Conditions)
	case isLeaf:
		return l.compileLeaf(ruleID, path, step)
	}
	return nil, &core.RuleValidationError{RuleID: ruleID, Path: path, Reason: "step is neither a group nor a leaf"}
}

func (l *Loader) compileGroup(ruleID, path string, logic core.Logic, steps []rawStep) (core.Node, error) {
	if len(steps) == 0 {
		return nil, &core.RuleValidationError{RuleID: ruleID, Path: path, Reason: fmt.Sprintf("empty %s group", logic)}
	}
	group := &core.Group{Logic: logic, Children: make([]core.Node, 0, len(steps))}
	for i := range steps {
		child, err := l.compileNode(ruleID, fmt.Sprintf("%s.conditions[%d]", path, i), &steps[i])
		if err != nil {
			return nil, err
		}
		group.Children = append(group.Children, child)
	}
	return group, nil
}

func (l *Loader) compileLeaf(ruleID, path string, step *rawStep) (core.Node, error) {
	invalid := func(field, reason string) error {
		return &core.RuleValidationError{RuleID: ruleID, Path: path + "." + field, Reason: reason}
	}

	kind, err := core.ParseComparisonKind(step.ComparisonType)
	if err != nil {
		return nil, &core.RuleValidationError{
			RuleID: ruleID,
			Path:   path + ".comparison_type",
			Reason: err.Error(),
			Err:    core.ErrInvalidComparisonKind,
		}
	}
	if step.Field == "" && kind != core.ComparisonCacheExists {
		return nil, invalid("field", "required")
	}

	lookback, err := core.ParseLookback(step.LookbackPeriod)
	if err != nil {
		return nil, invalid("lookback_period", err.Error())
	}
	if step.LookbackPeriodMinutes != nil {
		if step.LookbackPeriod != nil {
			return nil, invalid("lookback_period_minutes", "conflicts with lookback_period")
		}
		if *step.LookbackPeriodMinutes < 0 {
			return nil, invalid("lookback_period_minutes", "must not be negative")
		}
		lookback = time.Duration(*step.LookbackPeriodMinutes) * time.Minute
	}

	leaf := &core.Leaf{
		ID:             step.ID,
		Field:          step.Field,
		Lookback:       lookback,
		TimestampField: step.TimestampField,
	}
	if leaf.TimestampField == "" {
		leaf.TimestampField = l.opts.DefaultTimestampField
	}

	switch kind {
	case core.ComparisonOperator:
		if step.Operator == "" {
			return nil, invalid("operator", "required for operator comparison")
		}
		op, err := core.ParseOperator(step.Operator)
		if err != nil {
			return nil, invalid("operator", err.Error())
		}
		if step.Threshold == nil {
			return nil, invalid("threshold", "required for operator comparison")
		}
		agg, err := core.ParseAggregation(step.Aggregation)
		if err != nil {
			return nil, invalid("aggregation", err.Error())
		}
		if lookback == 0 && agg != core.AggregationLast {
			l.logger.Debugw("Aggregation ignored for zero lookback",
				"rule_id", ruleID,
				"step_id", step.ID,
				"aggregation", agg)
		}
		leaf.Comparison = &core.OperatorComparison{Aggregation: agg, Operator: op, Threshold: step.Threshold}

	case core.ComparisonLike, core.ComparisonRegex:
		if step.Pattern == "" {
			return nil, invalid("pattern", fmt.Sprintf("required for %s comparison", kind))
		}
		var m core.Matcher
		if kind == core.ComparisonLike {
			m, err = CompileLike(step.Pattern, l.opts.RegexTimeout)
		} else {
			if err := l.lintPattern(ruleID, path, step.Pattern); err != nil {
				return nil, err
			}
			m, err = CompileRegex(step.Pattern, l.opts.RegexTimeout)
		}
		if err != nil {
			return nil, invalid("pattern", err.Error())
		}
		leaf.Comparison = &core.PatternComparison{PatternKind: kind, Pattern: step.Pattern, Matcher: m}

	case core.ComparisonCacheContains, core.ComparisonCacheNotContains, core.ComparisonCacheExists:
		if step.CacheKeyTemplate == "" {
			return nil, invalid("cache_key_template", fmt.Sprintf("required for %s comparison", kind))
		}
		tmpl, err := core.ParseTemplate(step.CacheKeyTemplate)
		if err != nil {
			return nil, invalid("cache_key_template", err.Error())
		}
		leaf.Comparison = &core.CacheComparison{CacheKind: kind, KeyTemplate: tmpl}
	}
	return leaf, nil
}

func (l *Loader) lintPattern(ruleID, path, pattern string) error {
	issues := LintRegex(pattern)
	if len(issues) == 0 {
		return nil
	}
	if l.opts.StrictPatterns {
		return &core.RuleValidationError{RuleID: ruleID, Path: path + ".pattern", Reason: strings.Join(issues, "; ")}
	}
	for _, issue := range issues {
		l.logger.Warnw("Regex pattern may backtrack excessively",
			"rule_id", ruleID,
			"path", path,
			"issue", issue)
	}
	return nil
}

func (l *Loader) compileAction(ruleID, path string, raw *rawAction) (core.OnDetectedAction, error) {
	invalid := func(field, reason string) error {
		return &core.RuleValidationError{RuleID: ruleID, Path: path + "." + field, Reason: reason}
	}

	cacheType, ok := core.ParseCacheType(raw.CacheType)
	if !ok {
		return core.OnDetectedAction{}, invalid("cache_type", fmt.Sprintf("unknown cache type %q", raw.CacheType))
	}
	key, err := core.ParseTemplate(raw.CacheKeyTemplate)
	if err != nil {
		return core.OnDetectedAction{}, invalid("cache_key_template", err.Error())
	}
	action := core.OnDetectedAction{CacheType: cacheType, KeyTemplate: key}

	switch cacheType {
	case core.CacheTypeObjectSet:
		if raw.FieldToCache == "" {
			return core.OnDetectedAction{}, invalid("field_to_cache", "required for object set")
		}
		action.FieldToCache = raw.FieldToCache
	case core.CacheTypeScoredSet:
		if raw.ScoreField == "" {
			return core.OnDetectedAction{}, invalid("score_field", "required for scored set")
		}
		if raw.ValueTemplate == "" {
			return core.OnDetectedAction{}, invalid("value_template", "required for scored set")
		}
		value, err := core.ParseTemplate(raw.ValueTemplate)
		if err != nil {
			return core.OnDetectedAction{}, invalid("value_template", err.Error())
		}
		action.ScoreField = raw.ScoreField
		action.ValueTemplate = value
	}
	return action, nil
}
