package detect

import (
	"gopkg.in/yaml.v3"
)

// Raw catalog records as they appear in rule files. They are compiled into
// the core model by Loader and never reach the evaluator.

type rawCatalog struct {
	Rules []rawRule `yaml:"rules"`
}

type rawRule struct {
	ID                 string      `yaml:"id" validate:"required,max=256"`
	Name               string      `yaml:"name" validate:"max=1024"`
	Level              string      `yaml:"level"`
	Action             string      `yaml:"action"`
	Notify             string      `yaml:"notify"`
	LastModified       string      `yaml:"last_modified"`
	IndexPrefix        stringList  `yaml:"index_prefix" validate:"dive,required"`
	DetectionThreshold *int        `yaml:"detection_threshold" validate:"omitempty,min=1"`
	Steps              *rawStep    `yaml:"steps"`
	OnDetected         []rawAction `yaml:"on_detected" validate:"dive"`
}

// rawStep is either a group, a leaf or, at the top of a rule only, a list of
// steps combined with AND
type rawStep struct {
	Logic      string    `yaml:"logic"`
	Conditions []rawStep `yaml:"conditions"`

	ID                    string      `yaml:"id"`
	Field                 string      `yaml:"field"`
	ComparisonType        string      `yaml:"comparison_type"`
	Aggregation           string      `yaml:"aggregation"`
	LookbackPeriod        interface{} `yaml:"lookback_period"`
	LookbackPeriodMinutes *int        `yaml:"lookback_period_minutes"`
	TimestampField        string      `yaml:"timestamp_field"`
	Operator              string      `yaml:"operator"`
	Threshold             interface{} `yaml:"threshold"`
	CacheKeyTemplate      string      `yaml:"cache_key_template"`
	Pattern               string      `yaml:"pattern"`

	list []rawStep
}

// UnmarshalYAML accepts a mapping or a sequence of steps
func (s *rawStep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		items := []rawStep{}
		if err := value.Decode(&items); err != nil {
			return err
		}
		s.list = items
		return nil
	}
	type plain rawStep
	return value.Decode((*plain)(s))
}

type rawAction struct {
	CacheType        string `yaml:"cache_type" validate:"required"`
	CacheKeyTemplate string `yaml:"cache_key_template" validate:"required"`
	FieldToCache     string `yaml:"field_to_cache"`
	ScoreField       string `yaml:"score_field"`
	ValueTemplate    string `yaml:"value_template"`
}

// stringList decodes either a scalar or a sequence of strings
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = stringList{s}
		return nil
	}
	var items []string
	if err := value.Decode(&items); err != nil {
		return err
	}
	*l = items
	return nil
}
