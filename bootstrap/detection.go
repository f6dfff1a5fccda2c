package bootstrap

import (
	"fmt"

	"fdsengine/config"
	"fdsengine/core"
	"fdsengine/detect"

	"go.uber.org/zap"
)

// InitTimeParser builds the shared timestamp parser from the engine section
func InitTimeParser(cfg *config.Config) (*core.TimeParser, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return core.NewTimeParser(cfg.Engine.TimestampLayouts, loc, cfg.Engine.TimestampCacheSize)
}

// LoaderOptionsFromConfig maps config onto rule loader options
func LoaderOptionsFromConfig(cfg *config.Config) detect.LoaderOptions {
	return detect.LoaderOptions{
		DefaultTimestampField: cfg.Engine.TimestampField,
		RegexTimeout:          cfg.Engine.RegexTimeout,
		SchemaValidation:      cfg.Rules.SchemaValidation,
		StrictPatterns:        cfg.Rules.StrictPatterns,
	}
}

// LoadRules loads and compiles the rule catalog named in the config
func LoadRules(cfg *config.Config, sugar *zap.SugaredLogger) ([]*core.Rule, error) {
	rules, err := detect.LoadRules(cfg.Rules.File, LoaderOptionsFromConfig(cfg), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		sugar.Warnw("Rule catalog is empty, no transaction will ever be detected", "file", cfg.Rules.File)
	}
	return rules, nil
}

// InitEngine creates the detection engine over rules and store
func InitEngine(cfg *config.Config, rules []*core.Rule, store detect.CounterStore, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	times, err := InitTimeParser(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := detect.NewEngine(rules, store, detect.EngineConfig{
		IDField:                       cfg.Engine.IDField,
		StreamField:                   cfg.Engine.StreamField,
		CounterKeyPrefix:              cfg.Engine.CounterKeyPrefix,
		ResetStoreOnTerminalDetection: cfg.Engine.ResetStoreOnTerminalDetection,
		TimeParser:                    times,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	sugar.Infow("Detection engine initialized",
		"rules", len(rules),
		"id_field", cfg.Engine.IDField,
		"stream_field", cfg.Engine.StreamField)
	return engine, nil
}
