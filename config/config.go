package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig holds transaction field names and evaluation behavior
type EngineConfig struct {
	IDField          string   `mapstructure:"id_field"`
	TimestampField   string   `mapstructure:"timestamp_field"`
	StreamField      string   `mapstructure:"stream_field"`
	TimestampLayouts []string `mapstructure:"timestamp_layouts"`
	// Timezone is applied to timestamps without an offset (IANA name)
	Timezone         string `mapstructure:"timezone"`
	CounterKeyPrefix string `mapstructure:"counter_key_prefix"`
	// ResetStoreOnTerminalDetection flushes the entire counter store on every
	// LABEL/BLOCK detection. Destructive; leave off unless the store is dedicated.
	ResetStoreOnTerminalDetection bool          `mapstructure:"reset_store_on_terminal_detection"`
	RegexTimeout                  time.Duration `mapstructure:"regex_timeout"`
	TimestampCacheSize            int           `mapstructure:"timestamp_cache_size"`
}

// RulesConfig locates the rule catalog
type RulesConfig struct {
	File             string `mapstructure:"file"`
	SchemaValidation bool   `mapstructure:"schema_validation"`
	StrictPatterns   bool   `mapstructure:"strict_patterns"`
}

// CircuitBreakerConfig guards the counter store
type CircuitBreakerConfig struct {
	MaxFailures         uint32        `mapstructure:"max_failures"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests"`
}

// RedisConfig configures the counter store connection
type RedisConfig struct {
	Addr           string               `mapstructure:"addr"`
	Password       string               `mapstructure:"password"`
	DB             int                  `mapstructure:"db"`
	PoolSize       int                  `mapstructure:"pool_size"`
	OpTimeout      time.Duration        `mapstructure:"op_timeout"`
	CounterTTL     time.Duration        `mapstructure:"counter_ttl"` // 0 = counters never expire
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// KafkaConfig configures the transaction stream runner
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	GroupID       string        `mapstructure:"group_id"`
	InputTopic    string        `mapstructure:"input_topic"`
	IncidentTopic string        `mapstructure:"incident_topic"`
	Encoding      string        `mapstructure:"encoding"` // json or msgpack
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RateLimit     float64       `mapstructure:"rate_limit"` // batches per second, 0 = unlimited
	Burst         int           `mapstructure:"burst"`
}

// Config holds all configuration for the detection service
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Rules  RulesConfig  `mapstructure:"rules"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // console or json
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults() {
	viper.SetDefault("engine.id_field", "@id")
	viper.SetDefault("engine.timestamp_field", "@timestamp")
	viper.SetDefault("engine.stream_field", "@index")
	viper.SetDefault("engine.timestamp_layouts", []string{"2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02T15:04:05"})
	viper.SetDefault("engine.timezone", "UTC")
	viper.SetDefault("engine.counter_key_prefix", "detected:count")
	viper.SetDefault("engine.reset_store_on_terminal_detection", false)
	viper.SetDefault("engine.regex_timeout", 100*time.Millisecond)
	viper.SetDefault("engine.timestamp_cache_size", 4096)

	viper.SetDefault("rules.file", "rules.yaml")
	viper.SetDefault("rules.schema_validation", true)
	viper.SetDefault("rules.strict_patterns", false)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.op_timeout", 500*time.Millisecond)
	viper.SetDefault("redis.counter_ttl", 0)
	viper.SetDefault("redis.circuit_breaker.max_failures", 5)
	viper.SetDefault("redis.circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("redis.circuit_breaker.max_half_open_requests", 1)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "fdsengine")
	viper.SetDefault("kafka.input_topic", "fds-transactions")
	viper.SetDefault("kafka.incident_topic", "fds-incidents")
	viper.SetDefault("kafka.encoding", "json")
	viper.SetDefault("kafka.batch_size", 100)
	viper.SetDefault("kafka.flush_interval", time.Second)
	viper.SetDefault("kafka.rate_limit", 0)
	viper.SetDefault("kafka.burst", 1)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9090")
}

// loadFromEnv maps FDS_SECTION_KEY variables onto section.key
func loadFromEnv() {
	viper.SetEnvPrefix("FDS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig loads configuration from path, or from config.yaml in . or ./config
// when path is empty. A missing default file is not an error; defaults and
// environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Location returns the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	e := config.Engine
	if e.IDField == "" || e.TimestampField == "" || e.StreamField == "" {
		return fmt.Errorf("engine id_field, timestamp_field and stream_field must not be empty")
	}
	if len(e.TimestampLayouts) == 0 {
		return fmt.Errorf("engine.timestamp_layouts must not be empty")
	}
	if _, err := config.Location(); err != nil {
		return fmt.Errorf("invalid engine.timezone %q: %w", e.Timezone, err)
	}
	if e.RegexTimeout <= 0 {
		return fmt.Errorf("engine.regex_timeout must be positive")
	}
	if e.TimestampCacheSize < 0 {
		return fmt.Errorf("engine.timestamp_cache_size must not be negative")
	}

	r := config.Redis
	if _, _, err := net.SplitHostPort(r.Addr); err != nil {
		return fmt.Errorf("invalid redis.addr %q: %w", r.Addr, err)
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}
	if r.PoolSize < 1 {
		return fmt.Errorf("redis.pool_size must be at least 1")
	}
	if r.OpTimeout < 0 || r.CounterTTL < 0 {
		return fmt.Errorf("redis.op_timeout and redis.counter_ttl must not be negative")
	}
	cb := r.CircuitBreaker
	if cb.MaxFailures == 0 || cb.Timeout <= 0 || cb.MaxHalfOpenRequests == 0 {
		return fmt.Errorf("redis.circuit_breaker values must be positive")
	}

	k := config.Kafka
	switch k.Encoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("kafka.encoding must be json or msgpack, got %q", k.Encoding)
	}
	if k.BatchSize < 1 {
		return fmt.Errorf("kafka.batch_size must be at least 1")
	}
	if k.FlushInterval <= 0 {
		return fmt.Errorf("kafka.flush_interval must be positive")
	}
	if k.RateLimit < 0 {
		return fmt.Errorf("kafka.rate_limit must not be negative")
	}
	if k.RateLimit > 0 && k.Burst < 1 {
		return fmt.Errorf("kafka.burst must be at least 1 when rate_limit is set")
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", config.Logging.Format)
	}

	if config.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(config.Metrics.Addr); err != nil {
			return fmt.Errorf("invalid metrics.addr %q: %w", config.Metrics.Addr, err)
		}
	}
	return nil
}
