package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid Config for testing
func newTestConfig() Config {
	var c Config
	c.Engine = EngineConfig{
		IDField:            "@id",
		TimestampField:     "@timestamp",
		StreamField:        "@index",
		TimestampLayouts:   []string{"2006-01-02 15:04:05"},
		Timezone:           "UTC",
		CounterKeyPrefix:   "detected:count",
		RegexTimeout:       100 * time.Millisecond,
		TimestampCacheSize: 100,
	}
	c.Redis = RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		OpTimeout: time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:         5,
			Timeout:             30 * time.Second,
			MaxHalfOpenRequests: 1,
		},
	}
	c.Kafka = KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		Encoding:      "json",
		BatchSize:     100,
		FlushInterval: time.Second,
		Burst:         1,
	}
	c.Logging.Level = "info"
	c.Logging.Format = "console"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9090"
	return c
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "@id", cfg.Engine.IDField)
	assert.Equal(t, "@timestamp", cfg.Engine.TimestampField)
	assert.Equal(t, "@index", cfg.Engine.StreamField)
	assert.Equal(t, "detected:count", cfg.Engine.CounterKeyPrefix)
	assert.False(t, cfg.Engine.ResetStoreOnTerminalDetection)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.RegexTimeout)
	assert.Len(t, cfg.Engine.TimestampLayouts, 3)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Redis.OpTimeout)
	assert.Equal(t, uint32(5), cfg.Redis.CircuitBreaker.MaxFailures)
	assert.Equal(t, "json", cfg.Kafka.Encoding)
	assert.Equal(t, time.Second, cfg.Kafka.FlushInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Rules.SchemaValidation)
	assert.False(t, cfg.Rules.StrictPatterns)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
engine:
  id_field: txn_id
  timezone: Asia/Seoul
  reset_store_on_terminal_detection: true
  regex_timeout: 250ms
redis:
  addr: redis.internal:6380
  counter_ttl: 24h
kafka:
  encoding: msgpack
  rate_limit: 5
  burst: 10
rules:
  file: /etc/fds/rules.yaml
`)
	t.Setenv("FDS_REDIS_PASSWORD", "s3cret")
	t.Setenv("FDS_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "txn_id", cfg.Engine.IDField)
	assert.True(t, cfg.Engine.ResetStoreOnTerminalDetection)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RegexTimeout)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.CounterTTL)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, "msgpack", cfg.Kafka.Encoding)
	assert.Equal(t, 5.0, cfg.Kafka.RateLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/etc/fds/rules.yaml", cfg.Rules.File)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
kafka:
  encoding: avro
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.encoding")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty id field", func(c *Config) { c.Engine.IDField = "" }, "id_field"},
		{"no layouts", func(c *Config) { c.Engine.TimestampLayouts = nil }, "timestamp_layouts"},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero regex timeout", func(c *Config) { c.Engine.RegexTimeout = 0 }, "regex_timeout"},
		{"bad redis addr", func(c *Config) { c.Redis.Addr = "localhost" }, "redis.addr"},
		{"zero pool", func(c *Config) { c.Redis.PoolSize = 0 }, "pool_size"},
		{"negative ttl", func(c *Config) { c.Redis.CounterTTL = -time.Second }, "counter_ttl"},
		{"zero breaker", func(c *Config) { c.Redis.CircuitBreaker.MaxFailures = 0 }, "circuit_breaker"},
		{"zero batch", func(c *Config) { c.Kafka.BatchSize = 0 }, "batch_size"},
		{"rate without burst", func(c *Config) { c.Kafka.RateLimit = 2; c.Kafka.Burst = 0 }, "burst"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "9090" }, "metrics.addr"},
		{"metrics disabled ignores addr", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Addr = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
