// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/scheduler"
	redisstore "github.com/lromero74/romero-tech-solutions-sub002/internal/storage/redis"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/storage/timescaledb"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/kafka"
)

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Logging   LoggingConfig      `mapstructure:"logging"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Timescale timescaledb.Config `mapstructure:"timescaledb"`
	Redis     redisstore.Config  `mapstructure:"redis"`
	Kafka     KafkaConfig        `mapstructure:"kafka"`
	Telemetry TelemetryConfig    `mapstructure:"telemetry"`

	Aggregator aggregator.Config `mapstructure:"aggregator"`
	Scheduler  scheduler.Config  `mapstructure:"scheduler"`
}

// KafkaConfig — публикация событий прогонов. Выключена по умолчанию:
// свечи пишутся в TimescaleDB независимо от Kafka.
type KafkaConfig struct {
	Enabled        bool         `mapstructure:"enabled"`
	RunEventsTopic string       `mapstructure:"run_events_topic"`
	Producer       kafka.Config `mapstructure:"producer"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// --- HTTP ---

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
}

// -----------------------------------------------------------------------------
// Load
// -----------------------------------------------------------------------------

func Load(path string) (*Config, error) {
	v := viper.New()

	/* ---------- 1) defaults ---------- */

	v.SetDefault("service_name", "metrics-engine")
	v.SetDefault("service_version", "v1.0.0")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.port", 8090)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")

	// TimescaleDB
	v.SetDefault("timescaledb.dsn", "")

	// Redis
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "168h")

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.run_events_topic", "metrics.candle-runs")
	v.SetDefault("kafka.producer.timeout", "15s")
	v.SetDefault("kafka.producer.acks", "all")
	v.SetDefault("kafka.producer.compression", "none")

	// Telemetry
	v.SetDefault("telemetry.otel_endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Aggregation
	v.SetDefault("aggregator.window_concurrency", 4)
	v.SetDefault("scheduler.lookback", "24h")
	v.SetDefault("scheduler.active_window", "1h")

	/* ---------- 2) env ---------- */

	v.SetEnvPrefix("METRICS_ENGINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	/* ---------- 3) optional file ---------- */

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	/* ---------- 4) decode ---------- */

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		func(f, t reflect.Kind, data interface{}) (interface{}, error) {
			if f == reflect.String && t == reflect.Bool {
				return strconv.ParseBool(data.(string))
			}
			return data, nil
		},
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &cfg,
		DecodeHook: decodeHook,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	/* ---------- 5) validate ---------- */

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// -----------------------------------------------------------------------------
// Validation helpers
// -----------------------------------------------------------------------------

func (c *Config) Validate() error {
	// service
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	// http
	if err := validateHTTP(&c.HTTP); err != nil {
		return err
	}

	// timescaledb
	if c.Timescale.DSN == "" {
		return fmt.Errorf("timescaledb.dsn is required")
	}

	// redis
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}

	// kafka (только при включённой публикации)
	if c.Kafka.Enabled {
		if len(c.Kafka.Producer.Brokers) == 0 {
			return fmt.Errorf("kafka.producer.brokers is required when kafka.enabled")
		}
		if c.Kafka.RunEventsTopic == "" {
			return fmt.Errorf("kafka.run_events_topic is required when kafka.enabled")
		}
		switch strings.ToLower(c.Kafka.Producer.RequiredAcks) {
		case "all", "leader", "none":
		default:
			return fmt.Errorf("kafka.producer.acks must be one of [all, leader, none]")
		}
		switch strings.ToLower(c.Kafka.Producer.Compression) {
		case "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("kafka.producer.compression must be one of [none, gzip, snappy, lz4, zstd]")
		}
	}

	// telemetry
	if c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otel_endpoint is required")
	}

	// scheduler
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Debug print
// -----------------------------------------------------------------------------

func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
