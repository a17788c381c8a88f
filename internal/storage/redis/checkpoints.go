// internal/storage/redis/checkpoints.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/backoff"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var (
	redisMetrics = struct {
		GetErrors        prometheus.Counter
		SetErrors        prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "redis", Name: "get_errors_total",
			Help: "Total number of errors on Redis GET",
		}),
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "redis", Name: "set_errors_total",
			Help: "Total number of errors on Redis SET",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engine", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("engine/storage/redis")
)

// Config хранит параметры подключения к Redis.
type Config struct {
	URL     string         `mapstructure:"url"` // e.g. "redis://host:6379/0"
	TTL     time.Duration  `mapstructure:"ttl"` // default: 7d
	Backoff backoff.Config `mapstructure:"backoff"`
}

// applyDefaults задаёт sane defaults.
func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
}

// validate проверяет обязательные поля.
func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	return nil
}

// Checkpoints хранит границу возобновления прогонов агрегации: для каждой
// пары (device, granularity) — window_start, с которого следующий прогон
// продолжает работу. Чекпоинт — оптимизация: потеря ключа приводит к
// переагрегации, идемпотентный upsert делает её безопасной.
type Checkpoints struct {
	client     *redis.Client
	ttl        time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New создаёт хранилище чекпоинтов, соединяется с Redis с retry.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Checkpoints, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("url", cfg.URL)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, op); err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("url", cfg.URL))

	return &Checkpoints{
		client:     client,
		ttl:        cfg.TTL,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

func checkpointKey(deviceID string, g granularity.Granularity) string {
	return fmt.Sprintf("agg:checkpoint:%s:%s", deviceID, g)
}

// Get возвращает сохранённую границу возобновления. Отсутствующий ключ —
// нулевое время без ошибки: прогон начинается с lookback-горизонта.
func (c *Checkpoints) Get(ctx context.Context, deviceID string, g granularity.Granularity) (time.Time, error) {
	key := checkpointKey(deviceID, g)
	ctxOp, span := tracer.Start(ctx, "Checkpoints.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()

	var raw string
	op := func(ctx context.Context) error {
		val, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		raw = val
		return nil
	}
	if err := backoff.Execute(ctxOp, c.backoffCfg, c.log, op); err != nil {
		redisMetrics.GetErrors.Inc()
		c.log.WithContext(ctx).Error("redis GET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("redis: get checkpoint: %w", err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())

	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Повреждённый чекпоинт трактуем как отсутствующий.
		c.log.WithContext(ctx).Warn("redis: malformed checkpoint, ignoring",
			zap.String("key", key), zap.String("value", raw))
		return time.Time{}, nil
	}
	return ts, nil
}

// Set сохраняет границу возобновления для пары (device, granularity).
func (c *Checkpoints) Set(ctx context.Context, deviceID string, g granularity.Granularity, ts time.Time) error {
	key := checkpointKey(deviceID, g)
	ctxOp, span := tracer.Start(ctx, "Checkpoints.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	val := ts.UTC().Format(time.RFC3339Nano)
	op := func(ctx context.Context) error {
		return c.client.Set(ctx, key, val, c.ttl).Err()
	}
	if err := backoff.Execute(ctxOp, c.backoffCfg, c.log, op); err != nil {
		redisMetrics.SetErrors.Inc()
		c.log.WithContext(ctx).Error("redis SET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return fmt.Errorf("redis: set checkpoint: %w", err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

// Ping проверяет доступность Redis; используется readiness-пробой.
func (c *Checkpoints) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Checkpoints) Close() error {
	return c.client.Close()
}
