// internal/app/app.go
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/config"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/scheduler"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/sink"
	redisstore "github.com/lromero74/romero-tech-solutions-sub002/internal/storage/redis"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/storage/timescaledb"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/backoff"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/httpserver"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/kafka"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/telemetry"
)

// Run собирает и запускает движок агрегации метрик.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// -------------------------------------------------------------------------
	// 0) Сквозной service-label для всех подсистем
	// -------------------------------------------------------------------------
	backoff.SetServiceLabel(cfg.ServiceName)
	kafka.SetServiceLabel(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// 1) Prometheus-метрики
	// -------------------------------------------------------------------------
	metrics.Register(nil)

	// -------------------------------------------------------------------------
	// 2) OpenTelemetry
	// -------------------------------------------------------------------------
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// -------------------------------------------------------------------------
	// 3) TimescaleDB
	// -------------------------------------------------------------------------
	db, err := timescaledb.Connect(ctx, cfg.Timescale, log)
	if err != nil {
		return fmt.Errorf("timescaledb init: %w", err)
	}
	defer db.Close()

	candles := timescaledb.NewCandles(db, log)
	samples := timescaledb.NewSamples(db, log)

	// -------------------------------------------------------------------------
	// 4) Redis (чекпоинты прогонов)
	// -------------------------------------------------------------------------
	checkpoints, err := redisstore.New(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 5) Kafka (события прогонов, опционально)
	// -------------------------------------------------------------------------
	var (
		kafkaProducer kafka.Producer
		runPublisher  scheduler.RunPublisher
	)
	if cfg.Kafka.Enabled {
		kafkaProducer, err = kafka.New(ctx, cfg.Kafka.Producer, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		runPublisher = sink.NewKafka(kafkaProducer, cfg.Kafka.RunEventsTopic, log)
	}

	// -------------------------------------------------------------------------
	// 6) Aggregator и Scheduler
	// -------------------------------------------------------------------------
	agg := aggregator.New(samples, candles, cfg.Aggregator, log)

	sched, err := scheduler.New(samples, agg, checkpoints, runPublisher, cfg.Scheduler, log)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 7) HTTP-server
	// -------------------------------------------------------------------------
	readiness := func() error {
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("timescaledb: %w", err)
		}
		if err := checkpoints.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if kafkaProducer != nil {
			if err := kafkaProducer.Ping(ctx); err != nil {
				return fmt.Errorf("kafka: %w", err)
			}
		}
		return nil
	}

	httpSrv, err := httpserver.New(
		httpserver.Config{
			Addr:            fmt.Sprintf(":%d", cfg.HTTP.Port),
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			MetricsPath:     cfg.HTTP.MetricsPath,
			HealthzPath:     cfg.HTTP.HealthzPath,
			ReadyzPath:      cfg.HTTP.ReadyzPath,
		},
		readiness,
		log,
	)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	log.Info("metrics-engine: components initialized, entering run-loop")

	// -------------------------------------------------------------------------
	// 8) Concurrent loops
	// -------------------------------------------------------------------------
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return httpSrv.Start(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	// -------------------------------------------------------------------------
	// 9) Wait & graceful shutdown
	// -------------------------------------------------------------------------
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithContext(ctx).Error("runtime error", zap.Error(err))
	}

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error("kafka producer close", zap.Error(err))
		}
	}
	if err := checkpoints.Close(); err != nil {
		log.Error("redis close", zap.Error(err))
	}

	log.Info("metrics-engine shutdown complete")
	return ctx.Err()
}
