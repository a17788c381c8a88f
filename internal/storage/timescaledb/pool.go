// internal/storage/timescaledb/pool.go
package timescaledb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/lromero74/romero-tech-solutions-sub002/pkg/backoff"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var tracer = otel.Tracer("engine/storage/timescaledb")

// Connect создаёт пул соединений и проверяет его доступность с ретраями.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("timescaledb: parse dsn: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("timescaledb: connect: %w", err)
	}

	ping := func(ctx context.Context) error { return db.Ping(ctx) }
	if err := backoff.Execute(ctx, cfg.Backoff, log, ping); err != nil {
		db.Close()
		return nil, fmt.Errorf("timescaledb: ping failed: %w", err)
	}

	log.Info("timescaledb connected")
	return db, nil
}
