// internal/storage/timescaledb/candles.go
package timescaledb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

// Candles реализует aggregator.CandleWriter и выборку закрытий для чтения.
type Candles struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewCandles создаёт хранилище свечей поверх готового пула.
func NewCandles(db *pgxpool.Pool, log *logger.Logger) *Candles {
	return &Candles{db: db, log: log.Named("candles")}
}

const upsertCandleQuery = `INSERT INTO device_metric_candles (
	device_id, granularity, window_start, window_end,
	cpu_open, cpu_high, cpu_low, cpu_close,
	memory_open, memory_high, memory_low, memory_close,
	disk_open, disk_high, disk_low, disk_close,
	sample_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (device_id, granularity, window_start) DO UPDATE SET
	window_end   = EXCLUDED.window_end,
	cpu_open     = EXCLUDED.cpu_open,
	cpu_high     = EXCLUDED.cpu_high,
	cpu_low      = EXCLUDED.cpu_low,
	cpu_close    = EXCLUDED.cpu_close,
	memory_open  = EXCLUDED.memory_open,
	memory_high  = EXCLUDED.memory_high,
	memory_low   = EXCLUDED.memory_low,
	memory_close = EXCLUDED.memory_close,
	disk_open    = EXCLUDED.disk_open,
	disk_high    = EXCLUDED.disk_high,
	disk_low     = EXCLUDED.disk_low,
	disk_close   = EXCLUDED.disk_close,
	sample_count = EXCLUDED.sample_count
RETURNING (xmax = 0) AS inserted`

// Upsert атомарно вставляет или полностью перезаписывает свечу по ключу
// (device_id, granularity, window_start). Конкурентные записи по одному
// ключу разрешает СУБД: побеждает последняя, частичных состояний не видно.
func (s *Candles) Upsert(ctx context.Context, c *model.Candle) (aggregator.UpsertOutcome, error) {
	ctx, span := tracer.Start(ctx, "Candles.Upsert",
		trace.WithAttributes(
			attribute.String("device_id", c.DeviceID),
			attribute.String("granularity", string(c.Granularity)),
		))
	defer span.End()

	cpuO, cpuH, cpuL, cpuC := ohlcColumns(c.CPU)
	memO, memH, memL, memC := ohlcColumns(c.Memory)
	dskO, dskH, dskL, dskC := ohlcColumns(c.Disk)

	var inserted bool
	err := s.db.QueryRow(ctx, upsertCandleQuery,
		c.DeviceID,
		string(c.Granularity),
		c.WindowStart.UTC(),
		c.WindowEnd.UTC(),
		cpuO, cpuH, cpuL, cpuC,
		memO, memH, memL, memC,
		dskO, dskH, dskL, dskC,
		c.SampleCount,
	).Scan(&inserted)
	if err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Error("candle upsert failed",
			zap.String("device_id", c.DeviceID),
			zap.String("granularity", string(c.Granularity)),
			zap.Time("window_start", c.WindowStart),
			zap.Error(err),
		)
		return aggregator.OutcomeCreated, fmt.Errorf("timescaledb: upsert candle: %w", err)
	}

	if inserted {
		return aggregator.OutcomeCreated, nil
	}
	return aggregator.OutcomeUpdated, nil
}

// QueryLatest возвращает до limit последних закрытий метрики, от новых к
// старым; timestamp точки — window_start свечи. Пустое хранилище — пустой
// срез, не ошибка.
func (s *Candles) QueryLatest(ctx context.Context, deviceID string, g granularity.Granularity, metric model.Metric, limit int) ([]model.SeriesPoint, error) {
	if !g.IsAggregated() {
		return nil, fmt.Errorf("%w: %q is not a candle granularity", granularity.ErrInvalid, string(g))
	}
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Candles.QueryLatest",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.String("granularity", string(g)),
			attribute.String("metric", string(metric)),
		))
	defer span.End()

	// Column() ограничен закрытым перечислением метрик.
	query := fmt.Sprintf(`SELECT window_start, %[1]s_close
		FROM device_metric_candles
		WHERE device_id = $1 AND granularity = $2 AND %[1]s_close IS NOT NULL
		ORDER BY window_start DESC
		LIMIT $3`, metric.Column())

	rows, err := s.db.Query(ctx, query, deviceID, string(g), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: query latest candles: %w", err)
	}
	defer rows.Close()

	var points []model.SeriesPoint
	for rows.Next() {
		var p model.SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("timescaledb: scan candle row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: iterate candle rows: %w", err)
	}
	return points, nil
}

func ohlcColumns(o *model.OHLC) (open, high, low, close *float64) {
	if o == nil {
		return nil, nil, nil, nil
	}
	return &o.Open, &o.High, &o.Low, &o.Close
}
