// internal/storage/timescaledb/samples.go
package timescaledb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

// Samples — read-only источник сырых сэмплов. Таблица принадлежит пути
// ингестии; эта подсистема сырые сэмплы никогда не пишет.
type Samples struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewSamples создаёт источник сэмплов поверх готового пула.
func NewSamples(db *pgxpool.Pool, log *logger.Logger) *Samples {
	return &Samples{db: db, log: log.Named("samples")}
}

// Samples возвращает сэмплы устройства за [from, to), по возрастанию
// collected_at. Порядок стабилен: при равных collected_at решает порядок
// вставки (id), что сохраняет детерминизм open/close в агрегаторе.
func (s *Samples) Samples(ctx context.Context, deviceID string, from, to time.Time) ([]model.RawSample, error) {
	ctx, span := tracer.Start(ctx, "Samples.Samples",
		trace.WithAttributes(attribute.String("device_id", deviceID)))
	defer span.End()

	const query = `SELECT device_id, collected_at, cpu_percent, memory_percent, disk_percent
		FROM device_metric_samples
		WHERE device_id = $1 AND collected_at >= $2 AND collected_at < $3
		ORDER BY collected_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, deviceID, from.UTC(), to.UTC())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: query samples: %w", err)
	}
	defer rows.Close()

	var out []model.RawSample
	for rows.Next() {
		var r model.RawSample
		if err := rows.Scan(&r.DeviceID, &r.CollectedAt, &r.CPUPercent, &r.MemoryPercent, &r.DiskPercent); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("timescaledb: scan sample row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: iterate sample rows: %w", err)
	}
	return out, nil
}

// Latest возвращает до limit последних значений метрики, от новых к старым;
// строки с несобранной метрикой пропускаются. timestamp точки — collected_at.
func (s *Samples) Latest(ctx context.Context, deviceID string, metric model.Metric, limit int) ([]model.SeriesPoint, error) {
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Samples.Latest",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.String("metric", string(metric)),
		))
	defer span.End()

	// Column() ограничен закрытым перечислением метрик.
	query := fmt.Sprintf(`SELECT collected_at, %[1]s_percent
		FROM device_metric_samples
		WHERE device_id = $1 AND %[1]s_percent IS NOT NULL
		ORDER BY collected_at DESC
		LIMIT $2`, metric.Column())

	rows, err := s.db.Query(ctx, query, deviceID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: query latest samples: %w", err)
	}
	defer rows.Close()

	var points []model.SeriesPoint
	for rows.Next() {
		var p model.SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("timescaledb: scan sample row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: iterate sample rows: %w", err)
	}
	return points, nil
}

// ActiveDevices возвращает устройства, отдавшие хотя бы один сэмпл после
// since. Используется планировщиком для выбора целей прогона.
func (s *Samples) ActiveDevices(ctx context.Context, since time.Time) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Samples.ActiveDevices")
	defer span.End()

	const query = `SELECT DISTINCT device_id
		FROM device_metric_samples
		WHERE collected_at >= $1`

	rows, err := s.db.Query(ctx, query, since.UTC())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: query active devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("timescaledb: scan device row: %w", err)
		}
		devices = append(devices, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("timescaledb: iterate device rows: %w", err)
	}
	return devices, nil
}
