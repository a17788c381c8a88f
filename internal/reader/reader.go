// internal/reader/reader.go
package reader

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var tracer = otel.Tracer("engine/reader")

// RawSource отдаёт последние значения метрики из сырых сэмплов.
type RawSource interface {
	Latest(ctx context.Context, deviceID string, metric model.Metric, limit int) ([]model.SeriesPoint, error)
}

// CandleSource отдаёт последние закрытия свечей заданной гранулярности.
type CandleSource interface {
	QueryLatest(ctx context.Context, deviceID string, g granularity.Granularity, metric model.Metric, limit int) ([]model.SeriesPoint, error)
}

// Reader выбирает источник чтения по гранулярности: raw — сырые сэмплы,
// остальные — закрытия свечей. Обе ветки возвращают точки от новых к старым,
// поэтому потребитель обрабатывает их единообразно.
type Reader struct {
	raw     RawSource
	candles CandleSource
	log     *logger.Logger
}

func New(raw RawSource, candles CandleSource, log *logger.Logger) *Reader {
	return &Reader{raw: raw, candles: candles, log: log.Named("reader")}
}

// Read возвращает до limit последних точек метрики на гранулярности g.
// limit <= 0 — пустой результат без обращения к хранилищу.
func (r *Reader) Read(ctx context.Context, deviceID string, metric model.Metric, g granularity.Granularity, limit int) ([]model.SeriesPoint, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Reader.Read",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.String("metric", string(metric)),
			attribute.String("granularity", string(g)),
		))
	defer span.End()

	var (
		points []model.SeriesPoint
		source string
		err    error
	)
	if g == granularity.Raw {
		source = "raw"
		points, err = r.raw.Latest(ctx, deviceID, metric, limit)
	} else {
		source = "candles"
		points, err = r.candles.QueryLatest(ctx, deviceID, g, metric, limit)
	}
	if err != nil {
		span.RecordError(err)
		r.log.WithContext(ctx).Error("read failed",
			zap.String("device_id", deviceID),
			zap.String("metric", string(metric)),
			zap.String("granularity", string(g)),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.ReadsTotal.WithLabelValues(source).Inc()
	return points, nil
}
