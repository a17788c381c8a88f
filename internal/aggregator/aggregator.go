// internal/aggregator/aggregator.go
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var tracer = otel.Tracer("engine/aggregator")

// ErrInvalidRange возвращается, когда начало диапазона не раньше конца.
var ErrInvalidRange = errors.New("aggregator: range start must precede range end")

// RawSource — read-only доступ к сырым сэмплам устройства за интервал
// [from, to), упорядоченным по collected_at по возрастанию.
type RawSource interface {
	Samples(ctx context.Context, deviceID string, from, to time.Time) ([]model.RawSample, error)
}

// UpsertOutcome сообщает, была ли свеча создана или перезаписана.
type UpsertOutcome int

const (
	OutcomeCreated UpsertOutcome = iota
	OutcomeUpdated
)

// CandleWriter персистит свечи. Upsert атомарен по ключу
// (device_id, granularity, window_start): либо вставка, либо полная
// перезапись всех полей, частичных записей не видно.
type CandleWriter interface {
	Upsert(ctx context.Context, c *model.Candle) (UpsertOutcome, error)
}

// Result описывает исход одного прогона GenerateCandles.
// CandlesWritten валиден и при частичной ошибке: уже зафиксированные окна
// остаются зафиксированными, прогон можно возобновить с FailedWindow.
type Result struct {
	RunID          string
	CandlesWritten int
	WindowsSkipped int
	FailedWindow   time.Time // начало самого раннего окна, завершившегося ошибкой
	Err            error     // первая ошибка прогона
}

// Config — настройки агрегатора.
type Config struct {
	// WindowConcurrency ограничивает число окон в обработке одновременно,
	// сдерживая нагрузку чтения на источник сырых сэмплов.
	WindowConcurrency int `mapstructure:"window_concurrency"`
}

func (c *Config) applyDefaults() {
	if c.WindowConcurrency <= 0 {
		c.WindowConcurrency = 4
	}
}

// Aggregator материализует OHLC-свечи из сырых сэмплов. Не хранит
// состояния между прогонами; единственный побочный эффект — записи
// в CandleWriter.
type Aggregator struct {
	src         RawSource
	store       CandleWriter
	log         *logger.Logger
	concurrency int
}

// New создаёт Aggregator.
func New(src RawSource, store CandleWriter, cfg Config, log *logger.Logger) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		src:         src,
		store:       store,
		log:         log.Named("aggregator"),
		concurrency: cfg.WindowConcurrency,
	}
}

// GenerateCandles разбивает [rangeStart, rangeEnd) на окна длительности g,
// выровненные по началу часа rangeStart, и идемпотентно апсертит свечу для
// каждого непустого окна. Окна обрабатываются ограниченным пулом; после
// первой ошибки оставшиеся окна отменяются. Повторный прогон по неизменным
// сырым данным даёт побайтово идентичные свечи.
func (a *Aggregator) GenerateCandles(ctx context.Context, deviceID string, g granularity.Granularity, rangeStart, rangeEnd time.Time) (Result, error) {
	res := Result{RunID: uuid.NewString()}

	if !g.IsAggregated() {
		res.Err = fmt.Errorf("%w: %q is not a candle granularity", granularity.ErrInvalid, string(g))
		return res, res.Err
	}
	if !rangeStart.Before(rangeEnd) {
		res.Err = ErrInvalidRange
		return res, res.Err
	}

	dur, err := g.Duration()
	if err != nil {
		res.Err = err
		return res, res.Err
	}

	ctx = logger.ContextWithRunID(ctx, res.RunID)
	ctx, span := tracer.Start(ctx, "Aggregator.GenerateCandles",
		trace.WithAttributes(
			attribute.String("device_id", deviceID),
			attribute.String("granularity", string(g)),
		))
	defer span.End()

	log := a.log.WithContext(ctx)
	wins := windowsIn(rangeStart.UTC(), rangeEnd.UTC(), dur)
	started := time.Now()

	var (
		mu          sync.Mutex
		written     int
		skipped     int
		firstErrIdx = -1
		firstWinErr error
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(a.concurrency)
	for i, w := range wins {
		i, w := i, w
		grp.Go(func() error {
			// Окно, стартующее после чужой ошибки, не обрабатывается: отмена
			// считается ошибкой окна, чтобы граница возобновления сдвинулась
			// к самому раннему незафиксированному окну.
			var outcome windowOutcome
			err := gctx.Err()
			if err == nil {
				outcome, err = a.aggregateWindow(gctx, deviceID, g, w)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Самое раннее упавшее окно — граница возобновления: окно,
				// отменённое после чужой ошибки, тоже не зафиксировано.
				if firstErrIdx == -1 || i < firstErrIdx {
					firstErrIdx, firstWinErr = i, err
				}
				return err
			}
			if outcome == windowSkipped {
				skipped++
			} else {
				written++
			}
			return nil
		})
	}
	_ = grp.Wait()

	res.CandlesWritten = written
	res.WindowsSkipped = skipped
	if firstErrIdx >= 0 {
		res.FailedWindow = wins[firstErrIdx].Start
		res.Err = fmt.Errorf("window %s: %w", res.FailedWindow.Format(time.RFC3339), firstWinErr)
	}

	metrics.RunsTotal.WithLabelValues(string(g)).Inc()
	metrics.CandlesWritten.WithLabelValues(string(g)).Add(float64(written))
	metrics.WindowsSkipped.WithLabelValues(string(g)).Add(float64(skipped))
	metrics.RunDuration.WithLabelValues(string(g)).Observe(time.Since(started).Seconds())
	if res.Err != nil {
		metrics.RunErrors.WithLabelValues(string(g)).Inc()
		span.RecordError(res.Err)
		log.Error("candle generation run failed",
			zap.String("device_id", deviceID),
			zap.String("granularity", string(g)),
			zap.Int("candles_written", written),
			zap.Time("failed_window", res.FailedWindow),
			zap.Error(res.Err),
		)
		return res, res.Err
	}

	log.Info("candle generation run complete",
		zap.String("device_id", deviceID),
		zap.String("granularity", string(g)),
		zap.Int("candles_written", written),
		zap.Int("windows_skipped", skipped),
	)
	return res, nil
}

type windowOutcome int

const (
	windowWritten windowOutcome = iota
	windowSkipped
)

// aggregateWindow — независимая атомарная единица прогона: выборка сэмплов
// одного окна и апсерт результата.
func (a *Aggregator) aggregateWindow(ctx context.Context, deviceID string, g granularity.Granularity, w window) (windowOutcome, error) {
	samples, err := a.src.Samples(ctx, deviceID, w.Start, w.End)
	if err != nil {
		return windowWritten, fmt.Errorf("fetch samples: %w", err)
	}
	if len(samples) == 0 {
		// окно без сэмплов свечу не порождает
		return windowSkipped, nil
	}

	c := buildCandle(deviceID, g, w.Start, w.End, samples)
	if _, err := a.store.Upsert(ctx, c); err != nil {
		return windowWritten, fmt.Errorf("upsert candle: %w", err)
	}
	return windowWritten, nil
}
