// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/sink"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var tracer = otel.Tracer("engine/scheduler")

// DeviceLister отдаёт устройства, активные после since.
type DeviceLister interface {
	ActiveDevices(ctx context.Context, since time.Time) ([]string, error)
}

// CandleGenerator запускает прогон агрегации по устройству и гранулярности.
type CandleGenerator interface {
	GenerateCandles(ctx context.Context, deviceID string, g granularity.Granularity, rangeStart, rangeEnd time.Time) (aggregator.Result, error)
}

// CheckpointStore хранит границу возобновления по паре (device, granularity).
// Нулевое время из Get означает отсутствие чекпоинта.
type CheckpointStore interface {
	Get(ctx context.Context, deviceID string, g granularity.Granularity) (time.Time, error)
	Set(ctx context.Context, deviceID string, g granularity.Granularity, ts time.Time) error
}

// RunPublisher уведомляет подписчиков о завершённом прогоне.
type RunPublisher interface {
	PublishRun(ctx context.Context, ev sink.RunEvent) error
}

// Config — расписание прогонов.
type Config struct {
	// Specs — cron-выражения по гранулярностям; незаданные получают defaults,
	// смещённые на несколько минут после закрытия окна, чтобы поздние сэмплы
	// успели долететь.
	Specs map[granularity.Granularity]string `mapstructure:"specs"`
	// Lookback ограничивает глубину первого прогона без чекпоинта.
	Lookback time.Duration `mapstructure:"lookback"`
	// ActiveWindow определяет, какие устройства считаются активными.
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

func defaultSpecs() map[granularity.Granularity]string {
	return map[granularity.Granularity]string{
		granularity.Min15: "1,16,31,46 * * * *",
		granularity.Min30: "2,32 * * * *",
		granularity.Hour1: "3 * * * *",
		granularity.Hour4: "5 */4 * * *",
		granularity.Day1:  "10 0 * * *",
	}
}

func (c *Config) applyDefaults() {
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = time.Hour
	}
	if c.Specs == nil {
		c.Specs = make(map[granularity.Granularity]string)
	}
	for g, spec := range defaultSpecs() {
		if _, ok := c.Specs[g]; !ok {
			c.Specs[g] = spec
		}
	}
}

// Validate проверяет, что расписание задано только для агрегируемых
// гранулярностей.
func (c *Config) Validate() error {
	for g := range c.Specs {
		if !g.IsAggregated() {
			return fmt.Errorf("scheduler: %q is not schedulable", string(g))
		}
	}
	return nil
}

// Scheduler запускает прогоны агрегации по cron-расписанию: на каждую
// гранулярность — своя задача, внутри задачи — прогон по каждому активному
// устройству от его чекпоинта.
type Scheduler struct {
	cron        *cron.Cron
	devices     DeviceLister
	gen         CandleGenerator
	checkpoints CheckpointStore
	publisher   RunPublisher // nil, если публикация событий выключена
	cfg         Config
	log         *logger.Logger
}

// New создаёт Scheduler и регистрирует задачи. publisher может быть nil.
func New(devices DeviceLister, gen CandleGenerator, checkpoints CheckpointStore, publisher RunPublisher, cfg Config, log *logger.Logger) (*Scheduler, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:        cron.New(),
		devices:     devices,
		gen:         gen,
		checkpoints: checkpoints,
		publisher:   publisher,
		cfg:         cfg,
		log:         log.Named("scheduler"),
	}
	return s, nil
}

// Run регистрирует cron-задачи, запускает планировщик и блокируется до
// отмены контекста; затем дожидается завершения активных задач.
func (s *Scheduler) Run(ctx context.Context) error {
	for g, spec := range s.cfg.Specs {
		g := g
		if _, err := s.cron.AddFunc(spec, func() {
			if err := s.RunOnce(ctx, g); err != nil {
				s.log.Error("scheduled run failed",
					zap.String("granularity", string(g)),
					zap.Error(err),
				)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: register %s: %w", g, err)
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cfg.Specs)))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// RunOnce прогоняет агрегацию гранулярности g по всем активным устройствам.
// Ошибки отдельных устройств не прерывают остальных; возвращается первая.
func (s *Scheduler) RunOnce(ctx context.Context, g granularity.Granularity) error {
	if !g.IsAggregated() {
		return fmt.Errorf("%w: %q is not schedulable", granularity.ErrInvalid, string(g))
	}
	dur, err := g.Duration()
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "Scheduler.RunOnce",
		trace.WithAttributes(attribute.String("granularity", string(g))))
	defer span.End()

	now := time.Now().UTC()
	devices, err := s.devices.ActiveDevices(ctx, now.Add(-s.cfg.ActiveWindow))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduler: list active devices: %w", err)
	}
	if len(devices) == 0 {
		s.log.Debug("no active devices", zap.String("granularity", string(g)))
		return nil
	}

	var firstErr error
	for _, deviceID := range devices {
		if err := s.runDevice(ctx, deviceID, g, dur, now); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// runDevice выполняет один прогон устройства: от чекпоинта (или
// lookback-горизонта) до текущего момента.
func (s *Scheduler) runDevice(ctx context.Context, deviceID string, g granularity.Granularity, dur time.Duration, now time.Time) error {
	from, err := s.checkpoints.Get(ctx, deviceID, g)
	if err != nil {
		return fmt.Errorf("scheduler: load checkpoint: %w", err)
	}
	if from.IsZero() || from.Before(now.Add(-s.cfg.Lookback)) {
		from = now.Add(-s.cfg.Lookback)
	}
	if !from.Before(now) {
		return nil
	}

	res, genErr := s.gen.GenerateCandles(ctx, deviceID, g, from, now)
	if genErr != nil {
		// Следующий прогон продолжает с самого раннего незафиксированного
		// окна; при ошибке валидации границы нет, чекпоинт не трогаем.
		if !res.FailedWindow.IsZero() {
			if cpErr := s.checkpoints.Set(ctx, deviceID, g, res.FailedWindow); cpErr != nil {
				s.log.WithContext(ctx).Warn("checkpoint save failed",
					zap.String("device_id", deviceID), zap.Error(cpErr))
			}
		}
		return fmt.Errorf("scheduler: run %s/%s: %w", deviceID, g, genErr)
	}

	// Чекпоинт — начало текущего (ещё открытого) окна: оно будет
	// пересчитано следующим прогоном, когда доедут оставшиеся сэмплы.
	next := aggregator.WindowStartAt(from, now, dur)
	if err := s.checkpoints.Set(ctx, deviceID, g, next); err != nil {
		s.log.WithContext(ctx).Warn("checkpoint save failed",
			zap.String("device_id", deviceID), zap.Error(err))
	}

	if s.publisher != nil && res.CandlesWritten > 0 {
		ev := sink.RunEvent{
			RunID:          res.RunID,
			DeviceID:       deviceID,
			Granularity:    g,
			CandlesWritten: res.CandlesWritten,
			RangeStart:     from,
			RangeEnd:       now,
			CompletedAt:    time.Now().UTC(),
		}
		if err := s.publisher.PublishRun(ctx, ev); err != nil {
			s.log.WithContext(ctx).Warn("run event publish failed",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	return nil
}
