// internal/sink/kafka.go
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/kafka"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

// RunEvent — уведомление о завершённом прогоне агрегации. Подписчики
// (например, оценщик алертов) реагируют на появление свежих свечей.
type RunEvent struct {
	RunID          string                  `json:"run_id"`
	DeviceID       string                  `json:"device_id"`
	Granularity    granularity.Granularity `json:"granularity"`
	CandlesWritten int                     `json:"candles_written"`
	RangeStart     time.Time               `json:"range_start"`
	RangeEnd       time.Time               `json:"range_end"`
	CompletedAt    time.Time               `json:"completed_at"`
}

// Kafka публикует события прогонов в topic, ключуя по device_id, чтобы
// события одного устройства читались в порядке публикации.
type Kafka struct {
	producer kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewKafka создаёт sink поверх готового продюсера.
func NewKafka(producer kafka.Producer, topic string, log *logger.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, log: log.Named("sink")}
}

// PublishRun сериализует событие и отправляет его в Kafka. Ошибка публикации
// не откатывает прогон: свечи уже записаны, событие — best effort.
func (k *Kafka) PublishRun(ctx context.Context, ev RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: marshal run event: %w", err)
	}
	if err := k.producer.Publish(ctx, k.topic, []byte(ev.DeviceID), data); err != nil {
		k.log.WithContext(ctx).Error("run event publish failed",
			zap.String("run_id", ev.RunID),
			zap.String("device_id", ev.DeviceID),
			zap.Error(err),
		)
		return fmt.Errorf("sink: publish run event: %w", err)
	}
	return nil
}
