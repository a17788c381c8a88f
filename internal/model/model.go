// internal/model/model.go
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
)

// Metric — имя отслеживаемой метрики устройства.
type Metric string

const (
	MetricCPU    Metric = "cpu"
	MetricMemory Metric = "memory"
	MetricDisk   Metric = "disk"
)

// ErrInvalidMetric возвращается для имени метрики вне перечисления.
var ErrInvalidMetric = errors.New("model: invalid metric")

// Metrics перечисляет все отслеживаемые метрики.
func Metrics() []Metric {
	return []Metric{MetricCPU, MetricMemory, MetricDisk}
}

// ParseMetric разбирает строковое имя метрики.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate проверяет принадлежность метрики закрытому перечислению.
func (m Metric) Validate() error {
	switch m {
	case MetricCPU, MetricMemory, MetricDisk:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMetric, string(m))
}

// Column возвращает SQL-префикс колонок метрики ("cpu" → cpu_percent, cpu_close).
// Значение безопасно подставлять в запрос: перечисление закрыто.
func (m Metric) Column() string { return string(m) }

func (m Metric) String() string { return string(m) }

// RawSample — один сырой замер метрик устройства. Неизменяем после записи;
// владелец — путь ингестии, этой подсистеме доступен только на чтение.
// Значения метрик nullable: устройство может не отдавать отдельную метрику.
type RawSample struct {
	DeviceID      string
	CollectedAt   time.Time
	CPUPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
}

// Value возвращает значение запрошенной метрики (nil, если не собрана).
func (s *RawSample) Value(m Metric) *float64 {
	switch m {
	case MetricCPU:
		return s.CPUPercent
	case MetricMemory:
		return s.MemoryPercent
	case MetricDisk:
		return s.DiskPercent
	}
	return nil
}

// OHLC — сводка метрики за окно: первое, максимальное, минимальное
// и последнее наблюдённые значения.
type OHLC struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Candle — агрегированная запись по одному устройству и окну.
// Инварианты: WindowEnd = WindowStart + duration(Granularity);
// SampleCount >= 1 (окно без сэмплов свечу не порождает);
// для каждой присутствующей метрики Low <= Open <= High и Low <= Close <= High.
type Candle struct {
	DeviceID    string
	Granularity granularity.Granularity
	WindowStart time.Time
	WindowEnd   time.Time

	// Пер-метрика OHLC; nil, если метрика ни разу не собиралась в окне.
	CPU    *OHLC
	Memory *OHLC
	Disk   *OHLC

	// Число сырых строк в окне; общее для всех метрик.
	SampleCount int
}

// Series возвращает OHLC запрошенной метрики (nil, если отсутствует).
func (c *Candle) Series(m Metric) *OHLC {
	switch m {
	case MetricCPU:
		return c.CPU
	case MetricMemory:
		return c.Memory
	case MetricDisk:
		return c.Disk
	}
	return nil
}

// SeriesPoint — единая форма точки ряда для потребителя (оценщика алертов),
// одинаковая для сырых сэмплов и закрытий свечей.
type SeriesPoint struct {
	Value     float64
	Timestamp time.Time
}
