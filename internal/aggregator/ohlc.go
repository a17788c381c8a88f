// internal/aggregator/ohlc.go
package aggregator

import (
	"sort"
	"time"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
)

// buildCandle вычисляет OHLC по каждой метрике независимо над сэмплами
// одного окна. Сортировка стабильна: при равных collected_at выбор
// open/close определяется исходным порядком вставки, что сохраняет
// идемпотентность повторных прогонов.
func buildCandle(deviceID string, g granularity.Granularity, ws, we time.Time, samples []model.RawSample) *model.Candle {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].CollectedAt.Before(samples[j].CollectedAt)
	})

	return &model.Candle{
		DeviceID:    deviceID,
		Granularity: g,
		WindowStart: ws,
		WindowEnd:   we,
		CPU:         buildOHLC(samples, model.MetricCPU),
		Memory:      buildOHLC(samples, model.MetricMemory),
		Disk:        buildOHLC(samples, model.MetricDisk),
		SampleCount: len(samples),
	}
}

// buildOHLC сворачивает значения одной метрики: open — самое раннее,
// close — самое позднее, high/low — максимум/минимум по окну.
// nil, если метрика не собиралась ни в одном сэмпле окна.
func buildOHLC(samples []model.RawSample, m model.Metric) *model.OHLC {
	var o *model.OHLC
	for i := range samples {
		v := samples[i].Value(m)
		if v == nil {
			continue
		}
		if o == nil {
			o = &model.OHLC{Open: *v, High: *v, Low: *v, Close: *v}
			continue
		}
		if *v > o.High {
			o.High = *v
		}
		if *v < o.Low {
			o.Low = *v
		}
		o.Close = *v
	}
	return o
}
