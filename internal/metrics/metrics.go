// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// RunsTotal — прогоны агрегации по гранулярностям.
	RunsTotal *prometheus.CounterVec
	// RunErrors — прогоны, завершившиеся ошибкой.
	RunErrors *prometheus.CounterVec
	// CandlesWritten — записанные (созданные или перезаписанные) свечи.
	CandlesWritten *prometheus.CounterVec
	// WindowsSkipped — окна без сырых сэмплов (свеча не порождается).
	WindowsSkipped *prometheus.CounterVec
	// RunDuration — длительность прогона GenerateCandles.
	RunDuration *prometheus.HistogramVec
	// ReadsTotal — чтения серий по источнику (raw | candles).
	ReadsTotal *prometheus.CounterVec
)

// Register initializes and registers all metrics exactly once.
// If r == nil, uses prometheus.DefaultRegisterer; duplicate registrations are ignored.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}

		RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "aggregator", Name: "runs_total",
			Help: "Total number of candle generation runs",
		}, []string{"granularity"})
		RunErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "aggregator", Name: "run_errors_total",
			Help: "Total number of candle generation runs that reported an error",
		}, []string{"granularity"})
		CandlesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "aggregator", Name: "candles_written_total",
			Help: "Total number of candles upserted into the store",
		}, []string{"granularity"})
		WindowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "aggregator", Name: "windows_skipped_total",
			Help: "Total number of windows skipped because they held no raw samples",
		}, []string{"granularity"})
		RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine", Subsystem: "aggregator", Name: "run_duration_seconds",
			Help:    "Duration of a candle generation run",
			Buckets: prometheus.DefBuckets,
		}, []string{"granularity"})
		ReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "reader", Name: "reads_total",
			Help: "Total number of series reads by source",
		}, []string{"source"})

		collectors := []prometheus.Collector{
			RunsTotal,
			RunErrors,
			CandlesWritten,
			WindowsSkipped,
			RunDuration,
			ReadsTotal,
		}
		for _, c := range collectors {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
