// internal/reader/reader_test.go
package reader_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/reader"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

func TestMain(m *testing.M) {
	metrics.Register(nil)
	os.Exit(m.Run())
}

type rawCall struct {
	deviceID string
	metric   model.Metric
	limit    int
}

type fakeRaw struct {
	calls  []rawCall
	points []model.SeriesPoint
	err    error
}

func (f *fakeRaw) Latest(_ context.Context, deviceID string, metric model.Metric, limit int) ([]model.SeriesPoint, error) {
	f.calls = append(f.calls, rawCall{deviceID, metric, limit})
	return f.points, f.err
}

type candleCall struct {
	deviceID string
	g        granularity.Granularity
	metric   model.Metric
	limit    int
}

type fakeCandles struct {
	calls  []candleCall
	points []model.SeriesPoint
	err    error
}

func (f *fakeCandles) QueryLatest(_ context.Context, deviceID string, g granularity.Granularity, metric model.Metric, limit int) ([]model.SeriesPoint, error) {
	f.calls = append(f.calls, candleCall{deviceID, g, metric, limit})
	return f.points, f.err
}

func newReader(t *testing.T, raw *fakeRaw, candles *fakeCandles) *reader.Reader {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return reader.New(raw, candles, log)
}

func TestRead_RawGranularityUsesRawSource(t *testing.T) {
	want := []model.SeriesPoint{{Value: 42.5, Timestamp: time.Now().UTC()}}
	raw := &fakeRaw{points: want}
	candles := &fakeCandles{}
	r := newReader(t, raw, candles)

	got, err := r.Read(context.Background(), "dev-1", model.MetricCPU, granularity.Raw, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0].Value != 42.5 {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(raw.calls) != 1 {
		t.Fatalf("raw source called %d times, want 1", len(raw.calls))
	}
	if raw.calls[0].limit != 10 || raw.calls[0].deviceID != "dev-1" {
		t.Errorf("raw call = %+v", raw.calls[0])
	}
	if len(candles.calls) != 0 {
		t.Errorf("candle source called %d times, want 0", len(candles.calls))
	}
}

func TestRead_AggregatedGranularityUsesCandleSource(t *testing.T) {
	want := []model.SeriesPoint{{Value: 71.0, Timestamp: time.Now().UTC()}}
	raw := &fakeRaw{}
	candles := &fakeCandles{points: want}
	r := newReader(t, raw, candles)

	for _, g := range granularity.Aggregated() {
		got, err := r.Read(context.Background(), "dev-1", model.MetricMemory, g, 5)
		if err != nil {
			t.Fatalf("Read(%s): %v", g, err)
		}
		if len(got) != 1 || got[0].Value != 71.0 {
			t.Errorf("Read(%s) = %+v", g, got)
		}
	}
	if len(raw.calls) != 0 {
		t.Errorf("raw source called %d times, want 0", len(raw.calls))
	}
	if len(candles.calls) != len(granularity.Aggregated()) {
		t.Errorf("candle source called %d times, want %d", len(candles.calls), len(granularity.Aggregated()))
	}
	if candles.calls[0].g != granularity.Min15 {
		t.Errorf("first candle call granularity = %s", candles.calls[0].g)
	}
}

func TestRead_InvalidInputs(t *testing.T) {
	raw := &fakeRaw{}
	candles := &fakeCandles{}
	r := newReader(t, raw, candles)

	if _, err := r.Read(context.Background(), "dev-1", model.MetricCPU, granularity.Granularity("weekly"), 5); !errors.Is(err, granularity.ErrInvalid) {
		t.Errorf("unknown granularity: err = %v, want ErrInvalid", err)
	}
	if _, err := r.Read(context.Background(), "dev-1", model.Metric("gpu"), granularity.Raw, 5); !errors.Is(err, model.ErrInvalidMetric) {
		t.Errorf("unknown metric: err = %v, want ErrInvalidMetric", err)
	}
	if len(raw.calls)+len(candles.calls) != 0 {
		t.Errorf("sources called on invalid input")
	}
}

func TestRead_NonPositiveLimitShortCircuits(t *testing.T) {
	raw := &fakeRaw{points: []model.SeriesPoint{{Value: 1}}}
	candles := &fakeCandles{}
	r := newReader(t, raw, candles)

	got, err := r.Read(context.Background(), "dev-1", model.MetricDisk, granularity.Raw, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
	if len(raw.calls) != 0 {
		t.Errorf("raw source called with limit 0")
	}
}

func TestRead_SourceErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	raw := &fakeRaw{err: boom}
	candles := &fakeCandles{err: boom}
	r := newReader(t, raw, candles)

	if _, err := r.Read(context.Background(), "dev-1", model.MetricCPU, granularity.Raw, 3); !errors.Is(err, boom) {
		t.Errorf("raw path err = %v", err)
	}
	if _, err := r.Read(context.Background(), "dev-1", model.MetricCPU, granularity.Hour1, 3); !errors.Is(err, boom) {
		t.Errorf("candle path err = %v", err)
	}
}
