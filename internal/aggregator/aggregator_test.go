// internal/aggregator/aggregator_test.go
package aggregator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

func TestMain(m *testing.M) {
	metrics.Register(nil)
	os.Exit(m.Run())
}

// fakeSource serves raw samples from a static slice, filtering by time range.
type fakeSource struct {
	samples []model.RawSample
	err     error
}

func (f *fakeSource) Samples(_ context.Context, deviceID string, from, to time.Time) ([]model.RawSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RawSample
	for _, s := range f.samples {
		if s.DeviceID != deviceID {
			continue
		}
		if s.CollectedAt.Before(from) || !s.CollectedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type candleKey struct {
	device string
	g      granularity.Granularity
	start  time.Time
}

// fakeStore is an in-memory candle store with an optional per-window failure.
type fakeStore struct {
	mu      sync.Mutex
	candles map[candleKey]model.Candle
	failAt  time.Time // windows starting at this instant fail to upsert
}

func newFakeStore() *fakeStore {
	return &fakeStore{candles: make(map[candleKey]model.Candle)}
}

func (f *fakeStore) Upsert(_ context.Context, c *model.Candle) (aggregator.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failAt.IsZero() && c.WindowStart.Equal(f.failAt) {
		return aggregator.OutcomeCreated, errors.New("storage failure")
	}
	key := candleKey{c.DeviceID, c.Granularity, c.WindowStart.UTC()}
	_, existed := f.candles[key]
	f.candles[key] = *c
	if existed {
		return aggregator.OutcomeUpdated, nil
	}
	return aggregator.OutcomeCreated, nil
}

func (f *fakeStore) get(device string, g granularity.Granularity, start time.Time) (model.Candle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candles[candleKey{device, g, start.UTC()}]
	return c, ok
}

func (f *fakeStore) snapshot() map[candleKey]model.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[candleKey]model.Candle, len(f.candles))
	for k, v := range f.candles {
		cp[k] = v
	}
	return cp
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", DevMode: true})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func f64(v float64) *float64 { return &v }

func sample(device string, at time.Time, cpu, mem, disk *float64) model.RawSample {
	return model.RawSample{DeviceID: device, CollectedAt: at, CPUPercent: cpu, MemoryPercent: mem, DiskPercent: disk}
}

var hourStart = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func TestGenerateCandles_OHLCExample(t *testing.T) {
	// CPU samples at minute offsets 0, 5, 10 with values 10, 40, 25.
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart, f64(10), f64(50), f64(70)),
		sample("dev-1", hourStart.Add(5*time.Minute), f64(40), f64(55), f64(70)),
		sample("dev-1", hourStart.Add(10*time.Minute), f64(25), f64(45), f64(70)),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))

	res, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("GenerateCandles: %v", err)
	}
	if res.CandlesWritten != 1 {
		t.Fatalf("expected 1 candle written, got %d", res.CandlesWritten)
	}

	c, ok := store.get("dev-1", granularity.Min15, hourStart)
	if !ok {
		t.Fatal("candle not found in store")
	}
	if c.SampleCount != 3 {
		t.Errorf("sample_count = %d, want 3", c.SampleCount)
	}
	want := model.OHLC{Open: 10, High: 40, Low: 10, Close: 25}
	if c.CPU == nil || *c.CPU != want {
		t.Errorf("cpu OHLC = %+v, want %+v", c.CPU, want)
	}
	if c.WindowEnd != hourStart.Add(15*time.Minute) {
		t.Errorf("window_end = %v, want %v", c.WindowEnd, hourStart.Add(15*time.Minute))
	}
	// disk was flat; open=high=low=close
	if c.Disk == nil || *c.Disk != (model.OHLC{Open: 70, High: 70, Low: 70, Close: 70}) {
		t.Errorf("disk OHLC = %+v", c.Disk)
	}
}

func TestGenerateCandles_OHLCBoundsInvariant(t *testing.T) {
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart.Add(1*time.Minute), f64(33), f64(12), nil),
		sample("dev-1", hourStart.Add(4*time.Minute), f64(91), f64(8), nil),
		sample("dev-1", hourStart.Add(9*time.Minute), f64(2), f64(64), f64(50)),
		sample("dev-1", hourStart.Add(14*time.Minute), f64(47), f64(30), f64(48)),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))

	if _, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute)); err != nil {
		t.Fatalf("GenerateCandles: %v", err)
	}
	c, ok := store.get("dev-1", granularity.Min15, hourStart)
	if !ok {
		t.Fatal("candle not found")
	}
	for _, m := range model.Metrics() {
		o := c.Series(m)
		if o == nil {
			continue
		}
		if o.Low > o.Open || o.Open > o.High {
			t.Errorf("%s: open %v outside [low %v, high %v]", m, o.Open, o.Low, o.High)
		}
		if o.Low > o.Close || o.Close > o.High {
			t.Errorf("%s: close %v outside [low %v, high %v]", m, o.Close, o.Low, o.High)
		}
	}
}

func TestGenerateCandles_EmptyWindowsProduceNoCandles(t *testing.T) {
	// Samples only in the second of four windows.
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart.Add(20*time.Minute), f64(10), nil, nil),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))

	res, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("GenerateCandles: %v", err)
	}
	if res.CandlesWritten != 1 || res.WindowsSkipped != 3 {
		t.Fatalf("written=%d skipped=%d, want 1/3", res.CandlesWritten, res.WindowsSkipped)
	}
	if len(store.snapshot()) != 1 {
		t.Fatalf("store holds %d candles, want 1", len(store.snapshot()))
	}
	if _, ok := store.get("dev-1", granularity.Min15, hourStart); ok {
		t.Error("empty window must not produce a candle")
	}
}

func TestGenerateCandles_MetricNeverCollectedIsNil(t *testing.T) {
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart, f64(10), nil, nil),
		sample("dev-1", hourStart.Add(time.Minute), f64(20), nil, nil),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))

	if _, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute)); err != nil {
		t.Fatalf("GenerateCandles: %v", err)
	}
	c, _ := store.get("dev-1", granularity.Min15, hourStart)
	if c.Memory != nil || c.Disk != nil {
		t.Errorf("uncollected metrics must stay nil: memory=%+v disk=%+v", c.Memory, c.Disk)
	}
	if c.SampleCount != 2 {
		t.Errorf("sample_count = %d, want 2", c.SampleCount)
	}
}

func TestGenerateCandles_Idempotent(t *testing.T) {
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart.Add(2*time.Minute), f64(15), f64(60), f64(80)),
		sample("dev-1", hourStart.Add(17*time.Minute), f64(35), f64(62), f64(81)),
		sample("dev-1", hourStart.Add(44*time.Minute), f64(25), f64(58), f64(79)),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))

	ctx := context.Background()
	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart.Add(time.Hour)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := store.snapshot()

	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart.Add(time.Hour)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := store.snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay over unchanged data must be identical:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestGenerateCandles_OverwritesOnNewData(t *testing.T) {
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", hourStart, f64(10), nil, nil),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))
	ctx := context.Background()

	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// New sample arrives for the already-candled window.
	src.samples = append(src.samples, sample("dev-1", hourStart.Add(10*time.Minute), f64(90), nil, nil))
	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	c, _ := store.get("dev-1", granularity.Min15, hourStart)
	if c.CPU == nil || c.CPU.High != 90 || c.CPU.Close != 90 || c.CPU.Open != 10 {
		t.Errorf("candle not refreshed: %+v", c.CPU)
	}
	if c.SampleCount != 2 {
		t.Errorf("sample_count = %d, want 2", c.SampleCount)
	}
}

func TestGenerateCandles_TieBreakIsDeterministic(t *testing.T) {
	// Two samples share a timestamp; insertion order decides open/close.
	ts := hourStart.Add(time.Minute)
	src := &fakeSource{samples: []model.RawSample{
		sample("dev-1", ts, f64(11), nil, nil),
		sample("dev-1", ts, f64(22), nil, nil),
	}}
	store := newFakeStore()
	agg := aggregator.New(src, store, aggregator.Config{}, testLogger(t))
	ctx := context.Background()

	var prev *model.OHLC
	for i := 0; i < 5; i++ {
		if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart.Add(15*time.Minute)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		c, _ := store.get("dev-1", granularity.Min15, hourStart)
		if prev != nil && *c.CPU != *prev {
			t.Fatalf("run %d changed the candle: %+v vs %+v", i, c.CPU, prev)
		}
		cp := *c.CPU
		prev = &cp
	}
	if prev.Open != 11 || prev.Close != 22 {
		t.Errorf("stable insertion order expected open=11 close=22, got %+v", prev)
	}
}

func TestGenerateCandles_CallerErrors(t *testing.T) {
	store := newFakeStore()
	agg := aggregator.New(&fakeSource{}, store, aggregator.Config{}, testLogger(t))
	ctx := context.Background()

	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Raw, hourStart, hourStart.Add(time.Hour)); !errors.Is(err, granularity.ErrInvalid) {
		t.Errorf("raw granularity: expected ErrInvalid, got %v", err)
	}
	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Granularity("2hour"), hourStart, hourStart.Add(time.Hour)); !errors.Is(err, granularity.ErrInvalid) {
		t.Errorf("unknown granularity: expected ErrInvalid, got %v", err)
	}
	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart, hourStart); !errors.Is(err, aggregator.ErrInvalidRange) {
		t.Errorf("empty range: expected ErrInvalidRange, got %v", err)
	}
	if _, err := agg.GenerateCandles(ctx, "dev-1", granularity.Min15, hourStart.Add(time.Hour), hourStart); !errors.Is(err, aggregator.ErrInvalidRange) {
		t.Errorf("inverted range: expected ErrInvalidRange, got %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Error("caller errors must not write candles")
	}
}

func TestGenerateCandles_PartialFailureKeepsCommittedWindows(t *testing.T) {
	var samples []model.RawSample
	for i := 0; i < 4; i++ {
		at := hourStart.Add(time.Duration(i) * 15 * time.Minute)
		samples = append(samples, sample("dev-1", at, f64(float64(10+i)), nil, nil))
	}
	src := &fakeSource{samples: samples}
	store := newFakeStore()
	failedWindow := hourStart.Add(30 * time.Minute)
	store.failAt = failedWindow

	// Sequential processing so windows before the failure are committed
	// deterministically.
	agg := aggregator.New(src, store, aggregator.Config{WindowConcurrency: 1}, testLogger(t))

	res, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, hourStart, hourStart.Add(time.Hour))
	if err == nil {
		t.Fatal("expected a storage error")
	}
	if res.CandlesWritten != 2 {
		t.Errorf("candles_written = %d, want 2 (windows before the failure)", res.CandlesWritten)
	}
	if !res.FailedWindow.Equal(failedWindow) {
		t.Errorf("failed_window = %v, want %v", res.FailedWindow, failedWindow)
	}
	if _, ok := store.get("dev-1", granularity.Min15, hourStart); !ok {
		t.Error("window committed before the failure must survive")
	}

	// Resuming from the failed window completes the run.
	store.failAt = time.Time{}
	res2, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Min15, res.FailedWindow, hourStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res2.CandlesWritten != 2 {
		t.Errorf("resume wrote %d candles, want 2", res2.CandlesWritten)
	}
	if len(store.snapshot()) != 4 {
		t.Errorf("store holds %d candles, want 4", len(store.snapshot()))
	}
}

func TestGenerateCandles_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("connection refused")}
	agg := aggregator.New(src, newFakeStore(), aggregator.Config{WindowConcurrency: 1}, testLogger(t))

	res, err := agg.GenerateCandles(context.Background(), "dev-1", granularity.Hour1, hourStart, hourStart.Add(2*time.Hour))
	if err == nil {
		t.Fatal("expected error from source")
	}
	if res.CandlesWritten != 0 {
		t.Errorf("candles_written = %d, want 0", res.CandlesWritten)
	}
	if !res.FailedWindow.Equal(hourStart) {
		t.Errorf("failed_window = %v, want %v", res.FailedWindow, hourStart)
	}
}
