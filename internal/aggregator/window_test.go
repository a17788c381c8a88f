// internal/aggregator/window_test.go
package aggregator

import (
	"testing"
	"time"
)

func TestWindowsIn_AlignsToHourOfRangeStart(t *testing.T) {
	// rangeStart mid-window: the first window starts at the hour anchor
	// and covers the range start.
	start := time.Date(2024, 3, 10, 14, 7, 30, 0, time.UTC)
	end := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	wins := windowsIn(start, end, 15*time.Minute)
	if len(wins) != 4 {
		t.Fatalf("got %d windows, want 4", len(wins))
	}
	anchor := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	for i, w := range wins {
		wantStart := anchor.Add(time.Duration(i) * 15 * time.Minute)
		if !w.Start.Equal(wantStart) {
			t.Errorf("window %d start = %v, want %v", i, w.Start, wantStart)
		}
		if !w.End.Equal(wantStart.Add(15 * time.Minute)) {
			t.Errorf("window %d end = %v, want %v", i, w.End, wantStart.Add(15*time.Minute))
		}
	}
}

func TestWindowsIn_SkipsWindowsEntirelyBeforeRange(t *testing.T) {
	// With a 4h granularity and a range starting at 14:07, the anchor is
	// 14:00 and no earlier window is emitted.
	start := time.Date(2024, 3, 10, 14, 7, 0, 0, time.UTC)
	end := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)

	wins := windowsIn(start, end, 4*time.Hour)
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2", len(wins))
	}
	if !wins[0].Start.Equal(time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("first window start = %v", wins[0].Start)
	}
}

func TestWindowsIn_DayWindowsAnchorToHourNotMidnight(t *testing.T) {
	// Daily windows are hour-anchored like every other granularity, so a
	// range starting at 09:30 yields a day candle for [09:00, 09:00+24h),
	// not for the calendar day.
	start := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	wins := windowsIn(start, end, 24*time.Hour)
	if len(wins) != 3 {
		t.Fatalf("got %d windows, want 3", len(wins))
	}
	if !wins[0].Start.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("first day window start = %v, want 09:00", wins[0].Start)
	}
}

func TestWindowsIn_ReanchoringOnWindowBoundaryIsStable(t *testing.T) {
	// Resuming a run from a window boundary must reproduce the same windows.
	orig := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	end := orig.Add(2 * time.Hour)

	first := windowsIn(orig, end, 15*time.Minute)
	resumeAt := first[3].Start // 14:45
	resumed := windowsIn(resumeAt, end, 15*time.Minute)

	if !resumed[0].Start.Equal(resumeAt) {
		t.Fatalf("resumed first window = %v, want %v", resumed[0].Start, resumeAt)
	}
	if len(resumed) != len(first)-3 {
		t.Errorf("resumed %d windows, want %d", len(resumed), len(first)-3)
	}
}

func TestWindowStartAt(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 14, 20, 0, 0, time.UTC) // hour anchor 14:00
	ts := time.Date(2024, 3, 10, 16, 50, 0, 0, time.UTC)

	got := WindowStartAt(anchor, ts, 30*time.Minute)
	want := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("WindowStartAt = %v, want %v", got, want)
	}

	// ts before the anchor clamps to the anchor hour.
	early := time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)
	if got := WindowStartAt(anchor, early, 30*time.Minute); !got.Equal(time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("clamped WindowStartAt = %v", got)
	}
}
