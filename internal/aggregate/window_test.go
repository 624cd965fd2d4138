package aggregate

import (
	"testing"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
)

func TestWindow_InvalidSize(t *testing.T) {
	if _, err := NewWindow(0, Options{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestWindow_Rollover(t *testing.T) {
	w, err := NewWindow(time.Second, Options{})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	for _, r := range []struct {
		v  float64
		ts int64
	}{{10, 1000}, {20, 1200}, {30, 1400}, {15, 1800}} {
		if _, ok := w.Add(reading(r.v, r.ts)); ok {
			t.Fatalf("no window should close within the same second (ts=%d)", r.ts)
		}
	}

	if w.Pending() != 4 {
		t.Errorf("expected 4 pending, got %d", w.Pending())
	}

	agg, ok := w.Add(reading(99, 2050))
	if !ok {
		t.Fatal("expected first window to close")
	}
	if agg.TimestampMs != 1000 || agg.Count != 4 || agg.Avg != 18.75 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}

	if start, _ := w.OpenWindowStart(); start != 2000 {
		t.Errorf("expected open window at 2000, got %d", start)
	}

	agg, ok = w.Flush()
	if !ok || agg.Count != 1 || agg.Min != 99 {
		t.Errorf("unexpected flush result: %+v ok=%v", agg, ok)
	}

	if _, ok := w.Flush(); ok {
		t.Error("second flush should return nothing")
	}

	stats := w.Stats()
	if stats.Completed != 2 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWindow_LateReadingFoldsIntoOpenWindow(t *testing.T) {
	w, _ := NewWindow(time.Second, Options{})

	w.Add(reading(1, 5000))
	if _, ok := w.Add(reading(2, 4500)); ok {
		t.Error("late reading should not close the window")
	}

	agg, _ := w.Flush()
	if agg.Count != 2 || agg.TimestampMs != 5000 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
	if w.Stats().Late != 1 {
		t.Errorf("expected 1 late reading, got %d", w.Stats().Late)
	}
}

func TestWindow_CustomSize(t *testing.T) {
	w, _ := NewWindow(5*time.Second, Options{})
	w.Add(reading(1, 10_000))
	w.Add(reading(2, 14_999))

	agg, ok := w.Add(reading(3, 15_000))
	if !ok || agg.Count != 2 || agg.TimestampMs != 10_000 {
		t.Errorf("unexpected rollover: %+v ok=%v", agg, ok)
	}
	if w.Size() != 5*time.Second {
		t.Errorf("unexpected size %s", w.Size())
	}
}

func TestWindow_LateReadingAfterFlush(t *testing.T) {
	const base = 1_700_000_000_000

	tests := []struct {
		name      string
		first     int64
		late      int64
		wantStart int64
	}{
		{"same window", base + 100, base + 500, base + 1000},
		{"earlier window", base + 1200, base + 300, base + 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := NewWindow(time.Second, Options{})

			w.Add(reading(1, tt.first))
			closed, ok := w.Flush()
			if !ok {
				t.Fatal("expected flushed window")
			}

			if _, ok := w.Add(reading(2, tt.late)); ok {
				t.Error("late reading should not emit a window")
			}
			if start, _ := w.OpenWindowStart(); start != tt.wantStart {
				t.Errorf("expected open window %d, got %d", tt.wantStart, start)
			}
			if w.Stats().Late != 1 {
				t.Errorf("expected 1 late reading, got %d", w.Stats().Late)
			}

			agg, ok := w.Flush()
			if !ok || agg.TimestampMs == closed.TimestampMs {
				t.Errorf("closed window %d emitted twice: %+v", closed.TimestampMs, agg)
			}
			if agg.Count != 1 || agg.Min != 2 {
				t.Errorf("unexpected aggregate: %+v", agg)
			}
		})
	}
}

func TestWindow_NewerReadingAfterFlush(t *testing.T) {
	w, _ := NewWindow(time.Second, Options{})

	w.Add(reading(1, 5000))
	w.Flush()
	w.Add(reading(2, 7200))

	if start, _ := w.OpenWindowStart(); start != 7000 {
		t.Errorf("expected open window 7000, got %d", start)
	}
	if w.Stats().Late != 0 {
		t.Errorf("expected no late readings, got %d", w.Stats().Late)
	}
}
