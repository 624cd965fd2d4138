package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetops/fleetring/internal/telemetry"
)

func TestSequence(t *testing.T) {
	key := telemetry.NewKey("pump-1", "pressure")
	rs := Sequence(key, 5, BaseTimestampMs, 250*time.Millisecond)

	if len(rs) != 5 {
		t.Fatalf("expected 5 readings, got %d", len(rs))
	}
	for i, r := range rs {
		if r.Key() != key {
			t.Errorf("[%d] unexpected key %v", i, r.Key())
		}
		if r.Value != float64(i) {
			t.Errorf("[%d] expected value %d, got %v", i, i, r.Value)
		}
		if want := BaseTimestampMs + int64(i)*250; r.TimestampMs != want {
			t.Errorf("[%d] expected ts %d, got %d", i, want, r.TimestampMs)
		}
		if err := r.Validate(); err != nil {
			t.Errorf("[%d] generated reading invalid: %v", i, err)
		}
	}
}

func TestRandomReproducible(t *testing.T) {
	key := telemetry.NewKey("pump-1", "pressure")
	a := Random(key, 20, BaseTimestampMs, time.Second, -5, 5, 42)
	b := Random(key, 20, BaseTimestampMs, time.Second, -5, 5, 42)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("[%d] same seed produced different readings", i)
		}
		if a[i].Value < -5 || a[i].Value >= 5 {
			t.Errorf("[%d] value %v out of range", i, a[i].Value)
		}
	}
}

func TestGroup(t *testing.T) {
	var n atomic.Int32

	g := NewGroup(t)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	g.Wait()

	if n.Load() != 8 {
		t.Errorf("expected 8 goroutines to run, got %d", n.Load())
	}
}

func TestWithTimeout(t *testing.T) {
	WithTimeout(t, time.Second, func() error { return nil })

	var fired bool
	Eventually(t, time.Second, func() bool {
		fired = true
		return true
	}, "immediate condition")
	if !fired {
		t.Error("condition was not evaluated")
	}
}
