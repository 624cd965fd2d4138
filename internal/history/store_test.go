package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
	"github.com/fleetops/fleetring/internal/testutil"
)

var pumpPressure = telemetry.NewKey("pump-1", "pressure")

func newTestStore(t *testing.T, raw, aggs int) *Store {
	t.Helper()
	s, err := NewStore(Options{RawCapacity: raw, AggregateCapacity: aggs})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStore_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero raw", Options{RawCapacity: 0, AggregateCapacity: 1}},
		{"negative aggs", Options{RawCapacity: 1, AggregateCapacity: -1}},
		{"sub-ms window", Options{RawCapacity: 1, AggregateCapacity: 1, Window: time.Microsecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStore(tt.opts); !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestStore_PushAndRead(t *testing.T) {
	s := newTestStore(t, 3, 10)
	base := testutil.BaseTimestampMs

	for i, r := range testutil.Sequence(pumpPressure, 4, base, 100*time.Millisecond) {
		if _, err := s.Push(r); err != nil {
			t.Fatalf("[%d] Push: %v", i, err)
		}
	}

	all, err := s.All(pumpPressure)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 || all[0].Value != 1 || all[2].Value != 3 {
		t.Errorf("expected values [1 2 3], got %v", all)
	}

	last, err := s.Last(pumpPressure, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 2 || last[0].Value != 2 || last[1].Value != 3 {
		t.Errorf("expected values [2 3], got %v", last)
	}

	latest, err := s.Latest(pumpPressure)
	if err != nil || latest.Value != 3 {
		t.Errorf("expected latest value 3, got %v (%v)", latest.Value, err)
	}
}

func TestStore_UnknownKey(t *testing.T) {
	s := newTestStore(t, 3, 3)
	missing := telemetry.NewKey("nope", "nothing")

	if _, err := s.Last(missing, 1); !errors.IsNotFound(err) {
		t.Errorf("Last: expected ErrNotFound, got %v", err)
	}
	if _, err := s.All(missing); !errors.IsNotFound(err) {
		t.Errorf("All: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Aggregates(missing, 1); !errors.IsNotFound(err) {
		t.Errorf("Aggregates: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Latest(missing); !errors.IsNotFound(err) {
		t.Errorf("Latest: expected ErrNotFound, got %v", err)
	}
}

func TestStore_PushInvalid(t *testing.T) {
	s := newTestStore(t, 3, 3)

	bad := testutil.Reading("pump-1", "pressure", 1, 1_700_000_000) // seconds
	if _, err := s.Push(bad); !errors.Is(err, errors.ErrInvalidReading) {
		t.Errorf("expected ErrInvalidReading, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("invalid reading should not create a series")
	}
}

func TestStore_WindowCompletion(t *testing.T) {
	s := newTestStore(t, 10, 10)
	base := testutil.BaseTimestampMs

	readings := []telemetry.Reading{
		testutil.Reading("pump-1", "pressure", 10, base),
		testutil.Reading("pump-1", "pressure", 20, base+200),
		testutil.Reading("pump-1", "pressure", 30, base+400),
		testutil.Reading("pump-1", "pressure", 15, base+800),
	}
	for _, r := range readings {
		agg, err := s.Push(r)
		if err != nil {
			t.Fatal(err)
		}
		if agg != nil {
			t.Fatalf("window closed early: %+v", agg)
		}
	}

	agg, err := s.Push(testutil.Reading("pump-1", "pressure", 99, base+1000))
	if err != nil {
		t.Fatal(err)
	}
	if agg == nil {
		t.Fatal("expected completed aggregate")
	}
	if agg.Min != 10 || agg.Max != 30 || agg.Avg != 18.75 || agg.Count != 4 || agg.TimestampMs != base {
		t.Errorf("unexpected aggregate %+v", agg)
	}

	aggs, _ := s.Aggregates(pumpPressure, 0)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 stored aggregate, got %d", len(aggs))
	}

	flushed := s.Flush()
	if len(flushed) != 1 || flushed[0].Count != 1 || flushed[0].TimestampMs != base+1000 {
		t.Errorf("unexpected flush result %+v", flushed)
	}
	if len(s.Flush()) != 0 {
		t.Error("second flush should be empty")
	}

	aggs, _ = s.Aggregates(pumpPressure, 1)
	if len(aggs) != 1 || aggs[0].TimestampMs != base+1000 {
		t.Errorf("expected newest aggregate only, got %+v", aggs)
	}
}

func TestStore_FlushBefore(t *testing.T) {
	s := newTestStore(t, 10, 10)
	base := testutil.BaseTimestampMs

	idle := telemetry.NewKey("fan-1", "rpm")
	s.Push(testutil.Reading(idle.EquipmentID, idle.SensorType, 1, base))
	s.Push(testutil.Reading("pump-1", "pressure", 1, base+5000))

	flushed := s.FlushBefore(base + 1000)
	if len(flushed) != 1 || flushed[0].Key() != idle {
		t.Fatalf("expected only the idle window, got %+v", flushed)
	}

	if got := s.FlushBefore(base + 5999); len(got) != 0 {
		t.Errorf("open window should survive a cutoff before its end, got %+v", got)
	}
	if got := s.FlushBefore(base + 6000); len(got) != 1 {
		t.Errorf("expected window to close at its end, got %+v", got)
	}
}

func TestStore_LateReadingAfterIdleFlush(t *testing.T) {
	s := newTestStore(t, 10, 10)
	base := testutil.BaseTimestampMs

	s.Push(testutil.Reading("pump-1", "pressure", 1, base+100))
	s.Push(testutil.Reading("pump-1", "pressure", 2, base+200))
	if got := s.FlushBefore(base + 1000); len(got) != 1 {
		t.Fatalf("expected idle window to flush, got %+v", got)
	}

	if agg, err := s.Push(testutil.Reading("pump-1", "pressure", 3, base+500)); err != nil || agg != nil {
		t.Fatalf("late push: agg=%+v err=%v", agg, err)
	}
	s.Flush()

	aggs, _ := s.Aggregates(pumpPressure, 0)
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %+v", aggs)
	}
	if aggs[0].TimestampMs == aggs[1].TimestampMs {
		t.Errorf("window %d stored twice", aggs[0].TimestampMs)
	}
	if aggs[0].Count != 2 {
		t.Errorf("closed window changed: %+v", aggs[0])
	}
	if st := s.Stats(); st.LateReadings != 1 {
		t.Errorf("expected 1 late reading, got %d", st.LateReadings)
	}
}

func TestStore_AggregateCapacityBound(t *testing.T) {
	s := newTestStore(t, 5, 3)
	base := testutil.BaseTimestampMs

	// one reading per second closes a window on every push after the first
	for _, r := range testutil.Sequence(pumpPressure, 10, base, time.Second) {
		if _, err := s.Push(r); err != nil {
			t.Fatal(err)
		}
	}

	aggs, _ := s.Aggregates(pumpPressure, 0)
	if len(aggs) != 3 {
		t.Fatalf("expected 3 retained aggregates, got %d", len(aggs))
	}
	if aggs[2].TimestampMs != base+8000 {
		t.Errorf("expected newest window at +8s, got %d", aggs[2].TimestampMs-base)
	}

	st := s.Stats()
	if st.Series != 1 || st.RawReadings != 5 || st.RawPushed != 10 || st.RawEvicted != 5 {
		t.Errorf("unexpected raw stats %+v", st)
	}
	if st.Aggregates != 3 || st.AggregatesEvicted != 6 || st.PendingReadings != 1 {
		t.Errorf("unexpected aggregate stats %+v", st)
	}
}

func TestStore_Range(t *testing.T) {
	s := newTestStore(t, 100, 10)
	base := testutil.BaseTimestampMs
	s.PushBatch(testutil.Sequence(pumpPressure, 10, base, 100*time.Millisecond))

	got, err := s.Range(pumpPressure, base+200, base+500)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Value != 2 || got[2].Value != 4 {
		t.Errorf("unexpected range %v", got)
	}
}

func TestStore_PushBatchSkipsInvalid(t *testing.T) {
	s := newTestStore(t, 10, 10)
	base := testutil.BaseTimestampMs

	batch := []telemetry.Reading{
		testutil.Reading("pump-1", "pressure", 1, base),
		testutil.Reading("", "pressure", 2, base+100),
		testutil.Reading("pump-1", "pressure", 3, base+1100),
	}
	completed, err := s.PushBatch(batch)
	if !errors.Is(err, errors.ErrInvalidReading) {
		t.Errorf("expected ErrInvalidReading, got %v", err)
	}
	if len(completed) != 1 || completed[0].Count != 1 {
		t.Errorf("unexpected completed %+v", completed)
	}
}

func TestStore_RemoveAndKeys(t *testing.T) {
	s := newTestStore(t, 3, 3)
	base := testutil.BaseTimestampMs

	s.Push(testutil.Reading("b", "temp", 1, base))
	s.Push(testutil.Reading("a", "temp", 1, base))
	s.Push(testutil.Reading("a", "pressure", 1, base))

	keys := s.Keys()
	want := []telemetry.Key{
		telemetry.NewKey("a", "pressure"),
		telemetry.NewKey("a", "temp"),
		telemetry.NewKey("b", "temp"),
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("[%d] expected %v, got %v", i, want[i], keys[i])
		}
	}

	if !s.Remove(telemetry.NewKey("a", "temp")) {
		t.Error("expected Remove to report existing key")
	}
	if s.Remove(telemetry.NewKey("a", "temp")) {
		t.Error("second Remove should report missing key")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 series, got %d", s.Len())
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := newTestStore(t, 50, 50)
	keys := testutil.Keys(8, "temp")
	const perKey = 500

	g := testutil.NewGroup(t)
	for _, key := range keys {
		g.Go(func() error {
			for _, r := range testutil.Sequence(key, perKey, testutil.BaseTimestampMs, 100*time.Millisecond) {
				if _, err := s.Push(r); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}
			return nil
		})
		// concurrent readers
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				if got, err := s.Last(key, 10); err == nil && len(got) > 10 {
					return fmt.Errorf("%s: Last returned %d items", key, len(got))
				}
				s.Stats()
			}
			return nil
		})
	}
	g.Wait()

	st := s.Stats()
	if st.Series != len(keys) {
		t.Errorf("expected %d series, got %d", len(keys), st.Series)
	}
	if st.RawPushed != int64(len(keys)*perKey) {
		t.Errorf("expected %d pushes, got %d", len(keys)*perKey, st.RawPushed)
	}
	for _, key := range keys {
		all, _ := s.All(key)
		if len(all) != 50 || all[49].Value != perKey-1 {
			t.Errorf("%s: unexpected history tail", key)
		}
	}
}
