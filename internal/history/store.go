// Package history keeps bounded per-series telemetry history.
//
// A Store maps each (equipment, sensor) key to a Series holding two ring
// buffers: raw readings and closed window aggregates. Memory per series is
// fixed by the configured capacities, so a long-running session stays
// bounded no matter how many readings arrive.
//
// Ring buffers are single-writer; every Series carries its own mutex so
// unrelated series never contend.
package history

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fleetops/fleetring/internal/aggregate"
	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/ring"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Options configures a Store.
type Options struct {
	// RawCapacity is the number of raw readings kept per series.
	RawCapacity int

	// AggregateCapacity is the number of closed windows kept per series.
	AggregateCapacity int

	// Window is the aggregation window size. Zero means aggregate.DefaultWindow.
	Window time.Duration

	// Aggregation configures optional percentiles.
	Aggregation aggregate.Options
}

// DefaultOptions returns one hour of 1Hz raw history and twelve hours of
// per-second aggregates.
func DefaultOptions() Options {
	return Options{
		RawCapacity:       3600,
		AggregateCapacity: 43200,
		Window:            aggregate.DefaultWindow,
	}
}

// Series is the history of one key.
type Series struct {
	mu     sync.Mutex
	key    telemetry.Key
	raw    *ring.Buffer[telemetry.Reading]
	aggs   *ring.Buffer[telemetry.Aggregate]
	window *aggregate.Window
}

// Store is a concurrency-safe registry of series.
type Store struct {
	opts Options

	mu     sync.RWMutex
	series map[telemetry.Key]*Series
}

// NewStore creates an empty Store.
func NewStore(opts Options) (*Store, error) {
	if opts.Window == 0 {
		opts.Window = aggregate.DefaultWindow
	}
	if opts.RawCapacity <= 0 {
		return nil, fmt.Errorf("raw capacity %d: %w", opts.RawCapacity, errors.ErrInvalidCapacity)
	}
	if opts.AggregateCapacity <= 0 {
		return nil, fmt.Errorf("aggregate capacity %d: %w", opts.AggregateCapacity, errors.ErrInvalidCapacity)
	}
	// Fail early on a bad window instead of on the first Push.
	if _, err := aggregate.NewWindow(opts.Window, opts.Aggregation); err != nil {
		return nil, err
	}

	return &Store{
		opts:   opts,
		series: make(map[telemetry.Key]*Series),
	}, nil
}

// Options returns the store configuration.
func (s *Store) Options() Options {
	return s.opts
}

// get returns the series for key, or nil.
func (s *Store) get(key telemetry.Key) *Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[key]
}

// getOrCreate returns the series for key, creating it on first use.
func (s *Store) getOrCreate(key telemetry.Key) *Series {
	if ser := s.get(key); ser != nil {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if ser, ok := s.series[key]; ok {
		return ser
	}

	window, _ := aggregate.NewWindow(s.opts.Window, s.opts.Aggregation)
	ser := &Series{
		key:    key,
		raw:    ring.MustNew[telemetry.Reading](s.opts.RawCapacity),
		aggs:   ring.MustNew[telemetry.Aggregate](s.opts.AggregateCapacity),
		window: window,
	}
	s.series[key] = ser

	logging.Component("history").Debug("series created", "key", key.String())
	return ser
}

// Push validates r and appends it to its series. If r closes the open
// window, the completed aggregate is stored and returned.
func (s *Store) Push(r telemetry.Reading) (*telemetry.Aggregate, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	ser := s.getOrCreate(r.Key())

	ser.mu.Lock()
	defer ser.mu.Unlock()

	ser.raw.Push(r)
	agg, ok := ser.window.Add(r)
	if !ok {
		return nil, nil
	}
	ser.aggs.Push(agg)
	return &agg, nil
}

// PushBatch pushes readings in order and returns every completed aggregate.
// Invalid readings are skipped; the first validation error is returned
// after the whole batch is processed.
func (s *Store) PushBatch(readings []telemetry.Reading) ([]telemetry.Aggregate, error) {
	var (
		completed []telemetry.Aggregate
		firstErr  error
	)
	for _, r := range readings {
		agg, err := s.Push(r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if agg != nil {
			completed = append(completed, *agg)
		}
	}
	return completed, firstErr
}

// Last returns up to n newest raw readings of key, oldest first.
func (s *Store) Last(key telemetry.Key, n int) ([]telemetry.Reading, error) {
	ser := s.get(key)
	if ser == nil {
		return nil, fmt.Errorf("series %s: %w", key, errors.ErrNotFound)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.raw.Last(n), nil
}

// All returns every retained raw reading of key, oldest first.
func (s *Store) All(key telemetry.Key) ([]telemetry.Reading, error) {
	ser := s.get(key)
	if ser == nil {
		return nil, fmt.Errorf("series %s: %w", key, errors.ErrNotFound)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.raw.All(), nil
}

// Range returns raw readings of key with startMs <= ts < endMs.
func (s *Store) Range(key telemetry.Key, startMs, endMs int64) ([]telemetry.Reading, error) {
	ser := s.get(key)
	if ser == nil {
		return nil, fmt.Errorf("series %s: %w", key, errors.ErrNotFound)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	return ser.raw.Query(func(r telemetry.Reading) bool {
		return r.TimestampMs >= startMs && r.TimestampMs < endMs
	}, 0), nil
}

// Aggregates returns up to n newest closed aggregates of key, oldest first.
// n <= 0 returns all of them.
func (s *Store) Aggregates(key telemetry.Key, n int) ([]telemetry.Aggregate, error) {
	ser := s.get(key)
	if ser == nil {
		return nil, fmt.Errorf("series %s: %w", key, errors.ErrNotFound)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	if n <= 0 {
		return ser.aggs.All(), nil
	}
	return ser.aggs.Last(n), nil
}

// Latest returns the newest raw reading of key.
func (s *Store) Latest(key telemetry.Key) (telemetry.Reading, error) {
	ser := s.get(key)
	if ser == nil {
		return telemetry.Reading{}, fmt.Errorf("series %s: %w", key, errors.ErrNotFound)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	r, ok := ser.raw.Newest()
	if !ok {
		return telemetry.Reading{}, fmt.Errorf("series %s is empty: %w", key, errors.ErrNotFound)
	}
	return r, nil
}

// Flush closes every open window, stores the results and returns them.
func (s *Store) Flush() []telemetry.Aggregate {
	return s.flush(func(*aggregate.Window) bool { return true })
}

// FlushBefore closes open windows that end at or before cutoffMs.
// Windows of idle series would otherwise stay open until their next reading.
func (s *Store) FlushBefore(cutoffMs int64) []telemetry.Aggregate {
	sizeMs := s.opts.Window.Milliseconds()
	return s.flush(func(w *aggregate.Window) bool {
		start, ok := w.OpenWindowStart()
		return ok && start+sizeMs <= cutoffMs
	})
}

func (s *Store) flush(match func(*aggregate.Window) bool) []telemetry.Aggregate {
	var out []telemetry.Aggregate
	for _, ser := range s.snapshot() {
		ser.mu.Lock()
		if match(ser.window) {
			if agg, ok := ser.window.Flush(); ok {
				ser.aggs.Push(agg)
				out = append(out, agg)
			}
		}
		ser.mu.Unlock()
	}
	return out
}

// Remove drops the series of key. Returns false if it did not exist.
func (s *Store) Remove(key telemetry.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[key]; !ok {
		return false
	}
	delete(s.series, key)
	return true
}

// Keys returns all keys, sorted by their string form.
func (s *Store) Keys() []telemetry.Key {
	s.mu.RLock()
	keys := make([]telemetry.Key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.SortFunc(keys, func(a, b telemetry.Key) int {
		return cmp.Or(
			cmp.Compare(a.EquipmentID, b.EquipmentID),
			cmp.Compare(a.SensorType, b.SensorType),
		)
	})
	return keys
}

// Len returns the number of series.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

func (s *Store) snapshot() []*Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Series, 0, len(s.series))
	for _, ser := range s.series {
		out = append(out, ser)
	}
	return out
}

// Stats returns store-wide statistics.
func (s *Store) Stats() Stats {
	var st Stats
	for _, ser := range s.snapshot() {
		ser.mu.Lock()
		raw := ser.raw.Stats()
		aggs := ser.aggs.Stats()
		win := ser.window.Stats()
		ser.mu.Unlock()

		st.Series++
		st.RawReadings += int64(raw.Count)
		st.RawPushed += raw.Pushed
		st.RawEvicted += raw.Evicted
		st.Aggregates += int64(aggs.Count)
		st.AggregatesEvicted += aggs.Evicted
		st.LateReadings += win.Late
		st.PendingReadings += win.Pending
	}
	return st
}

// Stats holds store statistics.
type Stats struct {
	Series            int
	RawReadings       int64 // currently retained
	RawPushed         int64 // lifetime
	RawEvicted        int64
	Aggregates        int64
	AggregatesEvicted int64
	LateReadings      int64
	PendingReadings   int64
}
