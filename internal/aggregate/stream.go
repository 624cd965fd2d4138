package aggregate

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// DefaultAccuracy is the DDSketch relative accuracy used when none is set.
const DefaultAccuracy = 0.01

// Options configures optional aggregate statistics.
type Options struct {
	// Percentiles enables P50/P90/P95/P99 via DDSketch.
	Percentiles bool

	// Accuracy is the sketch relative accuracy (0.01 = 1%).
	Accuracy float64
}

func (o Options) accuracy() float64 {
	if o.Accuracy <= 0 || o.Accuracy >= 1 {
		return DefaultAccuracy
	}
	return o.Accuracy
}

// Stream keeps running statistics for one key and one window.
// It is not safe for concurrent use.
type Stream struct {
	key         telemetry.Key
	windowStart int64

	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	opts   Options
	sketch *ddsketch.DDSketch
}

// NewStream creates an empty Stream for the window starting at windowStart.
func NewStream(key telemetry.Key, windowStart int64, opts Options) *Stream {
	s := &Stream{
		key:         key,
		windowStart: windowStart,
		min:         math.Inf(1),
		max:         math.Inf(-1),
		opts:        opts,
	}
	s.sketch = s.newSketch()
	return s
}

func (s *Stream) newSketch() *ddsketch.DDSketch {
	if !s.opts.Percentiles {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(s.opts.accuracy())
	if err != nil {
		return nil
	}
	return sketch
}

// Add folds a reading into the running statistics.
func (s *Stream) Add(r telemetry.Reading) {
	s.count++
	s.sum += r.Value

	if r.Value < s.min {
		s.min = r.Value
	}
	if r.Value > s.max {
		s.max = r.Value
	}

	if s.count == 1 || r.TimestampMs < s.firstTs {
		s.firstTs = r.TimestampMs
	}
	if r.TimestampMs > s.lastTs {
		s.lastTs = r.TimestampMs
	}

	if s.sketch != nil {
		_ = s.sketch.Add(r.Value)
	}
}

// Count returns the number of readings folded in.
func (s *Stream) Count() int64 {
	return s.count
}

// IsEmpty returns true if no readings have been added.
func (s *Stream) IsEmpty() bool {
	return s.count == 0
}

// WindowStart returns the window start in Unix milliseconds.
func (s *Stream) WindowStart() int64 {
	return s.windowStart
}

// Key returns the stream key.
func (s *Stream) Key() telemetry.Key {
	return s.key
}

// Result returns the aggregate for the readings added so far.
// Min, Max and Avg are zero when the stream is empty.
func (s *Stream) Result() telemetry.Aggregate {
	result := telemetry.Aggregate{
		EquipmentID: s.key.EquipmentID,
		SensorType:  s.key.SensorType,
		TimestampMs: s.windowStart,
		Count:       s.count,
		Sum:         s.sum,
		FirstTs:     s.firstTs,
		LastTs:      s.lastTs,
	}

	if s.count == 0 {
		return result
	}

	result.Min = s.min
	result.Max = s.max
	result.Avg = mean(s.sum, s.count, s.min, s.max)

	if s.sketch != nil {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p95, _ := s.sketch.GetValueAtQuantile(0.95)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Reset empties the stream and moves it to a new window.
func (s *Stream) Reset(windowStart int64) {
	s.windowStart = windowStart
	s.count = 0
	s.sum = 0
	s.min = math.Inf(1)
	s.max = math.Inf(-1)
	s.firstTs = 0
	s.lastTs = 0
	// DDSketch has no Clear in the version we pin.
	s.sketch = s.newSketch()
}

// Merge combines other into s. Both should cover the same key and window.
func (s *Stream) Merge(other *Stream) {
	if other == nil || other.count == 0 {
		return
	}

	if s.count == 0 || other.firstTs < s.firstTs {
		s.firstTs = other.firstTs
	}
	if other.lastTs > s.lastTs {
		s.lastTs = other.lastTs
	}

	s.count += other.count
	s.sum += other.sum

	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}

	if s.sketch != nil && other.sketch != nil {
		_ = s.sketch.MergeWith(other.sketch)
	}
}

// mean divides sum by count and keeps the result inside [lo, hi], which
// rounding can otherwise leave by one ulp for equal-valued batches.
func mean(sum float64, count int64, lo, hi float64) float64 {
	avg := sum / float64(count)
	if avg < lo {
		return lo
	}
	if avg > hi {
		return hi
	}
	return avg
}
