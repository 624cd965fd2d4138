package telemetry

import (
	"math"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
)

// MinPlausibleTimestampMs is the smallest timestamp accepted as milliseconds.
// Anything below it (1973-03-03 in ms) is almost certainly a seconds value.
const MinPlausibleTimestampMs int64 = 100_000_000_000

// Reading is one sensor sample.
type Reading struct {
	EquipmentID string  `json:"equipmentId"`
	SensorType  string  `json:"sensorType"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	TimestampMs int64   `json:"timestamp"` // Unix milliseconds
}

// Key returns the stream key of the reading.
func (r *Reading) Key() Key {
	return Key{EquipmentID: r.EquipmentID, SensorType: r.SensorType}
}

// Time returns the timestamp as a time.Time.
func (r *Reading) Time() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Validate checks the reading invariants. All violations are reported
// together; the returned error matches errors.ErrInvalidReading.
func (r *Reading) Validate() error {
	var v errors.ValidationErrors

	if r.EquipmentID == "" {
		v.Add(errors.ErrInvalidReading, "equipmentId", nil, "must not be empty")
	}
	if r.SensorType == "" {
		v.Add(errors.ErrInvalidReading, "sensorType", nil, "must not be empty")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		v.Add(errors.ErrInvalidReading, "value", r.Value, "must be finite")
	}
	switch {
	case r.TimestampMs <= 0:
		v.Add(errors.ErrInvalidReading, "timestamp", r.TimestampMs, "must be positive")
	case r.TimestampMs < MinPlausibleTimestampMs:
		v.Add(errors.ErrInvalidReading, "timestamp", r.TimestampMs, "looks like seconds, expected milliseconds")
	}

	return v.Err()
}

// FloorToSecond truncates a millisecond timestamp to the start of its second.
func FloorToSecond(ms int64) int64 {
	return FloorTo(ms, 1000)
}

// FloorTo truncates a millisecond timestamp to a multiple of windowMs.
// Negative timestamps floor towards negative infinity.
func FloorTo(ms, windowMs int64) int64 {
	if windowMs <= 0 {
		return ms
	}
	q := ms / windowMs
	if ms%windowMs != 0 && ms < 0 {
		q--
	}
	return q * windowMs
}
