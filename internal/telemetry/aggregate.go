package telemetry

import "time"

// Aggregate summarizes one window of readings sharing a Key.
type Aggregate struct {
	EquipmentID string `json:"equipmentId"`
	SensorType  string `json:"sensorType"`

	// TimestampMs is the window start in Unix milliseconds.
	TimestampMs int64 `json:"timestamp"`

	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`

	// Timestamps of the first and last folded readings.
	FirstTs int64 `json:"firstTs,omitempty"`
	LastTs  int64 `json:"lastTs,omitempty"`

	// Percentiles (nil unless enabled)
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P95 *float64 `json:"p95,omitempty"`
	P99 *float64 `json:"p99,omitempty"`
}

// Key returns the stream key of the aggregate.
func (a *Aggregate) Key() Key {
	return Key{EquipmentID: a.EquipmentID, SensorType: a.SensorType}
}

// Time returns the window start as a time.Time.
func (a *Aggregate) Time() time.Time {
	return time.UnixMilli(a.TimestampMs)
}

// HasPercentiles returns true if percentile data is available.
func (a *Aggregate) HasPercentiles() bool {
	return a.P50 != nil
}

// SetPercentiles sets all percentile values.
func (a *Aggregate) SetPercentiles(p50, p90, p95, p99 float64) {
	a.P50 = &p50
	a.P90 = &p90
	a.P95 = &p95
	a.P99 = &p99
}
