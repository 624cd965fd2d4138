// Package aggregate reduces batches of readings into summary records.
//
// Aggregate is the pure per-second reduction: min, max, arithmetic mean and
// count of a non-empty batch, anchored to the second containing the first
// reading. Window wraps the same statistics in a streaming collector that
// cuts a new aggregate whenever readings cross into the next window.
package aggregate

import (
	"fmt"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Aggregate reduces a non-empty batch of readings into one summary.
//
// The key is taken from the first reading; readings are assumed to share it
// and are not checked (see AggregateStrict). The timestamp is the first
// reading's timestamp floored to the second.
func Aggregate(readings []telemetry.Reading) (telemetry.Aggregate, error) {
	return Summarize(readings, Options{})
}

// AggregateStrict is Aggregate but rejects batches whose readings do not
// all share the first reading's key.
func AggregateStrict(readings []telemetry.Reading) (telemetry.Aggregate, error) {
	if len(readings) > 0 {
		key := readings[0].Key()
		for i := 1; i < len(readings); i++ {
			if k := readings[i].Key(); k != key {
				return telemetry.Aggregate{}, fmt.Errorf("reading %d has key %s, batch key %s: %w",
					i, k, key, errors.ErrMixedKeys)
			}
		}
	}
	return Aggregate(readings)
}

// Summarize is Aggregate with optional percentile statistics.
func Summarize(readings []telemetry.Reading, opts Options) (telemetry.Aggregate, error) {
	if len(readings) == 0 {
		return telemetry.Aggregate{}, fmt.Errorf("aggregate empty batch: %w", errors.ErrInvalidInput)
	}

	first := &readings[0]
	s := NewStream(first.Key(), telemetry.FloorToSecond(first.TimestampMs), opts)
	for i := range readings {
		s.Add(readings[i])
	}

	return s.Result(), nil
}
