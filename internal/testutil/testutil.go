// Package testutil provides reading generators and goroutine-safe test
// helpers shared by the fleetring test suites.
//
// t.Fatal and t.FailNow must not be called from goroutines other than the
// test goroutine; use Group to collect errors instead.
package testutil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/fleetops/fleetring/internal/telemetry"
)

// BaseTimestampMs is a fixed, plausible millisecond timestamp
// (2024-01-01T00:00:00Z) used as the origin for generated readings.
const BaseTimestampMs int64 = 1_704_067_200_000

// =============================================================================
// Reading generators
// =============================================================================

// Reading builds a single reading for equipment/sensor.
func Reading(equipmentID, sensorType string, value float64, tsMs int64) telemetry.Reading {
	return telemetry.Reading{
		EquipmentID: equipmentID,
		SensorType:  sensorType,
		Value:       value,
		Unit:        "unit",
		TimestampMs: tsMs,
	}
}

// Sequence generates n readings for key, starting at startMs and spaced by
// step. Values are start, start+1, start+2, ...
func Sequence(key telemetry.Key, n int, startMs int64, step time.Duration) []telemetry.Reading {
	out := make([]telemetry.Reading, n)
	for i := range out {
		out[i] = Reading(key.EquipmentID, key.SensorType, float64(i), startMs+int64(i)*step.Milliseconds())
	}
	return out
}

// Random generates n readings for key with values uniformly drawn from
// [lo, hi), spaced by step. The seed makes the sequence reproducible.
func Random(key telemetry.Key, n int, startMs int64, step time.Duration, lo, hi float64, seed uint64) []telemetry.Reading {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]telemetry.Reading, n)
	for i := range out {
		v := lo + rng.Float64()*(hi-lo)
		out[i] = Reading(key.EquipmentID, key.SensorType, v, startMs+int64(i)*step.Milliseconds())
	}
	return out
}

// Keys generates n distinct keys "eq-<i>/<sensor>".
func Keys(n int, sensor string) []telemetry.Key {
	out := make([]telemetry.Key, n)
	for i := range out {
		out[i] = telemetry.NewKey(fmt.Sprintf("eq-%d", i), sensor)
	}
	return out
}

// =============================================================================
// Error channel pattern
// =============================================================================

// Group runs goroutines and reports their errors on the test goroutine.
//
//	g := testutil.NewGroup(t)
//	for i := 0; i < 10; i++ {
//	    g.Go(func() error { return doSomething(i) })
//	}
//	g.Wait()
type Group struct {
	t      testing.TB
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGroup creates a Group.
func NewGroup(t testing.TB) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine. A non-nil error is reported by Wait.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			select {
			case g.errors <- err:
			default:
				// Buffer full, the test fails anyway
			}
		}
	}()
}

// GoWithContext runs fn with the group context. The context is cancelled
// by Cancel or Wait.
func (g *Group) GoWithContext(fn func(ctx context.Context) error) {
	g.Go(func() error { return fn(g.ctx) })
}

// Cancel cancels the group context.
func (g *Group) Cancel() {
	g.cancel()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (g *Group) Wait() {
	g.wg.Wait()
	g.cancel()
	close(g.errors)

	var failed bool
	for err := range g.errors {
		g.t.Errorf("goroutine error: %v", err)
		failed = true
	}
	if failed {
		g.t.FailNow()
	}
}

// =============================================================================
// Timing helpers
// =============================================================================

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// WithTimeout runs fn and fails if it does not finish within timeout.
func WithTimeout(t testing.TB, timeout time.Duration, fn func() error) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(timeout):
		t.Fatalf("timeout after %v", timeout)
	}
}
