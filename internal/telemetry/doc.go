// Package telemetry defines the value types flowing through fleetring.
//
// Key types:
//   - Reading: one timestamped sensor sample
//   - Aggregate: min/max/avg/count summary of one window
//   - Key: the (equipment, sensor) pair identifying a stream
package telemetry
