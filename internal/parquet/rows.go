package parquet

import (
	"github.com/fleetops/fleetring/internal/telemetry"
)

// ReadingRow is a raw reading in Parquet format.
type ReadingRow struct {
	EquipmentID string  `parquet:"equipment_id,dict,zstd"`
	SensorType  string  `parquet:"sensor_type,dict,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
	Unit        string  `parquet:"unit,dict,zstd"`
}

// AggregateRow is a window aggregate in Parquet format.
type AggregateRow struct {
	EquipmentID string   `parquet:"equipment_id,dict,zstd"`
	SensorType  string   `parquet:"sensor_type,dict,zstd"`
	TimestampMs int64    `parquet:"timestamp_ms"`
	Count       int64    `parquet:"count"`
	Sum         float64  `parquet:"sum"`
	Min         float64  `parquet:"min"`
	Max         float64  `parquet:"max"`
	Avg         float64  `parquet:"avg"`
	P50         *float64 `parquet:"p50,optional"`
	P90         *float64 `parquet:"p90,optional"`
	P95         *float64 `parquet:"p95,optional"`
	P99         *float64 `parquet:"p99,optional"`
	FirstTs     int64    `parquet:"first_ts"`
	LastTs      int64    `parquet:"last_ts"`
}

// ReadingToRow converts a Reading to a ReadingRow.
func ReadingToRow(r *telemetry.Reading) ReadingRow {
	return ReadingRow{
		EquipmentID: r.EquipmentID,
		SensorType:  r.SensorType,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
		Unit:        r.Unit,
	}
}

// RowToReading converts a ReadingRow to a Reading.
func RowToReading(r *ReadingRow) telemetry.Reading {
	return telemetry.Reading{
		EquipmentID: r.EquipmentID,
		SensorType:  r.SensorType,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
		Unit:        r.Unit,
	}
}

// AggregateToRow converts an Aggregate to an AggregateRow.
func AggregateToRow(a *telemetry.Aggregate) AggregateRow {
	return AggregateRow{
		EquipmentID: a.EquipmentID,
		SensorType:  a.SensorType,
		TimestampMs: a.TimestampMs,
		Count:       a.Count,
		Sum:         a.Sum,
		Min:         a.Min,
		Max:         a.Max,
		Avg:         a.Avg,
		P50:         copyFloat(a.P50),
		P90:         copyFloat(a.P90),
		P95:         copyFloat(a.P95),
		P99:         copyFloat(a.P99),
		FirstTs:     a.FirstTs,
		LastTs:      a.LastTs,
	}
}

// RowToAggregate converts an AggregateRow to an Aggregate.
func RowToAggregate(r *AggregateRow) telemetry.Aggregate {
	return telemetry.Aggregate{
		EquipmentID: r.EquipmentID,
		SensorType:  r.SensorType,
		TimestampMs: r.TimestampMs,
		Count:       r.Count,
		Sum:         r.Sum,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Avg,
		P50:         copyFloat(r.P50),
		P90:         copyFloat(r.P90),
		P95:         copyFloat(r.P95),
		P99:         copyFloat(r.P99),
		FirstTs:     r.FirstTs,
		LastTs:      r.LastTs,
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
