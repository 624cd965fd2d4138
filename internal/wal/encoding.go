package wal

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Record payloads are protobuf wire format, hand-encoded:
//
//	message Batch   { repeated Reading readings = 1; }
//	message Reading {
//	  string equipment_id = 1;
//	  string sensor_type  = 2;
//	  double value        = 3;
//	  string unit         = 4;
//	  int64  timestamp_ms = 5;
//	}
//
// Unknown fields are skipped, so fields can be added without a version bump.
const (
	fieldBatchReading = 1

	fieldEquipmentID = 1
	fieldSensorType  = 2
	fieldValue       = 3
	fieldUnit        = 4
	fieldTimestampMs = 5
)

// encodeReadings encodes a batch of readings.
func encodeReadings(readings []telemetry.Reading) []byte {
	if len(readings) == 0 {
		return nil
	}

	// ~64 bytes per reading
	buf := make([]byte, 0, len(readings)*64)
	var msg []byte
	for i := range readings {
		msg = appendReading(msg[:0], &readings[i])
		buf = protowire.AppendTag(buf, fieldBatchReading, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg)
	}
	return buf
}

func appendReading(b []byte, r *telemetry.Reading) []byte {
	if r.EquipmentID != "" {
		b = protowire.AppendTag(b, fieldEquipmentID, protowire.BytesType)
		b = protowire.AppendString(b, r.EquipmentID)
	}
	if r.SensorType != "" {
		b = protowire.AppendTag(b, fieldSensorType, protowire.BytesType)
		b = protowire.AppendString(b, r.SensorType)
	}
	b = protowire.AppendTag(b, fieldValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.Value))
	if r.Unit != "" {
		b = protowire.AppendTag(b, fieldUnit, protowire.BytesType)
		b = protowire.AppendString(b, r.Unit)
	}
	b = protowire.AppendTag(b, fieldTimestampMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TimestampMs))
	return b
}

// decodeReadings decodes a batch produced by encodeReadings.
func decodeReadings(data []byte) ([]telemetry.Reading, error) {
	var out []telemetry.Reading

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldBatchReading || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		data = data[n:]

		r, err := decodeReading(msg)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", len(out), err)
		}
		out = append(out, r)
	}

	return out, nil
}

func decodeReading(b []byte) (telemetry.Reading, error) {
	var r telemetry.Reading

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, wireError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldEquipmentID && typ == protowire.BytesType:
			r.EquipmentID, n = protowire.ConsumeString(b)
		case num == fieldSensorType && typ == protowire.BytesType:
			r.SensorType, n = protowire.ConsumeString(b)
		case num == fieldUnit && typ == protowire.BytesType:
			r.Unit, n = protowire.ConsumeString(b)
		case num == fieldValue && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			r.Value = math.Float64frombits(v)
		case num == fieldTimestampMs && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.TimestampMs = int64(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, wireError(protowire.ParseError(n))
		}
		b = b[n:]
	}

	return r, nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %w", errors.ErrCorruptRecord, err)
}
