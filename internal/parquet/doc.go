// Package parquet reads and writes telemetry as Parquet files.
//
// The package provides:
//   - AggregateWriter/AggregateReader for closed window aggregates
//   - ReadingWriter/ReadingReader for raw readings
//   - Codec selection (snappy, zstd, lz4, gzip, none)
//   - Timestamped file names shared with the retention manager
package parquet
