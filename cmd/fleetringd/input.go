package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// maxLineSize bounds a single JSON line.
const maxLineSize = 1 << 20

// lineSource decodes one reading per line and hands them to a sink in
// batches. A batch is delivered when full, when flushEvery elapses with a
// partial batch, and at end of input.
type lineSource struct {
	r          io.Reader
	batchSize  int
	flushEvery time.Duration

	stats sourceStats
}

type sourceStats struct {
	Lines           int64
	Malformed       int64
	Batches         int64
	RejectedBatches int64
}

func newLineSource(r io.Reader, batchSize int, flushEvery time.Duration) *lineSource {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	return &lineSource{r: r, batchSize: batchSize, flushEvery: flushEvery}
}

// Stats is only consistent after Run returns.
func (s *lineSource) Stats() sourceStats {
	return s.stats
}

// Run reads until EOF or ctx is done. Sink errors caused by invalid
// readings are logged and counted; any other sink error stops the run.
func (s *lineSource) Run(ctx context.Context, sink func([]telemetry.Reading) error) error {
	// Releases the scanner when the run ends before the input does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	log := logging.Component("input")
	batch := make([]telemetry.Reading, 0, s.batchSize)

	deliver := func() error {
		if len(batch) == 0 {
			return nil
		}
		s.stats.Batches++
		err := sink(batch)
		batch = make([]telemetry.Reading, 0, s.batchSize)
		if err != nil && errors.IsValidation(err) {
			s.stats.RejectedBatches++
			log.Warn("readings rejected", "error", err)
			return nil
		}
		return err
	}

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return deliver()

		case <-ticker.C:
			if err := deliver(); err != nil {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				if err := deliver(); err != nil {
					return err
				}
				return <-scanErr
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 || line[0] == '#' {
				continue
			}
			s.stats.Lines++

			var r telemetry.Reading
			if err := json.Unmarshal(line, &r); err != nil {
				s.stats.Malformed++
				log.Debug("malformed line", "line", s.stats.Lines, "error", err)
				continue
			}

			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				if err := deliver(); err != nil {
					return err
				}
			}
		}
	}
}
