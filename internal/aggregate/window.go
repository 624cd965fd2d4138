package aggregate

import (
	"fmt"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// DefaultWindow is the aggregation window used by the history store.
const DefaultWindow = time.Second

// Window collects readings of one key into fixed-size time windows.
// A window closes when a reading arrives whose window start is later than
// the open one; readings for an earlier window are folded into the open
// window. A closed window is never reopened: once flushed, readings at or
// before it open the following window instead. Window is not safe for
// concurrent use.
type Window struct {
	sizeMs int64
	opts   Options
	cur    *Stream

	// start of the last emitted window, valid when hasClosed
	closed    int64
	hasClosed bool

	// Statistics
	completed int64
	late      int64
}

// NewWindow creates a collector with the given window size.
func NewWindow(size time.Duration, opts Options) (*Window, error) {
	if size < time.Millisecond {
		return nil, fmt.Errorf("window size %s below 1ms: %w", size, errors.ErrInvalidInput)
	}
	return &Window{
		sizeMs: size.Milliseconds(),
		opts:   opts,
	}, nil
}

// Add folds r into the open window. If r starts a new window, the previous
// one is returned with ok set.
func (w *Window) Add(r telemetry.Reading) (result telemetry.Aggregate, ok bool) {
	start := telemetry.FloorTo(r.TimestampMs, w.sizeMs)

	switch {
	case w.cur == nil:
		if w.hasClosed && start <= w.closed {
			w.late++
			start = w.closed + w.sizeMs
		}
		w.cur = NewStream(r.Key(), start, w.opts)
	case start > w.cur.WindowStart():
		if !w.cur.IsEmpty() {
			result, ok = w.cur.Result(), true
			w.markClosed()
		}
		w.cur.Reset(start)
	case start < w.cur.WindowStart():
		w.late++
	}

	w.cur.Add(r)
	return result, ok
}

// Flush closes the open window and returns it, if it holds any readings.
func (w *Window) Flush() (telemetry.Aggregate, bool) {
	if w.cur == nil || w.cur.IsEmpty() {
		return telemetry.Aggregate{}, false
	}
	result := w.cur.Result()
	w.markClosed()
	w.cur = nil
	return result, true
}

func (w *Window) markClosed() {
	w.closed = w.cur.WindowStart()
	w.hasClosed = true
	w.completed++
}

// Pending returns the number of readings in the open window.
func (w *Window) Pending() int64 {
	if w.cur == nil {
		return 0
	}
	return w.cur.Count()
}

// OpenWindowStart returns the start of the open window.
// Returns false if no window is open.
func (w *Window) OpenWindowStart() (int64, bool) {
	if w.cur == nil {
		return 0, false
	}
	return w.cur.WindowStart(), true
}

// Size returns the window size.
func (w *Window) Size() time.Duration {
	return time.Duration(w.sizeMs) * time.Millisecond
}

// Stats returns collector statistics.
func (w *Window) Stats() WindowStats {
	return WindowStats{
		Completed: w.completed,
		Late:      w.late,
		Pending:   w.Pending(),
	}
}

// WindowStats holds collector statistics.
type WindowStats struct {
	Completed int64 // windows emitted
	Late      int64 // readings folded into a later window than their own
	Pending   int64
}
