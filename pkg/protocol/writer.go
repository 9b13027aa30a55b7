package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer serialises outbound messages as JSON lines. It is safe for
// concurrent use — senses emit signals from capture goroutines while the
// command loop emits status updates.
//
// A write failure is sticky: once the underlying stream errors, every later
// write returns [ErrClosed] without touching the stream again, so a broken
// pipe is reported exactly once by the caller and never retried in a loop
// that could spin.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	failed bool
}

// ErrClosed is returned by Writer methods after a prior write failed or
// Close was called.
var ErrClosed = fmt.Errorf("protocol: writer closed")

// NewWriter wraps w, typically os.Stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteSignal emits a signal line.
func (w *Writer) WriteSignal(s Signal) error {
	if s.Type == "" {
		s.Type = "signal"
	}
	return w.writeLine(s)
}

// WriteStatus emits a status line.
func (w *Writer) WriteStatus(s StatusMessage) error {
	if s.Type == "" {
		s.Type = "status"
	}
	return w.writeLine(s)
}

// Close marks the writer failed so further writes are rejected. It does not
// close the underlying stream (stdout is owned by the process).
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed = true
	return nil
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal message: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		return ErrClosed
	}
	if _, err := w.w.Write(data); err != nil {
		w.failed = true
		return fmt.Errorf("protocol: write message: %w", err)
	}
	return nil
}
