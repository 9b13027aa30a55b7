package sense

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/sensoria/internal/observe"
	"github.com/MrWong99/sensoria/pkg/protocol"
)

// Emitter is the handler's outbound channel to the core. It stamps every
// signal with the sense name, counts it, and funnels everything through the
// runner's single mutex-guarded writer so handlers may emit from any
// goroutine.
type Emitter struct {
	writer  *protocol.Writer
	sense   string
	metrics *observe.Metrics

	onFailure func(error)
	failed    atomic.Bool
}

// NewEmitter builds an emitter over the given writer. onFailure, when
// non-nil, runs exactly once on the first write failure; the lifecycle runner
// uses it to shut the process down. It may be nil in tests.
func NewEmitter(w *protocol.Writer, senseName string, onFailure func(error)) *Emitter {
	return &Emitter{
		writer:    w,
		sense:     senseName,
		metrics:   observe.DefaultMetrics(),
		onFailure: onFailure,
	}
}

// Signal emits one signal to the core. The first write failure is reported to
// the runner, which shuts the process down; later calls are silently dropped.
func (e *Emitter) Signal(content string, priority int, metadata map[string]any) {
	if e.failed.Load() {
		return
	}
	sig := protocol.NewSignal(e.sense, content, priority, metadata)
	if err := e.writer.WriteSignal(sig); err != nil {
		if e.failed.CompareAndSwap(false, true) && e.onFailure != nil {
			e.onFailure(err)
		}
		return
	}
	e.metrics.SignalsEmitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("sense", e.sense)))
	slog.Debug("signal emitted", "sense", e.sense, "priority", priority)
}

// Busy reports a transient busy status to the core, for long-running work
// like a scene description in flight.
func (e *Emitter) Busy(message string) {
	if e.failed.Load() {
		return
	}
	if err := e.writer.WriteStatus(protocol.NewStatus(e.sense, protocol.StatusBusy, message)); err != nil {
		if e.failed.CompareAndSwap(false, true) && e.onFailure != nil {
			e.onFailure(err)
		}
	}
}

// Sense returns the sense name this emitter stamps on the wire.
func (e *Emitter) Sense() string {
	return e.sense
}
