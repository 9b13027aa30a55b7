// Package sense runs the shared lifecycle of every sense and output process.
//
// A process is a thin shell around one [Handler]: initialize, report ready,
// consume commands from stdin in strict arrival order until the stream ends,
// clean up, report stopped. The runner owns the protocol streams; handlers
// observe the world and emit through an [Emitter].
package sense

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/sensoria/pkg/protocol"
)

// Handler is one concrete sense or output behind the shared lifecycle.
type Handler interface {
	// Name identifies the sense on the wire ("hearing", "vision", ...).
	Name() string

	// Init acquires resources. It runs before ready is reported; a failure
	// means the process reports an error status and exits without ever
	// becoming ready.
	Init(ctx context.Context, emitter *Emitter) error

	// HandleCommand applies one command. Commands arrive strictly in order,
	// one at a time. An error is logged and the loop continues; command
	// failures are never fatal.
	HandleCommand(ctx context.Context, cmd protocol.Command) error

	// Close releases resources. It runs exactly once, after the command loop
	// ended.
	Close() error
}

// Runner drives a [Handler] through the sense lifecycle.
type Runner struct {
	handler Handler
	reader  *protocol.CommandReader
	writer  *protocol.Writer
}

// NewRunner builds a runner over the given streams, typically os.Stdin and
// os.Stdout.
func NewRunner(handler Handler, in io.Reader, out io.Writer) *Runner {
	return &Runner{
		handler: handler,
		reader:  protocol.NewCommandReader(in),
		writer:  protocol.NewWriter(out),
	}
}

// Run executes the lifecycle until the command stream ends or ctx is
// cancelled. The status order is fixed: ready (on successful init) first,
// stopped last, with an error status in between at most once.
func (r *Runner) Run(ctx context.Context) error {
	name := r.handler.Name()
	log := slog.With("sense", name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	emitter := NewEmitter(r.writer, name, func(err error) {
		// The outbound stream is gone; nothing more can reach the core.
		log.Error("outbound stream failed, shutting down", "error", err)
		cancel()
	})

	if err := r.handler.Init(ctx, emitter); err != nil {
		log.Error("init failed", "error", err)
		r.writeStatus(name, protocol.StatusError, err.Error())
		r.writeStatus(name, protocol.StatusStopped, "")
		return fmt.Errorf("sense: init %s: %w", name, err)
	}
	r.writeStatus(name, protocol.StatusReady, "")
	log.Info("ready")

	r.commandLoop(ctx, log)

	if err := r.handler.Close(); err != nil {
		log.Warn("cleanup failed", "error", err)
	}
	r.writeStatus(name, protocol.StatusStopped, "")
	log.Info("stopped")
	return nil
}

// commandLoop consumes commands until end of stream (an implicit stop) or
// context cancellation. Reading happens on a side goroutine so cancellation
// is honoured even while blocked on input.
func (r *Runner) commandLoop(ctx context.Context, log *slog.Logger) {
	cmds := make(chan protocol.Command)
	go func() {
		defer close(cmds)
		for {
			cmd, ok := r.reader.Next()
			if !ok {
				if err := r.reader.Err(); err != nil {
					log.Warn("command stream failed", "error", err)
				}
				return
			}
			select {
			case cmds <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				// End of stream is an implicit stop.
				return
			}
			if cmd.Command == protocol.CommandStop {
				if err := r.handler.HandleCommand(ctx, cmd); err != nil {
					log.Warn("stop command failed", "error", err)
				}
				return
			}
			if err := r.handler.HandleCommand(ctx, cmd); err != nil {
				log.Warn("command failed", "command", string(cmd.Command), "error", err)
			}
		}
	}
}

func (r *Runner) writeStatus(name string, status protocol.Status, msg string) {
	if err := r.writer.WriteStatus(protocol.NewStatus(name, status, msg)); err != nil {
		slog.Debug("status write failed", "status", string(status), "error", err)
	}
}
