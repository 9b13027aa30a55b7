// Package protocol defines the stable wire contract between the core
// orchestrator and its sense/output processes.
//
// All control-plane communication happens as JSON lines over the process's
// standard streams: one JSON object per line, UTF-8, newline-terminated.
// Embedded newlines in text fields are escaped by the JSON encoding and never
// emitted raw, so a line is always exactly one message. Every outbound message
// carries a "type" discriminator ("signal" or "status"); inbound commands are
// recognised by the presence of a "command" key, with an optional
// "type":"command".
//
// There is no shared memory between a sense and the core — writing a message
// is the only way state crosses the process boundary. A higher-bandwidth
// binary sideband (length-prefixed frames over a local socket) is available
// for bulk payloads; see [FramedConn] and [Publisher].
package protocol

import (
	"time"
)

// Version is the protocol version. The wire format is append-only: new fields
// may be added, existing fields keep their meaning.
const Version = "1.0"

// Default signal priorities, increasing with urgency. These are defaults only;
// any Signal may override Priority explicitly. Priorities are compared only
// within a single core decision cycle and never persisted across runs.
const (
	PrioritySystem    = 10  // system events
	PriorityVisual    = 30  // camera observations
	PriorityScreen    = 50  // screen content
	PriorityInterrupt = 90  // user wants the assistant to stop talking
	PriorityVoice     = 100 // user spoke — always answered
)

// Signal is an observation sent sense → core. It is immutable once
// constructed and discarded after the core consumes it; senses keep no copy.
type Signal struct {
	Type string `json:"type"` // always "signal"

	// Sense identifies the emitting sense ("hearing", "vision", "screen").
	Sense string `json:"sense"`

	// Content is a human-readable description of what was perceived.
	Content string `json:"content"`

	// Priority orders signals within one core decision cycle. Higher is more
	// urgent.
	Priority int `json:"priority"`

	// Metadata carries sense-specific key/value detail (duration_ms,
	// diff_score, is_interrupt, …).
	Metadata map[string]any `json:"metadata"`

	// Timestamp is the capture time in Unix seconds.
	Timestamp float64 `json:"timestamp"`
}

// NewSignal constructs a Signal stamped with the current time. A nil metadata
// map is replaced with an empty one so the wire form is always an object.
func NewSignal(sense, content string, priority int, metadata map[string]any) Signal {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Signal{
		Type:      "signal",
		Sense:     sense,
		Content:   content,
		Priority:  priority,
		Metadata:  metadata,
		Timestamp: unixSeconds(time.Now()),
	}
}

// Status values a sense/output may report.
type Status string

const (
	// StatusReady is emitted exactly once after successful initialization and
	// before any Signal.
	StatusReady Status = "ready"

	// StatusError is emitted at most once before the process's abnormal exit.
	StatusError Status = "error"

	// StatusStopped must be the last message emitted before the process exits.
	StatusStopped Status = "stopped"

	// StatusBusy marks a sense that is temporarily unable to process commands.
	StatusBusy Status = "busy"
)

// StatusMessage is a lifecycle update sent sense/output → core.
type StatusMessage struct {
	Type      string  `json:"type"` // always "status"
	Sense     string  `json:"sense"`
	Status    Status  `json:"status"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// NewStatus constructs a StatusMessage stamped with the current time.
func NewStatus(sense string, status Status, message string) StatusMessage {
	return StatusMessage{
		Type:      "status",
		Sense:     sense,
		Status:    status,
		Message:   message,
		Timestamp: unixSeconds(time.Now()),
	}
}

// CommandName enumerates the instructions the core may send.
type CommandName string

const (
	CommandStart     CommandName = "start"
	CommandStop      CommandName = "stop"
	CommandConfigure CommandName = "configure"
	CommandSpeak     CommandName = "speak"
	CommandInterrupt CommandName = "interrupt"
)

// Command is an instruction sent core → sense/output. Commands are processed
// strictly in arrival order, one at a time, by a single consuming loop per
// process: a sense must not begin command N+1 before the synchronous side
// effects of command N (start/stop toggling the running state) have completed.
type Command struct {
	Command CommandName    `json:"command"`
	Options map[string]any `json:"options"`
}

// StringOption returns the named option as a string, or "" when absent or of
// a different type.
func (c Command) StringOption(key string) string {
	s, _ := c.Options[key].(string)
	return s
}

// BoolOption returns the named option as a bool. ok reports whether the key
// was present with a boolean value.
func (c Command) BoolOption(key string) (v, ok bool) {
	v, ok = c.Options[key].(bool)
	return v, ok
}

// FloatOption returns the named option as a float64. JSON numbers always
// decode to float64, so this covers both integral and fractional options.
func (c Command) FloatOption(key string) (v float64, ok bool) {
	v, ok = c.Options[key].(float64)
	return v, ok
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
