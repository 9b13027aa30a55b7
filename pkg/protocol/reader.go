package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// maxLineBytes bounds a single command line. Commands are small control
// messages; anything larger is treated as malformed input.
const maxLineBytes = 1 << 20

// CommandReader consumes commands from an inbound stream, one JSON object per
// line. Malformed lines are logged and silently skipped — a bad line must
// never crash the read loop. End of stream ends the loop; callers treat it as
// an implicit stop command.
//
// CommandReader is not safe for concurrent use: the protocol mandates a
// single consuming loop per process.
type CommandReader struct {
	scanner *bufio.Scanner
	err     error
}

// NewCommandReader wraps r, typically os.Stdin.
func NewCommandReader(r io.Reader) *CommandReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &CommandReader{scanner: sc}
}

// Next blocks until the next valid command arrives. It returns ok=false when
// the stream has ended; Err reports a non-EOF termination cause, if any.
func (r *CommandReader) Next() (Command, bool) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		cmd, ok := parseCommand(line)
		if !ok {
			slog.Debug("protocol: skipping malformed command line", "line", truncate(line, 120))
			continue
		}
		return cmd, true
	}
	r.err = r.scanner.Err()
	return Command{}, false
}

// Err returns the error that terminated the stream, or nil on clean EOF.
func (r *CommandReader) Err() error {
	return r.err
}

// parseCommand decodes a single line into a Command. A line qualifies when it
// is a JSON object with a non-empty "command" key; the "type" field is
// optional.
func parseCommand(line string) (Command, bool) {
	var raw struct {
		Type    string         `json:"type"`
		Command CommandName    `json:"command"`
		Options map[string]any `json:"options"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Command{}, false
	}
	if raw.Command == "" {
		return Command{}, false
	}
	if raw.Type != "" && raw.Type != "command" {
		return Command{}, false
	}
	opts := raw.Options
	if opts == nil {
		opts = map[string]any{}
	}
	return Command{Command: raw.Command, Options: opts}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
