package sense_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/pkg/protocol"
)

// fakeHandler records lifecycle calls and optionally emits a signal for each
// command it handles.
type fakeHandler struct {
	initErr      error
	emitOnHandle bool

	mu       sync.Mutex
	emitter  *sense.Emitter
	commands []protocol.CommandName
	closed   int
}

func (f *fakeHandler) Name() string { return "testsense" }

func (f *fakeHandler) Init(_ context.Context, emitter *sense.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitter = emitter
	return f.initErr
}

func (f *fakeHandler) HandleCommand(_ context.Context, cmd protocol.Command) error {
	f.mu.Lock()
	f.commands = append(f.commands, cmd.Command)
	emit := f.emitOnHandle
	emitter := f.emitter
	f.mu.Unlock()
	if emit {
		emitter.Signal("handled "+string(cmd.Command), protocol.PrioritySystem, nil)
	}
	return nil
}

func (f *fakeHandler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeHandler) handled() []protocol.CommandName {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.CommandName(nil), f.commands...)
}

// outputLine is the union of the fields the tests care about.
type outputLine struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Content string `json:"content"`
}

func parseOutput(t *testing.T, out *bytes.Buffer) []outputLine {
	t.Helper()
	var lines []outputLine
	sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for sc.Scan() {
		var l outputLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("malformed output line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	return lines
}

func TestRunnerLifecycleOrder(t *testing.T) {
	t.Parallel()
	in := strings.NewReader(
		`{"command": "configure", "options": {"mute": true}}` + "\n" +
			`{"command": "stop"}` + "\n")
	var out bytes.Buffer
	h := &fakeHandler{emitOnHandle: true}

	if err := sense.NewRunner(h, in, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := parseOutput(t, &out)
	if len(lines) < 4 {
		t.Fatalf("got %d output lines, want at least 4", len(lines))
	}
	if lines[0].Type != "status" || lines[0].Status != "ready" {
		t.Errorf("first line = %+v, want ready status", lines[0])
	}
	last := lines[len(lines)-1]
	if last.Type != "status" || last.Status != "stopped" {
		t.Errorf("last line = %+v, want stopped status", last)
	}
	for _, l := range lines[1 : len(lines)-1] {
		if l.Type != "signal" {
			t.Errorf("line between ready and stopped = %+v, want signal", l)
		}
	}

	want := []protocol.CommandName{protocol.CommandConfigure, protocol.CommandStop}
	got := h.handled()
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, got[i], want[i])
		}
	}
	if h.closed != 1 {
		t.Errorf("Close called %d times, want 1", h.closed)
	}
}

func TestRunnerEOFIsImplicitStop(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	h := &fakeHandler{}

	if err := sense.NewRunner(h, strings.NewReader(""), &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := parseOutput(t, &out)
	if len(lines) != 2 {
		t.Fatalf("got %d output lines, want 2: %+v", len(lines), lines)
	}
	if lines[0].Status != "ready" || lines[1].Status != "stopped" {
		t.Errorf("statuses = %q, %q; want ready, stopped", lines[0].Status, lines[1].Status)
	}
	if got := h.handled(); len(got) != 0 {
		t.Errorf("handled %v commands, want none", got)
	}
	if h.closed != 1 {
		t.Errorf("Close called %d times, want 1", h.closed)
	}
}

func TestRunnerInitFailure(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	h := &fakeHandler{initErr: errors.New("no capture device")}

	err := sense.NewRunner(h, strings.NewReader(""), &out).Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil, want init error")
	}

	lines := parseOutput(t, &out)
	if len(lines) != 2 {
		t.Fatalf("got %d output lines, want 2: %+v", len(lines), lines)
	}
	if lines[0].Status != "error" {
		t.Errorf("first status = %q, want error", lines[0].Status)
	}
	if lines[1].Status != "stopped" {
		t.Errorf("last status = %q, want stopped", lines[1].Status)
	}
	if h.closed != 0 {
		t.Errorf("Close called %d times after failed init, want 0", h.closed)
	}
}

func TestRunnerMalformedLinesSkipped(t *testing.T) {
	t.Parallel()
	in := strings.NewReader(
		"this is not json\n" +
			`{"command": "configure"}` + "\n" +
			`{"no_command_key": true}` + "\n")
	var out bytes.Buffer
	h := &fakeHandler{}

	if err := sense.NewRunner(h, in, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := h.handled()
	if len(got) != 1 || got[0] != protocol.CommandConfigure {
		t.Errorf("handled %v, want exactly one configure", got)
	}
}

func TestRunnerContextCancellation(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	h := &fakeHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sense.NewRunner(h, pr, &out).Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	lines := parseOutput(t, &out)
	last := lines[len(lines)-1]
	if last.Status != "stopped" {
		t.Errorf("last status = %q, want stopped", last.Status)
	}
}
