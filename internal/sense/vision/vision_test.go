package vision_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/internal/sense/screen"
	"github.com/MrWong99/sensoria/internal/sense/vision"
	"github.com/MrWong99/sensoria/pkg/protocol"
	"github.com/MrWong99/sensoria/pkg/provider/vlm"
	vlmmock "github.com/MrWong99/sensoria/pkg/provider/vlm/mock"
)

// fakeSource is an in-memory frame source fed directly by the tests.
type fakeSource struct {
	ch chan image.Image
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan image.Image, 64)}
}

func (s *fakeSource) Frames(_ context.Context) (<-chan image.Image, error) {
	return s.ch, nil
}

func uniformFrame(value uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

type emittedSignal struct {
	Type     string         `json:"type"`
	Sense    string         `json:"sense"`
	Content  string         `json:"content"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata"`
}

func (b *safeBuffer) signals(t *testing.T) []emittedSignal {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()

	var sigs []emittedSignal
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var sig emittedSignal
		if err := json.Unmarshal(sc.Bytes(), &sig); err != nil {
			t.Fatalf("malformed line %q: %v", sc.Text(), err)
		}
		if sig.Type == "signal" {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startSense(t *testing.T, v *vision.Vision) *safeBuffer {
	t.Helper()
	out := &safeBuffer{}
	emitter := sense.NewEmitter(protocol.NewWriter(out), v.Name(), nil)
	if err := v.Init(context.Background(), emitter); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	if err := v.HandleCommand(context.Background(), protocol.Command{Command: protocol.CommandStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	return out
}

func TestFirstFrameDescribed(t *testing.T) {
	source := newFakeSource()
	describer := &vlmmock.Describer{
		Description: vlm.Description{Text: "a desk with a laptop", LatencyMS: 42},
	}
	v := vision.New(config.VisionConfig{}, source, describer)
	out := startSense(t, v)

	source.ch <- uniformFrame(100)

	waitFor(t, func() bool { return len(out.signals(t)) > 0 }, "no signal emitted")
	sig := out.signals(t)[0]
	if sig.Sense != "vision" {
		t.Errorf("sense = %q, want vision", sig.Sense)
	}
	if sig.Content != "a desk with a laptop" {
		t.Errorf("content = %q, want description", sig.Content)
	}
	if sig.Priority != protocol.PriorityVisual {
		t.Errorf("priority = %d, want %d", sig.Priority, protocol.PriorityVisual)
	}
	if score, _ := sig.Metadata["diff_score"].(float64); score != 1.0 {
		t.Errorf("metadata diff_score = %v, want 1.0", sig.Metadata["diff_score"])
	}
	if lat, _ := sig.Metadata["latency_ms"].(float64); lat != 42 {
		t.Errorf("metadata latency_ms = %v, want 42", sig.Metadata["latency_ms"])
	}
}

func TestStaticSceneSuppressed(t *testing.T) {
	source := newFakeSource()
	describer := &vlmmock.Describer{Description: vlm.Description{Text: "still life"}}
	v := vision.New(config.VisionConfig{}, source, describer)
	startSense(t, v)

	for i := 0; i < 20; i++ {
		source.ch <- uniformFrame(100)
	}

	waitFor(t, func() bool { return len(source.ch) == 0 }, "frames not drained")
	waitFor(t, func() bool { return len(describer.Calls()) >= 1 }, "first frame never described")
	time.Sleep(50 * time.Millisecond)
	if n := len(describer.Calls()); n != 1 {
		t.Errorf("describer called %d times for a static scene, want 1", n)
	}
}

func TestSlowDescriberDoesNotBlockCapture(t *testing.T) {
	source := newFakeSource()
	describer := &vlmmock.Describer{
		Description: vlm.Description{Text: "finally done"},
		Block:       make(chan struct{}),
	}
	v := vision.New(config.VisionConfig{}, source, describer)
	out := startSense(t, v)

	// First frame starts a describe that stays blocked; the alternating
	// frames that follow must still flow through the gate.
	source.ch <- uniformFrame(0)
	waitFor(t, func() bool { return len(describer.Calls()) == 1 }, "first describe never started")
	for i := 0; i < 10; i++ {
		source.ch <- uniformFrame(uint8(255 * (i % 2)))
	}
	waitFor(t, func() bool { return len(source.ch) == 0 }, "capture loop stalled behind the describer")
	if n := len(describer.Calls()); n != 1 {
		t.Errorf("describer called %d times while one was in flight, want 1", n)
	}

	close(describer.Block)
	waitFor(t, func() bool { return len(out.signals(t)) == 1 }, "completed description never emitted")
}

func TestDescriberErrorIsNotFatal(t *testing.T) {
	source := newFakeSource()
	describer := &vlmmock.Describer{Err: context.DeadlineExceeded}
	v := vision.New(config.VisionConfig{}, source, describer)
	out := startSense(t, v)

	for i := 0; i < 6; i++ {
		source.ch <- uniformFrame(uint8(255 * (i % 2)))
	}

	waitFor(t, func() bool { return len(source.ch) == 0 }, "capture loop died on describer error")
	time.Sleep(50 * time.Millisecond)
	if sigs := out.signals(t); len(sigs) != 0 {
		t.Errorf("emitted %d signals despite describer errors, want 0", len(sigs))
	}
}

func TestSidebandStreamsAnalyzedFrames(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "frames.sock")
	source := newFakeSource()
	describer := &vlmmock.Describer{Description: vlm.Description{Text: "scene"}}
	v := vision.New(config.VisionConfig{SidebandSocket: sock}, source, describer)
	startSense(t, v)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial sideband: %v", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case source.ch <- uniformFrame(uint8(255 * (i % 2))):
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		t.Fatalf("read sideband frame: %v", err)
	}
	if len(payload) < 4 || payload[0] != 0xFF || payload[1] != 0xD8 {
		t.Errorf("sideband payload is not a JPEG (len %d)", len(payload))
	}
}

func TestScreenRoleUsesScreenPriority(t *testing.T) {
	source := newFakeSource()
	describer := &vlmmock.Describer{Description: vlm.Description{Text: "an editor full of code"}}
	v := screen.New(config.VisionConfig{}, source, describer)
	out := startSense(t, v)

	source.ch <- uniformFrame(100)

	waitFor(t, func() bool { return len(out.signals(t)) > 0 }, "no signal emitted")
	sig := out.signals(t)[0]
	if sig.Sense != "screen" {
		t.Errorf("sense = %q, want screen", sig.Sense)
	}
	if sig.Priority != protocol.PriorityScreen {
		t.Errorf("priority = %d, want %d", sig.Priority, protocol.PriorityScreen)
	}
}
