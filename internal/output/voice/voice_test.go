package voice_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/output/voice"
	"github.com/MrWong99/sensoria/internal/sense"
	playbackmock "github.com/MrWong99/sensoria/pkg/audio/playback/mock"
	"github.com/MrWong99/sensoria/pkg/protocol"
	ttsmock "github.com/MrWong99/sensoria/pkg/provider/tts/mock"
)

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

// audioStates extracts the audio-state contents in emission order.
func (b *safeBuffer) audioStates(t *testing.T) []string {
	t.Helper()
	var states []string
	for _, sig := range b.signals(t) {
		if event, _ := sig.Metadata["event"].(string); event == "audio_state" {
			states = append(states, sig.Content)
		}
	}
	return states
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

func newVoice(t *testing.T, synth *ttsmock.Synthesizer, player *playbackmock.Player) (*voice.Voice, *safeBuffer) {
	t.Helper()
	out := &safeBuffer{}
	v := voice.New(config.VoiceConfig{}, synth, player)
	emitter := sense.NewEmitter(protocol.NewWriter(out), "voice", nil)
	if err := v.Init(context.Background(), emitter); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v, out
}

func speak(t *testing.T, v *voice.Voice, text string, blocking bool) {
	t.Helper()
	err := v.HandleCommand(context.Background(), protocol.Command{
		Command: protocol.CommandSpeak,
		Options: map[string]any{"text": text, "blocking": blocking},
	})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
}

func TestBlockingSpeakCyclesAudioState(t *testing.T) {
	synth := &ttsmock.Synthesizer{}
	player := &playbackmock.Player{}
	v, out := newVoice(t, synth, player)

	speak(t, v, "hello there", true)

	if n := player.PlayCallCount(); n != 1 {
		t.Fatalf("player called %d times, want 1", n)
	}
	waitFor(t, func() bool {
		states := out.audioStates(t)
		return len(states) >= 2 && states[len(states)-1] == "listening"
	}, "audio state never returned to listening")
	if states := out.audioStates(t); states[0] != "speaking" {
		t.Errorf("first audio state = %q, want speaking", states[0])
	}
}

func TestEmptyTextReleasesMicImmediately(t *testing.T) {
	synth := &ttsmock.Synthesizer{}
	player := &playbackmock.Player{}
	v, out := newVoice(t, synth, player)

	speak(t, v, "   ", true)

	if n := len(synth.Calls()); n != 0 {
		t.Errorf("synthesizer called %d times for blank text, want 0", n)
	}
	waitFor(t, func() bool {
		states := out.audioStates(t)
		return len(states) == 2 && states[1] == "listening"
	}, "mic not released after blank speak")
	if v.IsSpeaking() {
		t.Error("IsSpeaking() = true after blank speak")
	}
}

func TestInterruptStopsPlaybackAndReleasesMic(t *testing.T) {
	synth := &ttsmock.Synthesizer{}
	player := &playbackmock.Player{Block: make(chan struct{})}
	v, out := newVoice(t, synth, player)

	speak(t, v, "a very long story", false)
	waitFor(t, func() bool { return player.PlayCallCount() == 1 }, "playback never started")

	if err := v.HandleCommand(context.Background(), protocol.Command{Command: protocol.CommandInterrupt}); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	waitFor(t, func() bool { return !v.IsSpeaking() }, "still speaking after interrupt")
	waitFor(t, func() bool {
		states := out.audioStates(t)
		return len(states) > 0 && states[len(states)-1] == "listening"
	}, "mic not released after interrupt")
}

func TestQueueDrainReturnsToListening(t *testing.T) {
	synth := &ttsmock.Synthesizer{}
	player := &playbackmock.Player{}
	v, out := newVoice(t, synth, player)

	speak(t, v, "first", false)
	speak(t, v, "second", false)

	waitFor(t, func() bool { return player.PlayCallCount() == 2 }, "queued clips never played")
	waitFor(t, func() bool {
		states := out.audioStates(t)
		return len(states) > 0 && states[len(states)-1] == "listening"
	}, "mic not released after the queue drained")
}

func TestSynthesizerFailureReleasesMic(t *testing.T) {
	synth := &ttsmock.Synthesizer{Err: context.DeadlineExceeded}
	player := &playbackmock.Player{}
	v, out := newVoice(t, synth, player)

	err := v.HandleCommand(context.Background(), protocol.Command{
		Command: protocol.CommandSpeak,
		Options: map[string]any{"text": "doomed", "blocking": true},
	})
	if err == nil {
		t.Fatal("speak returned nil despite synthesizer failure")
	}
	if n := player.PlayCallCount(); n != 0 {
		t.Errorf("player called %d times after synth failure, want 0", n)
	}
	waitFor(t, func() bool {
		states := out.audioStates(t)
		return len(states) == 2 && states[1] == "listening"
	}, "mic not released after synth failure")
}

func TestUnknownConfigureOptionRejected(t *testing.T) {
	v, _ := newVoice(t, &ttsmock.Synthesizer{}, &playbackmock.Player{})

	if err := v.HandleCommand(context.Background(), protocol.Command{Command: protocol.CommandConfigure}); err != nil {
		t.Fatalf("empty configure rejected: %v", err)
	}
	err := v.HandleCommand(context.Background(), protocol.Command{
		Command: protocol.CommandConfigure,
		Options: map[string]any{"volume": 0.5},
	})
	if err == nil {
		t.Fatal("unknown configure option accepted, want error")
	}
}
