// Package voice implements the speech output process: speak commands are
// synthesized and rendered through the interruptible playback controller,
// while the echo coordinator broadcasts audio-state changes so the core can
// mute the hearing sense during playback.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/observe"
	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/pkg/audio/echo"
	"github.com/MrWong99/sensoria/pkg/audio/playback"
	"github.com/MrWong99/sensoria/pkg/protocol"
	"github.com/MrWong99/sensoria/pkg/provider/tts"
)

// Voice is the speech output behind the process lifecycle runner.
type Voice struct {
	cfg     config.VoiceConfig
	synth   tts.Synthesizer
	player  playback.Player
	metrics *observe.Metrics

	ctrl    *playback.Controller
	echo    *echo.Coordinator
	emitter *sense.Emitter

	// queued counts clips waiting in the non-blocking queue, mirrored into
	// the queue-depth gauge.
	queued atomic.Int64
}

var _ sense.Handler = (*Voice)(nil)

// New builds the voice output. The synthesizer and player are injected; the
// playback controller and echo coordinator are wired in Init.
func New(cfg config.VoiceConfig, synth tts.Synthesizer, player playback.Player) *Voice {
	return &Voice{
		cfg:     cfg,
		synth:   synth,
		player:  player,
		metrics: observe.DefaultMetrics(),
	}
}

// Name implements [sense.Handler].
func (v *Voice) Name() string { return string(config.RoleVoice) }

// Init implements [sense.Handler]: it starts the playback loop and connects
// it to the echo coordinator, so the speaking state tracks actual audio.
func (v *Voice) Init(_ context.Context, emitter *sense.Emitter) error {
	v.emitter = emitter

	var echoOpts []echo.Option
	if v.cfg.CheckIntervalMS > 0 {
		echoOpts = append(echoOpts, echo.WithCheckInterval(time.Duration(v.cfg.CheckIntervalMS)*time.Millisecond))
	}
	if v.cfg.CheckDurationMS > 0 {
		echoOpts = append(echoOpts, echo.WithCheckDuration(time.Duration(v.cfg.CheckDurationMS)*time.Millisecond))
	}
	v.echo = echo.NewCoordinator(v.onAudioState, echoOpts...)

	ctrlOpts := []playback.Option{
		playback.WithOnPlaybackStart(v.onPlaybackStart),
		playback.WithOnPlaybackStop(v.onPlaybackStop),
	}
	if v.cfg.QueueSize > 0 {
		ctrlOpts = append(ctrlOpts, playback.WithQueueSize(v.cfg.QueueSize))
	}
	synth := &timedSynthesizer{inner: v.synth, metrics: v.metrics}
	v.ctrl = playback.NewController(synth, v.player, ctrlOpts...)
	return nil
}

// HandleCommand implements [sense.Handler].
func (v *Voice) HandleCommand(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CommandSpeak:
		return v.speak(ctx, cmd)
	case protocol.CommandInterrupt:
		v.interrupt()
		return nil
	case protocol.CommandStart:
		return nil
	case protocol.CommandStop:
		v.interrupt()
		return nil
	case protocol.CommandConfigure:
		for key := range cmd.Options {
			return fmt.Errorf("voice: unknown configure option %q", key)
		}
		return nil
	default:
		return fmt.Errorf("voice: unsupported command %q", cmd.Command)
	}
}

// Close implements [sense.Handler].
func (v *Voice) Close() error {
	v.ctrl.Close()
	v.echo.StopSpeaking()
	return nil
}

// IsSpeaking reports whether audio is playing or queued.
func (v *Voice) IsSpeaking() bool {
	return v.ctrl.IsSpeaking()
}

// speak renders one utterance. The echo coordinator enters the speaking
// state before any audio starts, so the hearing mute never lags playback.
func (v *Voice) speak(ctx context.Context, cmd protocol.Command) error {
	text := cmd.StringOption("text")
	blocking, _ := cmd.BoolOption("blocking")

	ctx, span := observe.StartSpan(ctx, "voice.speak",
		trace.WithAttributes(attribute.Bool("blocking", blocking)))
	defer span.End()

	v.echo.StartSpeaking()
	if blocking {
		// The command loop is occupied until the audio finishes.
		v.emitter.Busy("rendering speech")
	}

	handle, err := v.ctrl.Speak(ctx, text, blocking)
	if err != nil {
		span.RecordError(err)
		v.echo.StopSpeaking()
		return fmt.Errorf("voice: speak: %w", err)
	}
	if handle == uuid.Nil {
		// Nothing to play, so no playback-stop hook will fire.
		v.echo.StopSpeaking()
		return nil
	}
	if !blocking {
		v.queued.Add(1)
		v.metrics.PlaybackQueueDepth.Add(ctx, 1)
	}
	slog.Debug("utterance accepted", "handle", handle, "blocking", blocking, "chars", len(text))
	return nil
}

// interrupt stops playback immediately and returns the mic to the listener.
func (v *Voice) interrupt() {
	v.ctrl.Interrupt()
	v.drainQueueGauge()
	v.echo.StopSpeaking()
	slog.Info("playback interrupted")
}

func (v *Voice) onPlaybackStart() {
	// Blocking clips never pass through the queue, so only decrement for
	// clips this process previously counted in.
	if n := v.queued.Load(); n > 0 && v.queued.CompareAndSwap(n, n-1) {
		v.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
	}
}

// onPlaybackStop fires when playback ends and the queue is empty: playback is
// over, hand the mic back.
func (v *Voice) onPlaybackStop() {
	v.echo.StopSpeaking()
}

func (v *Voice) drainQueueGauge() {
	if n := v.queued.Swap(0); n > 0 {
		v.metrics.PlaybackQueueDepth.Add(context.Background(), -n)
	}
}

// timedSynthesizer wraps the backend with latency and error metrics. The
// duration covers the full chunk stream, so incremental backends are measured
// to their last chunk, on every path through the playback controller.
type timedSynthesizer struct {
	inner   tts.Synthesizer
	metrics *observe.Metrics
}

var _ tts.Synthesizer = (*timedSynthesizer)(nil)

func (t *timedSynthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.Chunk, error) {
	start := time.Now()
	inner, err := t.inner.Synthesize(ctx, text)
	if err != nil {
		t.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "tts")))
		return nil, err
	}
	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		for chunk := range inner {
			out <- chunk
		}
		t.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	}()
	return out, nil
}

// onAudioState broadcasts each audio-state change so the core can gate the
// hearing sense.
func (v *Voice) onAudioState(state echo.AudioState) {
	v.emitter.Signal(state.String(), protocol.PrioritySystem, map[string]any{
		"event": "audio_state",
	})
}
