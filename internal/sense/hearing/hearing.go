// Package hearing implements the microphone sense: captured audio chunks run
// through VAD segmentation and transcription, and clean utterances leave as
// voice signals. Interrupt keywords leave as higher-urgency interrupt
// signals. While muted for echo suppression, captured audio is dropped
// outright; barge-in rides on the brief listening windows the voice output
// opens during playback.
package hearing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/observe"
	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/pkg/audio/listen"
	"github.com/MrWong99/sensoria/pkg/audio/vad"
	"github.com/MrWong99/sensoria/pkg/protocol"
	"github.com/MrWong99/sensoria/pkg/provider/score"
	"github.com/MrWong99/sensoria/pkg/provider/stt"
)

// Source delivers microphone audio as a stream of fixed-size PCM chunks.
// Implementations wrap a capture driver; tests use an in-memory source.
type Source interface {
	// Chunks starts capture and returns the chunk stream. The channel must be
	// closed when ctx is cancelled or the device fails.
	Chunks(ctx context.Context) (<-chan []float32, error)
}

// Hearing is the microphone sense behind the process lifecycle runner.
type Hearing struct {
	cfg         config.HearingConfig
	source      Source
	scorer      score.Scorer
	transcriber stt.Transcriber
	metrics     *observe.Metrics

	coord   *listen.Coordinator
	emitter *sense.Emitter

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ sense.Handler = (*Hearing)(nil)

// New builds the hearing sense. The capture source, scorer and transcriber
// are injected; wiring into the coordinator happens in Init.
func New(cfg config.HearingConfig, source Source, scorer score.Scorer, transcriber stt.Transcriber) *Hearing {
	return &Hearing{
		cfg:         cfg,
		source:      source,
		scorer:      scorer,
		transcriber: transcriber,
		metrics:     observe.DefaultMetrics(),
	}
}

// Name implements [sense.Handler].
func (h *Hearing) Name() string { return string(config.RoleHearing) }

// Init implements [sense.Handler]: it wires the transcription coordinator to
// the emitter. Capture does not start until a start command arrives.
func (h *Hearing) Init(_ context.Context, emitter *sense.Emitter) error {
	h.emitter = emitter
	transcriber := &timedTranscriber{inner: h.transcriber, metrics: h.metrics}
	h.coord = listen.NewCoordinator(
		listen.Config{
			VAD: vad.Config{
				SampleRate:   h.cfg.SampleRate,
				ChunkMS:      h.cfg.ChunkMS,
				Threshold:    h.cfg.VAD.Threshold,
				MinSpeechMS:  h.cfg.VAD.MinSpeechMS,
				MinSilenceMS: h.cfg.VAD.MinSilenceMS,
				SpeechPadMS:  h.cfg.VAD.SpeechPadMS,
			},
			InterruptKeywords:    h.cfg.InterruptKeywords,
			HallucinationPhrases: h.cfg.HallucinationPhrases,
		},
		h.scorer,
		transcriber,
		listen.WithOnTranscription(h.onTranscription),
		listen.WithOnInterrupt(h.onInterrupt),
		listen.WithOnHallucination(func(string) {
			h.metrics.HallucinationsFiltered.Add(context.Background(), 1)
		}),
	)
	return nil
}

// HandleCommand implements [sense.Handler].
func (h *Hearing) HandleCommand(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CommandStart:
		return h.start(ctx)
	case protocol.CommandStop:
		return h.stop()
	case protocol.CommandConfigure:
		return h.configure(cmd)
	default:
		return fmt.Errorf("hearing: unsupported command %q", cmd.Command)
	}
}

// start launches the capture feed loop. Starting while already running is a
// no-op.
func (h *Hearing) start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	chunks, err := h.source.Chunks(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("hearing: start capture: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return h.feedLoop(gctx, chunks)
	})
	h.cancel = cancel
	h.group = g
	slog.Info("hearing started")
	return nil
}

// stop halts capture and waits for the feed loop to drain. Stopping while
// not running is a no-op.
func (h *Hearing) stop() error {
	h.mu.Lock()
	cancel, g := h.cancel, h.group
	h.cancel, h.group = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("hearing: stop: %w", err)
	}
	slog.Info("hearing stopped")
	return nil
}

// configure applies runtime options. Supported keys: mute (bool),
// vad_threshold (float). Unknown keys are rejected.
func (h *Hearing) configure(cmd protocol.Command) error {
	var errs []error
	for key := range cmd.Options {
		switch key {
		case "mute":
			muted, ok := cmd.BoolOption("mute")
			if !ok {
				errs = append(errs, errors.New("hearing: option mute must be a boolean"))
				continue
			}
			if muted {
				h.coord.Mute()
			} else {
				h.coord.Unmute()
			}
			slog.Debug("hearing mute changed", "muted", muted)
		case "vad_threshold":
			threshold, ok := cmd.FloatOption("vad_threshold")
			if !ok {
				errs = append(errs, errors.New("hearing: option vad_threshold must be a number"))
				continue
			}
			h.coord.SetVADThreshold(threshold)
			slog.Debug("hearing vad threshold changed", "threshold", threshold)
		default:
			errs = append(errs, fmt.Errorf("hearing: unknown configure option %q", key))
		}
	}
	return errors.Join(errs...)
}

// Close implements [sense.Handler].
func (h *Hearing) Close() error {
	return h.stop()
}

// feedLoop drains the capture stream into the coordinator until the stream
// closes or ctx is cancelled.
func (h *Hearing) feedLoop(ctx context.Context, chunks <-chan []float32) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if _, err := h.coord.FeedChunk(ctx, chunk); err != nil {
				if errors.Is(err, vad.ErrShortChunk) {
					slog.Debug("hearing: dropped short chunk", "samples", len(chunk))
					continue
				}
				// Scorer failure means no decision for this chunk, never a
				// dead pipeline.
				slog.Warn("hearing: chunk processing failed", "error", err)
			}
		}
	}
}

func (h *Hearing) onTranscription(tr listen.Transcription) {
	h.metrics.SegmentsDetected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("sense", h.Name())))
	h.emitter.Signal(tr.Text, protocol.PriorityVoice, map[string]any{
		"duration_ms": tr.DurationMS,
		"language":    tr.Language,
		"confidence":  tr.Confidence,
	})
}

// timedTranscriber wraps the backend with latency and error metrics.
type timedTranscriber struct {
	inner   stt.Transcriber
	metrics *observe.Metrics
}

var _ stt.Transcriber = (*timedTranscriber)(nil)

func (t *timedTranscriber) Transcribe(ctx context.Context, audio []float32, sampleRate int) (stt.Result, error) {
	start := time.Now()
	res, err := t.inner.Transcribe(ctx, audio, sampleRate)
	t.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		t.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "stt")))
	}
	return res, err
}

func (h *Hearing) onInterrupt(keyword, text string) {
	h.metrics.InterruptsDetected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("keyword", keyword)))
	h.emitter.Signal(text, protocol.PriorityInterrupt, map[string]any{
		"is_interrupt": true,
		"keyword":      keyword,
	})
}
