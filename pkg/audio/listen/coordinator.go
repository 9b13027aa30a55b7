// Package listen composes VAD segmentation, speech-to-text, hallucination
// filtering and interrupt-keyword detection into a mute-aware transcription
// pipeline.
//
// The Coordinator is the hearing sense's core: microphone chunks go in, clean
// transcriptions and interrupt notifications come out. While muted (the
// assistant is speaking), incoming audio is dropped so the assistant cannot
// transcribe or barge in on itself; interrupt keywords spoken into the
// listening windows the playback side opens still fire, so a user can always
// stop playback by voice.
package listen

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/sensoria/pkg/audio/vad"
	"github.com/MrWong99/sensoria/pkg/provider/score"
	"github.com/MrWong99/sensoria/pkg/provider/stt"
)

// Transcription is one clean, user-directed utterance.
type Transcription struct {
	// Text is the transcribed speech, trimmed.
	Text string

	// Language is the detected language tag, when the backend reports one.
	Language string

	// Confidence is the backend's confidence score (0.0–1.0), when reported.
	Confidence float64

	// DurationMS is the duration of the underlying speech segment.
	DurationMS float64
}

// TranscriptionFunc receives each accepted transcription.
type TranscriptionFunc func(Transcription)

// InterruptFunc receives each detected interrupt: the keyword that matched
// and the full transcribed text it appeared in.
type InterruptFunc func(keyword, text string)

// Config holds the coordinator's tunables. Zero-value fields fall back to
// package defaults.
type Config struct {
	// VAD configures the underlying segmenter.
	VAD vad.Config

	// HallucinationPhrases overrides [DefaultHallucinationPhrases] when
	// non-nil.
	HallucinationPhrases []string

	// InterruptKeywords overrides [DefaultInterruptKeywords] when non-nil.
	InterruptKeywords []string
}

// Option is a functional option for configuring a [Coordinator].
type Option func(*Coordinator)

// WithOnTranscription sets the callback for accepted transcriptions.
func WithOnTranscription(fn TranscriptionFunc) Option {
	return func(c *Coordinator) {
		c.onTranscription = fn
	}
}

// WithOnInterrupt sets the callback for detected interrupt keywords.
func WithOnInterrupt(fn InterruptFunc) Option {
	return func(c *Coordinator) {
		c.onInterrupt = fn
	}
}

// WithOnHallucination sets a callback for transcriptions rejected by the
// hallucination filter, mostly useful for counting them.
func WithOnHallucination(fn func(text string)) Option {
	return func(c *Coordinator) {
		c.onHallucination = fn
	}
}

// Coordinator routes microphone audio through VAD segmentation and
// transcription, applying mute gating and interrupt detection.
//
// Feed chunks from a single goroutine; Mute, Unmute and Muted may be called
// from any goroutine.
type Coordinator struct {
	seg         *vad.Segmenter
	transcriber stt.Transcriber
	filter      *HallucinationFilter
	detector    *InterruptDetector

	onTranscription TranscriptionFunc
	onInterrupt     InterruptFunc
	onHallucination func(string)

	mu    sync.Mutex
	muted bool
	ctx   context.Context
}

// NewCoordinator builds a coordinator. scorer drives the VAD segmenter;
// transcriber turns finished segments into text.
func NewCoordinator(cfg Config, scorer score.Scorer, transcriber stt.Transcriber, opts ...Option) *Coordinator {
	c := &Coordinator{
		transcriber: transcriber,
		filter:      NewHallucinationFilter(cfg.HallucinationPhrases),
		detector:    NewInterruptDetector(cfg.InterruptKeywords),
	}
	c.seg = vad.NewSegmenter(cfg.VAD, scorer, c.handleSegment)
	for _, o := range opts {
		o(c)
	}
	return c
}

// FeedChunk processes one microphone chunk. Chunks fed while muted are
// dropped before they reach the segmenter; together with the reset on mute
// this keeps the assistant's own playback out of transcription. A segment
// whose transcription is already in flight when the mute lands can still
// fire an interrupt callback.
func (c *Coordinator) FeedChunk(ctx context.Context, chunk []float32) (float64, error) {
	c.mu.Lock()
	if c.muted {
		c.mu.Unlock()
		return 0, nil
	}
	// The segment callback runs synchronously inside ProcessChunk, on this
	// goroutine; stash the context so it can reach the transcriber.
	c.ctx = ctx
	c.mu.Unlock()

	return c.seg.ProcessChunk(chunk)
}

// Mute suppresses regular transcriptions and drops incoming chunks. The
// segmenter is reset so a half-collected utterance does not straddle the
// mute boundary. Idempotent.
func (c *Coordinator) Mute() {
	c.setMuted(true)
}

// Unmute restores normal transcription. The segmenter is reset so audio
// heard while muted cannot leak into the first unmuted segment. Idempotent.
func (c *Coordinator) Unmute() {
	c.setMuted(false)
}

// Muted reports whether the coordinator is currently muted.
func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SetVADThreshold retunes the segmenter's speech threshold at runtime.
func (c *Coordinator) SetVADThreshold(threshold float64) {
	c.seg.SetThreshold(threshold)
}

func (c *Coordinator) setMuted(muted bool) {
	c.mu.Lock()
	changed := c.muted != muted
	c.muted = muted
	c.mu.Unlock()
	if changed {
		c.seg.Reset()
	}
}

// handleSegment transcribes one finished segment and routes the result.
// Interrupts fire even while muted; regular transcriptions only when the
// coordinator is unmuted and the text is neither a hallucination nor an
// interrupt.
func (c *Coordinator) handleSegment(seg vad.SpeechSegment) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := c.transcriber.Transcribe(ctx, seg.Audio, c.seg.Config().SampleRate)
	if err != nil {
		slog.Warn("listen: transcription failed", "error", err, "duration_ms", seg.DurationMS)
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}

	if keyword, found := c.detector.Detect(text); found {
		c.fireInterrupt(keyword, text)
		return
	}
	// Checked after transcription: a mute that landed while the backend was
	// running still suppresses the segment.
	if c.Muted() {
		slog.Debug("listen: dropped muted transcription", "text", text)
		return
	}
	if c.filter.IsHallucination(text) {
		slog.Debug("listen: filtered hallucination", "text", text)
		if c.onHallucination != nil {
			c.onHallucination(text)
		}
		return
	}
	c.fireTranscription(Transcription{
		Text:       text,
		Language:   res.Language,
		Confidence: res.Confidence,
		DurationMS: seg.DurationMS,
	})
}

func (c *Coordinator) fireTranscription(tr Transcription) {
	if c.onTranscription == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listen: transcription callback panicked", "panic", r)
		}
	}()
	c.onTranscription(tr)
}

func (c *Coordinator) fireInterrupt(keyword, text string) {
	if c.onInterrupt == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listen: interrupt callback panicked", "panic", r)
		}
	}()
	c.onInterrupt(keyword, text)
}
