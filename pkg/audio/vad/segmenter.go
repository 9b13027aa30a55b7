// Package vad turns a stream of scored audio chunks into bounded speech
// segments.
//
// The Segmenter is a small state machine over the probabilities produced by a
// [score.Scorer]: consecutive high-probability chunks open a segment,
// sustained silence closes it, and segments shorter than a minimum speech
// duration are discarded as noise. A closed segment is delivered to a
// callback together with a pre-roll of audio from just before speech onset,
// so transcription never loses the first syllable.
//
// All methods are safe for concurrent use. The segment callback runs on the
// goroutine that fed the closing chunk, outside the segmenter's lock.
package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sensoria/pkg/provider/score"
)

// Default segmentation parameters. Tuned for conversational speech at 16 kHz.
const (
	DefaultSampleRate   = 16000
	DefaultChunkMS      = 32
	DefaultThreshold    = 0.5
	DefaultMinSpeechMS  = 250
	DefaultMinSilenceMS = 700
	DefaultSpeechPadMS  = 100
)

// ErrShortChunk is returned by ProcessChunk when the chunk holds fewer
// samples than one full chunk interval.
var ErrShortChunk = errors.New("vad: chunk shorter than configured chunk size")

// Config holds the segmentation parameters. The zero value of any field is
// replaced by the corresponding default.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// ChunkMS is the duration of one chunk in milliseconds. Chunks fed to
	// ProcessChunk must contain at least SampleRate*ChunkMS/1000 samples.
	ChunkMS int

	// Threshold is the speech probability at or above which a chunk counts
	// as speech.
	Threshold float64

	// MinSpeechMS is the minimum accumulated speech duration for a segment
	// to be emitted. Shorter bursts are discarded.
	MinSpeechMS int

	// MinSilenceMS is the silence duration that closes an open segment.
	MinSilenceMS int

	// SpeechPadMS is the amount of pre-onset audio included at the start of
	// each segment.
	SpeechPadMS int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkMS <= 0 {
		c.ChunkMS = DefaultChunkMS
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinSpeechMS <= 0 {
		c.MinSpeechMS = DefaultMinSpeechMS
	}
	if c.MinSilenceMS <= 0 {
		c.MinSilenceMS = DefaultMinSilenceMS
	}
	if c.SpeechPadMS <= 0 {
		c.SpeechPadMS = DefaultSpeechPadMS
	}
	return c
}

// ChunkSamples returns the number of samples in one chunk interval.
func (c Config) ChunkSamples() int {
	return c.SampleRate * c.ChunkMS / 1000
}

// SpeechSegment is one bounded utterance.
type SpeechSegment struct {
	// Audio is the mono float32 PCM of the utterance, including pre-roll and
	// the closing silence that confirmed its end.
	Audio []float32

	// StartTime is when speech onset was detected, adjusted for pre-roll.
	StartTime time.Time

	// EndTime is when the closing silence was confirmed.
	EndTime time.Time

	// DurationMS is the duration of Audio in milliseconds.
	DurationMS float64
}

// SegmentFunc receives each closed segment. It runs outside the segmenter's
// lock; a panic in the callback is recovered and logged.
type SegmentFunc func(SpeechSegment)

// Segmenter accumulates scored chunks into speech segments.
type Segmenter struct {
	cfg       Config
	scorer    score.Scorer
	onSegment SegmentFunc

	mu             sync.Mutex
	epoch          uint64
	inSpeech       bool
	preroll        []float32
	buf            []float32
	speechSamples  int
	silenceSamples int
	speechStart    time.Time
}

// NewSegmenter returns a segmenter that scores chunks with scorer and
// delivers closed segments to onSegment. onSegment may be nil, in which case
// segments are silently dropped (useful when only Threshold tuning is being
// exercised).
func NewSegmenter(cfg Config, scorer score.Scorer, onSegment SegmentFunc) *Segmenter {
	return &Segmenter{
		cfg:       cfg.withDefaults(),
		scorer:    scorer,
		onSegment: onSegment,
	}
}

// Config returns the effective configuration after defaults were applied.
func (s *Segmenter) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetThreshold retunes the speech probability threshold at runtime. Values
// outside (0, 1] are ignored.
func (s *Segmenter) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Threshold = threshold
}

// ProcessChunk scores one chunk and advances the state machine. It returns
// the speech probability assigned to the chunk.
//
// Scoring happens outside the segmenter's lock; if Reset is called while a
// chunk is being scored, that chunk's result is discarded rather than applied
// to the fresh state.
func (s *Segmenter) ProcessChunk(chunk []float32) (float64, error) {
	if len(chunk) < s.cfg.ChunkSamples() {
		return 0, fmt.Errorf("%w: got %d samples, need %d", ErrShortChunk, len(chunk), s.cfg.ChunkSamples())
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	prob, err := s.scorer.Score(chunk)
	if err != nil {
		return 0, fmt.Errorf("vad: score chunk: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Reset happened while the chunk was being scored. The result belongs
		// to the previous stream.
		s.mu.Unlock()
		return prob, nil
	}

	var seg *SpeechSegment
	if prob >= s.cfg.Threshold {
		s.onSpeechChunk(chunk)
	} else {
		seg = s.onSilenceChunk(chunk)
	}
	s.mu.Unlock()

	if seg != nil {
		s.dispatch(*seg)
	}
	return prob, nil
}

// Reset discards all accumulated state, including any partially collected
// segment. A chunk concurrently in scoring is invalidated.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.resetLocked()
}

func (s *Segmenter) onSpeechChunk(chunk []float32) {
	if !s.inSpeech {
		s.inSpeech = true
		prerollDur := time.Duration(len(s.preroll)) * time.Second / time.Duration(s.cfg.SampleRate)
		s.speechStart = time.Now().Add(-prerollDur)
		s.buf = append(s.buf[:0], s.preroll...)
		s.preroll = s.preroll[:0]
	}
	s.buf = append(s.buf, chunk...)
	s.speechSamples += len(chunk)
	s.silenceSamples = 0
}

// onSilenceChunk returns a non-nil segment when the closing silence is
// confirmed and the collected speech is long enough. State is reset under the
// lock before returning; the caller dispatches outside the lock.
func (s *Segmenter) onSilenceChunk(chunk []float32) *SpeechSegment {
	if !s.inSpeech {
		s.appendPreroll(chunk)
		return nil
	}

	s.buf = append(s.buf, chunk...)
	s.silenceSamples += len(chunk)
	if s.silenceSamples < s.cfg.SampleRate*s.cfg.MinSilenceMS/1000 {
		return nil
	}

	minSpeech := s.cfg.SampleRate * s.cfg.MinSpeechMS / 1000
	if s.speechSamples < minSpeech {
		s.resetLocked()
		return nil
	}

	// The buffer is emitted whole, closing silence included, so natural
	// trailing audio survives into transcription.
	out := make([]float32, len(s.buf))
	copy(out, s.buf)

	seg := &SpeechSegment{
		Audio:      out,
		StartTime:  s.speechStart,
		EndTime:    time.Now(),
		DurationMS: float64(len(out)) / float64(s.cfg.SampleRate) * 1000,
	}
	s.resetLocked()
	return seg
}

// appendPreroll keeps the most recent SpeechPadMS of idle audio.
func (s *Segmenter) appendPreroll(chunk []float32) {
	s.preroll = append(s.preroll, chunk...)
	pad := s.cfg.SampleRate * s.cfg.SpeechPadMS / 1000
	if over := len(s.preroll) - pad; over > 0 {
		s.preroll = append(s.preroll[:0], s.preroll[over:]...)
	}
}

func (s *Segmenter) resetLocked() {
	s.inSpeech = false
	s.buf = s.buf[:0]
	s.preroll = s.preroll[:0]
	s.speechSamples = 0
	s.silenceSamples = 0
	s.speechStart = time.Time{}
}

func (s *Segmenter) dispatch(seg SpeechSegment) {
	if s.onSegment == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("vad: segment callback panicked", "panic", r)
		}
	}()
	s.onSegment(seg)
}
