// Package mock provides a test double for the score package interface.
//
// Use Scorer to script a fixed sequence of speech probabilities and inspect
// the chunks that were scored.
//
// Example:
//
//	sc := &mock.Scorer{Probabilities: []float64{0.9, 0.9, 0.1}}
//	seg := vad.NewSegmenter(cfg, sc, onSegment)
package mock

import (
	"sync"

	"github.com/MrWong99/sensoria/pkg/provider/score"
)

// ScoreCall records a single invocation of Scorer.Score.
type ScoreCall struct {
	// Chunk is a copy of the samples passed to Score.
	Chunk []float32
}

// Scorer is a mock implementation of score.Scorer.
type Scorer struct {
	mu sync.Mutex

	// Probabilities is consumed one entry per Score call. When exhausted,
	// Default is returned instead.
	Probabilities []float64

	// Default is the probability returned once Probabilities is exhausted.
	Default float64

	// Err, if non-nil, is returned by every Score call.
	Err error

	// ScoreCalls records every call to Score in order.
	ScoreCalls []ScoreCall

	next int
}

// Score records the call and returns the next scripted probability.
func (s *Scorer) Score(chunk []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(chunk))
	copy(cp, chunk)
	s.ScoreCalls = append(s.ScoreCalls, ScoreCall{Chunk: cp})
	if s.Err != nil {
		return 0, s.Err
	}
	if s.next < len(s.Probabilities) {
		p := s.Probabilities[s.next]
		s.next++
		return p, nil
	}
	return s.Default, nil
}

// ScoreCallCount returns the number of Score calls. Thread-safe.
func (s *Scorer) ScoreCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ScoreCalls)
}

// ResetCalls clears all recorded call history and rewinds the probability
// script. Thread-safe.
func (s *Scorer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreCalls = nil
	s.next = 0
}

// Ensure Scorer implements score.Scorer at compile time.
var _ score.Scorer = (*Scorer)(nil)
