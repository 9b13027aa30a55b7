// Package energy implements the [score.Scorer] interface with a pure-Go RMS
// energy detector.
//
// The scorer computes the root-mean-square amplitude of each chunk and maps
// it through a logistic curve centred on a configurable noise floor. It is
// far cruder than a neural VAD but needs no model runtime, which makes it the
// default backend: the binary always runs, and a model-based scorer can be
// swapped in where one is available.
package energy

import (
	"math"

	"github.com/MrWong99/sensoria/pkg/provider/score"
)

const (
	// DefaultNoiseFloor is the RMS amplitude that maps to probability 0.5.
	// Tuned for typical laptop microphones at unity gain.
	DefaultNoiseFloor = 0.015

	// DefaultSteepness controls how sharply the logistic curve transitions
	// around the noise floor.
	DefaultSteepness = 250.0
)

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithNoiseFloor sets the RMS amplitude treated as the speech/silence
// midpoint. Default: 0.015.
func WithNoiseFloor(floor float64) Option {
	return func(s *Scorer) {
		s.noiseFloor = floor
	}
}

// WithSteepness sets the slope of the logistic curve. Higher values make the
// scorer more binary. Default: 250.
func WithSteepness(steepness float64) Option {
	return func(s *Scorer) {
		s.steepness = steepness
	}
}

// Scorer scores chunks by RMS energy. It implements [score.Scorer].
// It is stateless and safe for concurrent use.
type Scorer struct {
	noiseFloor float64
	steepness  float64
}

var _ score.Scorer = (*Scorer)(nil)

// New returns an energy scorer configured with the supplied options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		noiseFloor: DefaultNoiseFloor,
		steepness:  DefaultSteepness,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score returns a logistic function of the chunk's RMS amplitude.
func (s *Scorer) Score(chunk []float32) (float64, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range chunk {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(chunk)))
	return 1 / (1 + math.Exp(-s.steepness*(rms-s.noiseFloor))), nil
}
