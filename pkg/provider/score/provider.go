// Package score defines the Scorer interface for voice-activity scoring
// backends.
//
// A scorer assigns each fixed-size audio chunk a probability that it contains
// speech. The VAD segmenter turns the stream of probabilities into bounded
// speech segments; scorers are stateless from the segmenter's point of view.
package score

// Scorer is the abstraction over any voice-activity scoring backend.
type Scorer interface {
	// Score returns the probability (0.0–1.0) that chunk contains speech.
	// chunk is mono float32 PCM in [-1, 1]. An error means "no decision this
	// chunk": the segmenter skips the chunk without touching its state.
	Score(chunk []float32) (float64, error)
}
