// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber consumes one fully-buffered speech segment and returns its
// text. Unlike streaming STT APIs, the perception pipeline always has the
// complete utterance in hand (the VAD segmenter bounds it), so the interface
// is deliberately a single blocking call. Backends wrap whatever engine is
// available — a local whisper server, a cloud API, or a test double.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Result is the outcome of transcribing one speech segment.
type Result struct {
	// Text is the transcribed speech content, trimmed.
	Text string

	// Language is the detected (or assumed) BCP-47 language tag.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts a mono float32 PCM buffer at sampleRate Hz into
	// text. An error means "no result this cycle": the caller logs it and the
	// pipeline continues — a failed transcription is never fatal to the
	// coordinator.
	Transcribe(ctx context.Context, audio []float32, sampleRate int) (Result, error)
}
