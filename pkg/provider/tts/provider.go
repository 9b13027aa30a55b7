// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer converts one utterance of text into a stream of raw PCM
// chunks. The playback controller drains the stream into a fully-buffered
// clip before queueing it, so backends are free to deliver audio
// incrementally or all at once.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Chunk is one span of synthesized audio.
type Chunk struct {
	// PCM is raw 16-bit little-endian mono PCM.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize starts synthesis of text and returns a channel that emits
	// PCM chunks as they become available. The channel is closed when
	// synthesis completes or ctx is cancelled; callers must drain it.
	//
	// A non-nil error means synthesis could not start. Errors during
	// synthesis are signalled by closing the channel early; callers check
	// ctx.Err() to distinguish cancellation. Either way a failed synthesis
	// is "no audio this cycle", never fatal to the playback controller.
	Synthesize(ctx context.Context, text string) (<-chan Chunk, error)
}
