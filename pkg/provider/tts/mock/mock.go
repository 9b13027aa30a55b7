// Package mock provides a test double for the tts package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensoria/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
}

// Synthesizer is a scripted implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Chunks are emitted on the returned channel for every call. When nil, a
	// single 1 kB chunk at 22050 Hz is emitted.
	Chunks []tts.Chunk

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and streams the scripted chunks.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.Chunk, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text})
	err := s.Err
	chunks := s.Chunks
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []tts.Chunk{{PCM: make([]byte, 1024), SampleRate: 22050}}
	}

	ch := make(chan tts.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of recorded calls.
func (s *Synthesizer) Calls() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SynthesizeCall, len(s.SynthesizeCalls))
	copy(out, s.SynthesizeCalls)
	return out
}
