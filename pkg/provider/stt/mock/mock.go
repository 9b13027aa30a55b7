// Package mock provides a test double for the stt package.
//
// Use Transcriber to script results and inspect the audio the coordinator
// submitted:
//
//	tr := &mock.Transcriber{Result: stt.Result{Text: "hello", Language: "en"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensoria/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the samples passed to Transcribe.
	Audio []float32

	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a scripted implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, Result is
	// returned.
	Results []stt.Result

	// Result is returned once Results is exhausted (or when Results is nil).
	Result stt.Result

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	next int
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(_ context.Context, audio []float32, sampleRate int) (stt.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := make([]float32, len(audio))
	copy(a, audio)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Audio: a, SampleRate: sampleRate})

	if t.Err != nil {
		return stt.Result{}, t.Err
	}
	if t.next < len(t.Results) {
		r := t.Results[t.next]
		t.next++
		return r, nil
	}
	return t.Result, nil
}

// Calls returns a snapshot of recorded calls.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

// Reset clears recorded calls and rewinds the script.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.next = 0
}
