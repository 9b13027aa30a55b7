// Package mock provides a test double for the playback Player interface.
//
// Use Player to inspect the clips the controller rendered. Set Block to make
// playback hang until the test releases it, which is how interruption paths
// are exercised.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sensoria/pkg/audio/playback"
)

// PlayCall records a single invocation of Player.Play.
type PlayCall struct {
	// Clip is the clip passed to Play.
	Clip playback.Clip
}

// Player is a scripted implementation of playback.Player.
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Play call.
	Err error

	// Block, if non-nil, makes Play wait until the channel is closed or the
	// context is cancelled.
	Block chan struct{}

	// PlayCalls records every call in order.
	PlayCalls []PlayCall
}

var _ playback.Player = (*Player)(nil)

// Play records the call, optionally blocks, and returns Err.
func (p *Player) Play(ctx context.Context, clip playback.Clip) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{Clip: clip})
	block := p.Block
	err := p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PlayCallCount returns the number of Play calls. Thread-safe.
func (p *Player) PlayCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PlayCalls)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (p *Player) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = nil
}
