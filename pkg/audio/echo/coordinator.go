// Package echo coordinates microphone muting around assistant playback.
//
// Without hardware echo cancellation, a speaking assistant hears itself and
// transcribes its own voice. The Coordinator solves this with a three-state
// machine: while the assistant speaks the mic is muted, but short listening
// windows open periodically so a user can still shout an interrupt keyword
// over the playback.
//
//	Listening -> Speaking          on StartSpeaking
//	Speaking  -> InterruptCheck    when a window opens
//	InterruptCheck -> Speaking     when the window closes
//	any state -> Listening         on StopSpeaking
//
// All methods are safe for concurrent use.
package echo

import (
	"log/slog"
	"sync"
	"time"
)

// AudioState is the coordinator's position in the mute cycle.
type AudioState int

const (
	// Listening means the assistant is silent and the mic is fully open.
	Listening AudioState = iota

	// Speaking means the assistant is playing audio and the mic is muted.
	Speaking

	// InterruptCheck means playback continues but the mic is briefly open to
	// catch interrupt keywords.
	InterruptCheck
)

// String returns the lowercase state name.
func (s AudioState) String() string {
	switch s {
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case InterruptCheck:
		return "interrupt_check"
	default:
		return "unknown"
	}
}

const (
	// DefaultCheckInterval is how often a listening window opens during
	// playback.
	DefaultCheckInterval = 500 * time.Millisecond

	// DefaultCheckDuration is how long each listening window stays open.
	DefaultCheckDuration = 100 * time.Millisecond

	// stopWait bounds how long StopSpeaking waits for the check loop to
	// acknowledge the stop signal.
	stopWait = time.Second
)

// StateFunc is invoked on every state transition. It runs outside the
// coordinator's lock; a panic in the callback is recovered and logged.
type StateFunc func(AudioState)

// Option is a functional option for configuring a [Coordinator].
type Option func(*Coordinator)

// WithCheckInterval sets the period between listening windows.
// Default: 500 ms.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.checkInterval = d
	}
}

// WithCheckDuration sets the length of each listening window.
// Default: 100 ms.
func WithCheckDuration(d time.Duration) Option {
	return func(c *Coordinator) {
		c.checkDuration = d
	}
}

// Coordinator tracks whether the microphone should be live.
type Coordinator struct {
	checkInterval time.Duration
	checkDuration time.Duration
	onState       StateFunc

	mu    sync.Mutex
	state AudioState
	stop  chan struct{}
	done  chan struct{}
}

// NewCoordinator returns a coordinator in the Listening state. onState may be
// nil; it receives every state transition.
func NewCoordinator(onState StateFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		checkInterval: DefaultCheckInterval,
		checkDuration: DefaultCheckDuration,
		onState:       onState,
		state:         Listening,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() AudioState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsMicActive reports whether mic input should currently be processed. The
// mic is active while Listening and during InterruptCheck windows.
func (c *Coordinator) IsMicActive() bool {
	return c.State() != Speaking
}

// StartSpeaking transitions to Speaking and starts the periodic interrupt
// check loop. Calling it while already Speaking or in an InterruptCheck
// window is a no-op: the running cycle continues.
func (c *Coordinator) StartSpeaking() {
	c.mu.Lock()
	if c.state != Listening {
		c.mu.Unlock()
		return
	}
	c.state = Speaking
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	c.notify(Speaking)
	go c.checkLoop(stop, done)
}

// StopSpeaking stops the check loop and returns the coordinator to
// Listening. It waits briefly for the loop to exit but never longer than one
// second; the state lands in Listening regardless.
func (c *Coordinator) StopSpeaking() {
	c.mu.Lock()
	if c.state == Listening {
		c.mu.Unlock()
		return
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopWait):
		slog.Warn("echo: interrupt check loop did not stop in time")
	}

	c.mu.Lock()
	changed := c.state != Listening
	c.state = Listening
	c.mu.Unlock()

	if changed {
		c.notify(Listening)
	}
}

// checkLoop alternates Speaking and InterruptCheck until stop closes.
func (c *Coordinator) checkLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != Speaking {
			c.mu.Unlock()
			return
		}
		c.state = InterruptCheck
		c.mu.Unlock()
		c.notify(InterruptCheck)

		select {
		case <-stop:
			return
		case <-time.After(c.checkDuration):
		}

		c.mu.Lock()
		// A concurrent StopSpeaking wins: only close the window if nothing
		// moved the state underneath us.
		if c.state != InterruptCheck {
			c.mu.Unlock()
			return
		}
		c.state = Speaking
		c.mu.Unlock()
		c.notify(Speaking)
	}
}

func (c *Coordinator) notify(s AudioState) {
	if c.onState == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("echo: state callback panicked", "panic", r, "state", s.String())
		}
	}()
	c.onState(s)
}
