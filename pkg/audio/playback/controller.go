// Package playback manages interruptible speech output.
//
// The Controller turns text into audio via a [tts.Synthesizer] and renders it
// through a [Player]. Non-blocking speech is queued to a background loop;
// Interrupt cancels in-flight playback within a bounded kill timeout and
// drains everything queued, so nothing from before the interrupt plays
// afterwards.
package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sensoria/pkg/provider/tts"
)

// DefaultQueueSize bounds how many clips may wait for the playback loop.
const DefaultQueueSize = 16

// interruptWait bounds how long Interrupt waits for the in-flight player to
// die. It must exceed the player's own graceful-terminate-then-kill window.
const interruptWait = 2 * time.Second

// DefaultSampleRate is assumed when the synthesizer does not report one.
const DefaultSampleRate = 22050

// Handle identifies one queued or played utterance.
type Handle = uuid.UUID

// HookFunc is invoked when playback starts or the queue fully drains. It
// runs on the playback goroutine; a panic is recovered and logged.
type HookFunc func()

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithOnPlaybackStart sets a hook fired before each clip starts playing.
func WithOnPlaybackStart(fn HookFunc) Option {
	return func(c *Controller) {
		c.onStart = fn
	}
}

// WithOnPlaybackStop sets a hook fired when playback stops and nothing is
// queued.
func WithOnPlaybackStop(fn HookFunc) Option {
	return func(c *Controller) {
		c.onStop = fn
	}
}

// WithQueueSize sets the queue capacity for non-blocking speech.
// Default: 16.
func WithQueueSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.queue = make(chan queuedClip, n)
		}
	}
}

type queuedClip struct {
	handle Handle
	clip   Clip
}

// Controller coordinates synthesis, queueing and interruption. All methods
// are safe for concurrent use.
type Controller struct {
	synth   tts.Synthesizer
	player  Player
	onStart HookFunc
	onStop  HookFunc

	queue chan queuedClip
	stop  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	interrupted bool
	playing     bool
	cancelPlay  context.CancelFunc
	playDone    chan struct{} // non-nil while a clip is in the player
}

// NewController builds a controller and starts its background playback loop.
// Call Close to stop the loop.
func NewController(synth tts.Synthesizer, player Player, opts ...Option) *Controller {
	c := &Controller{
		synth:  synth,
		player: player,
		queue:  make(chan queuedClip, DefaultQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.playbackLoop()
	return c
}

// Speak synthesizes text and plays it. Empty or whitespace-only text is a
// no-op. With blocking true, Speak returns after the audio finished (or was
// interrupted); otherwise the clip is queued and Speak returns immediately.
//
// Calling Speak clears any previous interrupt, so a conversation can resume
// after a barge-in.
func (c *Controller) Speak(ctx context.Context, text string, blocking bool) (Handle, error) {
	if strings.TrimSpace(text) == "" {
		return uuid.Nil, nil
	}

	c.mu.Lock()
	c.interrupted = false
	c.mu.Unlock()

	clip, err := c.synthesize(ctx, text)
	if err != nil {
		return uuid.Nil, err
	}
	if len(clip.PCM) == 0 {
		return uuid.Nil, nil
	}

	handle := uuid.New()
	if blocking {
		c.playClip(ctx, clip)
		return handle, nil
	}

	select {
	case c.queue <- queuedClip{handle: handle, clip: clip}:
		return handle, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Interrupt stops current playback and discards everything queued. The
// in-flight player process is cancelled and Interrupt waits, bounded by the
// player's kill timeout, until it has actually died: once Interrupt returns
// no audio from before the call is still sounding, and no clip queued before
// the call will play afterwards.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	cancel := c.cancelPlay
	done := c.playDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(interruptWait):
			slog.Warn("playback: player still running after interrupt wait")
		}
	}

	for {
		select {
		case <-c.queue:
		default:
			return
		}
	}
}

// IsSpeaking reports whether audio is playing or queued.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	return playing || len(c.queue) > 0
}

// Close stops the background playback loop. In-flight playback is
// interrupted.
func (c *Controller) Close() {
	c.Interrupt()
	close(c.stop)
	<-c.done
}

// synthesize drains the synthesizer's chunk stream into one clip.
func (c *Controller) synthesize(ctx context.Context, text string) (Clip, error) {
	chunks, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return Clip{}, err
	}
	clip := Clip{SampleRate: DefaultSampleRate}
	for chunk := range chunks {
		clip.PCM = append(clip.PCM, chunk.PCM...)
		if chunk.SampleRate > 0 {
			clip.SampleRate = chunk.SampleRate
		}
	}
	return clip, ctx.Err()
}

func (c *Controller) playbackLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case q := <-c.queue:
			c.playClip(context.Background(), q.clip)
		}
	}
}

// playClip renders one clip unless an interrupt arrived. The interrupted
// flag is re-checked immediately before playback starts, so an Interrupt
// racing a queued clip always wins.
func (c *Controller) playClip(ctx context.Context, clip Clip) {
	c.mu.Lock()
	if c.interrupted {
		c.mu.Unlock()
		return
	}
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelPlay = cancel
	c.playDone = done
	c.playing = true
	c.mu.Unlock()

	c.fireHook(c.onStart)

	err := c.player.Play(playCtx, clip)
	cancel()

	c.mu.Lock()
	c.playing = false
	c.cancelPlay = nil
	c.playDone = nil
	drained := len(c.queue) == 0
	c.mu.Unlock()
	close(done)

	if err != nil && playCtx.Err() == nil {
		slog.Error("playback: player failed", "error", err)
	}
	if drained {
		c.fireHook(c.onStop)
	}
}

func (c *Controller) fireHook(fn HookFunc) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playback: hook panicked", "panic", r)
		}
	}()
	fn()
}
