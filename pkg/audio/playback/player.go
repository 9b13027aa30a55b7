package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// Clip is one fully-buffered utterance of audio.
type Clip struct {
	// PCM is raw 16-bit little-endian mono PCM.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Player renders one clip to the audio device. Play blocks until the clip
// finished or ctx was cancelled; cancellation must stop output promptly.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// DefaultKillWait bounds how long a cancelled playback process gets to exit
// gracefully before it is killed.
const DefaultKillWait = 500 * time.Millisecond

// ProcessPlayer plays clips through an external audio player subprocess. On
// cancellation the process receives SIGTERM and, after a bounded wait,
// SIGKILL.
type ProcessPlayer struct {
	command  []string
	killWait time.Duration
}

var _ Player = (*ProcessPlayer)(nil)

// ProcessOption is a functional option for configuring a [ProcessPlayer].
type ProcessOption func(*ProcessPlayer)

// WithCommand overrides the player command. The clip's WAV file path is
// appended as the last argument.
func WithCommand(command []string) ProcessOption {
	return func(p *ProcessPlayer) {
		p.command = command
	}
}

// WithKillWait sets the grace period between SIGTERM and SIGKILL.
// Default: 500 ms.
func WithKillWait(d time.Duration) ProcessOption {
	return func(p *ProcessPlayer) {
		p.killWait = d
	}
}

// NewProcessPlayer returns a player using the platform's stock CLI audio
// player (afplay on macOS, aplay elsewhere) unless overridden.
func NewProcessPlayer(opts ...ProcessOption) *ProcessPlayer {
	p := &ProcessPlayer{killWait: DefaultKillWait}
	if runtime.GOOS == "darwin" {
		p.command = []string{"afplay"}
	} else {
		p.command = []string{"aplay", "-q"}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play writes the clip to a temporary WAV file and runs the player command
// on it.
func (p *ProcessPlayer) Play(ctx context.Context, clip Clip) error {
	if len(clip.PCM) == 0 {
		return nil
	}

	f, err := os.CreateTemp("", "playback-*.wav")
	if err != nil {
		return fmt.Errorf("playback: create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(wavHeader(len(clip.PCM), clip.SampleRate)); err != nil {
		f.Close()
		return fmt.Errorf("playback: write wav header: %w", err)
	}
	if _, err := f.Write(clip.PCM); err != nil {
		f.Close()
		return fmt.Errorf("playback: write wav data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("playback: close wav file: %w", err)
	}

	args := append(append([]string{}, p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.killWait

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback: %s: %w", p.command[0], err)
	}
	return nil
}

// wavHeader builds a 44-byte RIFF header for 16-bit mono PCM.
func wavHeader(dataLen, sampleRate int) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], 1) // mono
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(h[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(h[34:36], 16)                   // bits per sample
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
