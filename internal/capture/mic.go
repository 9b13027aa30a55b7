// Package capture provides subprocess-backed capture drivers: a microphone
// source reading raw PCM from a recorder process and a frame source decoding
// an MJPEG stream from a grabber process. Both satisfy the narrow Source
// interfaces of the hearing and vision senses, so tests and alternative
// drivers can replace them freely.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// DefaultSampleRate matches the VAD segmenter's default.
const DefaultSampleRate = 16000

// DefaultChunkMS matches the VAD segmenter's default chunk interval.
const DefaultChunkMS = 32

// killWait bounds how long a cancelled capture process gets to exit
// gracefully before it is killed.
const killWait = 500 * time.Millisecond

// micQueueSize bounds the chunk channel. When the consumer falls behind,
// chunks are dropped rather than stalling the recorder pipe.
const micQueueSize = 32

// Mic captures microphone audio through an external recorder subprocess that
// writes signed 16-bit little-endian mono PCM to stdout.
type Mic struct {
	command    []string
	sampleRate int
	chunkMS    int
}

// MicOption is a functional option for configuring a [Mic].
type MicOption func(*Mic)

// WithMicCommand overrides the recorder command. The command must write raw
// s16le mono PCM at the configured sample rate to stdout.
func WithMicCommand(command []string) MicOption {
	return func(m *Mic) {
		if len(command) > 0 {
			m.command = command
		}
	}
}

// WithMicSampleRate sets the capture sample rate in Hz. Default: 16000.
func WithMicSampleRate(rate int) MicOption {
	return func(m *Mic) {
		if rate > 0 {
			m.sampleRate = rate
		}
	}
}

// WithMicChunkMS sets the chunk duration in milliseconds. Default: 32.
func WithMicChunkMS(ms int) MicOption {
	return func(m *Mic) {
		if ms > 0 {
			m.chunkMS = ms
		}
	}
}

// NewMic returns a microphone source using the platform's stock CLI recorder
// (sox's rec on macOS, arecord elsewhere) unless overridden.
func NewMic(opts ...MicOption) *Mic {
	m := &Mic{sampleRate: DefaultSampleRate, chunkMS: DefaultChunkMS}
	for _, o := range opts {
		o(m)
	}
	if m.command == nil {
		rate := strconv.Itoa(m.sampleRate)
		if runtime.GOOS == "darwin" {
			m.command = []string{"rec", "-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-L", "-c", "1", "-r", rate, "-"}
		} else {
			m.command = []string{"arecord", "-q", "-f", "S16_LE", "-c", "1", "-r", rate, "-t", "raw"}
		}
	}
	return m
}

// Chunks starts the recorder and returns the chunk stream. The channel closes
// when ctx is cancelled or the recorder exits.
func (m *Mic) Chunks(ctx context.Context) (<-chan []float32, error) {
	cmd := exec.CommandContext(ctx, m.command[0], m.command[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killWait

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start %s: %w", m.command[0], err)
	}
	slog.Info("microphone capture started", "command", m.command[0], "sample_rate", m.sampleRate)

	out := make(chan []float32, micQueueSize)
	go m.readLoop(ctx, cmd, stdout, out)
	return out, nil
}

func (m *Mic) readLoop(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, out chan<- []float32) {
	defer close(out)
	defer func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("recorder exited", "error", err)
		}
	}()

	samples := m.sampleRate * m.chunkMS / 1000
	raw := make([]byte, samples*2)
	for {
		if _, err := io.ReadFull(stdout, raw); err != nil {
			if ctx.Err() == nil && err != io.EOF {
				slog.Warn("recorder read failed", "error", err)
			}
			return
		}
		chunk := pcmToFloat32(raw)
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		default:
			// Consumer is behind; drop the chunk so the pipe keeps flowing.
			slog.Debug("dropped audio chunk, consumer behind")
		}
	}
}

// pcmToFloat32 converts s16le PCM bytes to normalized float32 samples.
func pcmToFloat32(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return samples
}
