package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
)

// frameQueueSize bounds the frame channel. A stalled consumer drops frames
// instead of backing up the grabber pipe.
const frameQueueSize = 4

// maxFrameScanBytes caps the scanner's token buffer. A single MJPEG frame at
// perception resolutions is far smaller.
const maxFrameScanBytes = 16 << 20

// jpeg start-of-image marker. Frames in an MJPEG stream are delimited by it.
var jpegSOI = []byte{0xFF, 0xD8}

// Frames captures video through an external grabber subprocess emitting an
// MJPEG stream on stdout. ffmpeg with image2pipe output is the usual grabber
// for both cameras and screens.
type Frames struct {
	command []string
}

// NewFrames returns a frame source running the given grabber command. The
// command must write concatenated JPEG images to stdout.
func NewFrames(command []string) (*Frames, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("capture: grabber command is empty")
	}
	return &Frames{command: command}, nil
}

// CameraCommand builds the stock ffmpeg invocation grabbing the default
// camera device at the given frame rate.
func CameraCommand(fps float64) []string {
	return []string{
		"ffmpeg", "-loglevel", "quiet",
		"-f", "v4l2", "-i", "/dev/video0",
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "image2pipe", "-vcodec", "mjpeg", "-",
	}
}

// ScreenCommand builds the stock ffmpeg invocation grabbing the X11 root
// window at the given frame rate.
func ScreenCommand(fps float64) []string {
	return []string{
		"ffmpeg", "-loglevel", "quiet",
		"-f", "x11grab", "-i", ":0",
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "image2pipe", "-vcodec", "mjpeg", "-",
	}
}

// Frames starts the grabber and returns the decoded frame stream. The channel
// closes when ctx is cancelled or the grabber exits.
func (f *Frames) Frames(ctx context.Context) (<-chan image.Image, error) {
	cmd := exec.CommandContext(ctx, f.command[0], f.command[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killWait

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: grabber stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start %s: %w", f.command[0], err)
	}
	slog.Info("frame capture started", "command", f.command[0])

	out := make(chan image.Image, frameQueueSize)
	go func() {
		defer close(out)
		defer func() {
			if werr := cmd.Wait(); werr != nil && ctx.Err() == nil {
				slog.Warn("grabber exited", "error", werr)
			}
		}()
		decodeMJPEG(ctx, stdout, out)
	}()
	return out, nil
}

// decodeMJPEG splits the stream on JPEG start-of-image markers and decodes
// each frame.
func decodeMJPEG(ctx context.Context, r io.Reader, out chan<- image.Image) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameScanBytes)
	sc.Split(splitJPEG)

	for sc.Scan() {
		frame, err := jpeg.Decode(bytes.NewReader(sc.Bytes()))
		if err != nil {
			slog.Debug("dropped undecodable frame", "error", err, "bytes", len(sc.Bytes()))
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		default:
			slog.Debug("dropped frame, consumer behind")
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("frame stream failed", "error", err)
	}
}

// splitJPEG tokenizes a concatenated JPEG stream: each token runs from one
// start-of-image marker up to the next.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep at most one byte in case the marker straddles the boundary.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	next := bytes.Index(data[start+2:], jpegSOI)
	if next < 0 {
		if atEOF {
			if len(data) > start+2 {
				return len(data), data[start:], nil
			}
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end := start + 2 + next
	return end, data[start:end], nil
}
