package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultMaxFrameBytes is the default upper bound on a single sideband frame.
// Raw camera frames at perception resolutions stay well below this.
const DefaultMaxFrameBytes = 16 << 20

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// WriteFrame writes one sideband frame: a 4-byte big-endian length prefix
// followed by exactly len(payload) bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("protocol: write frame prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one sideband frame, reading exactly the prefixed length
// before returning. maxBytes guards against corrupt or hostile prefixes; pass
// 0 for [DefaultMaxFrameBytes].
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	if maxBytes == 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return payload, nil
}

// PublisherStats counts sideband activity. Retrieve a snapshot with
// [Publisher.Stats].
type PublisherStats struct {
	FramesSent       int64
	BytesSent        int64
	LastSend         time.Time
	ConnectionErrors int64
}

// Publisher serves the higher-bandwidth binary sideband over a local
// point-to-point stream socket. It accepts a single peer (the core) and
// pushes length-prefixed frames to it.
//
// All methods are safe for concurrent use.
type Publisher struct {
	socketPath string
	maxBytes   uint32

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	stats    PublisherStats
}

// NewPublisher creates a publisher for the given Unix socket path. Call
// [Publisher.Listen] to bind and [Publisher.WaitForConn] before publishing.
func NewPublisher(socketPath string) *Publisher {
	return &Publisher{socketPath: socketPath, maxBytes: DefaultMaxFrameBytes}
}

// Listen binds the Unix socket, replacing any stale socket file left over
// from a previous run.
func (p *Publisher) Listen() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("protocol: remove stale socket %q: %w", p.socketPath, err)
	}
	l, err := net.Listen("unix", p.socketPath)
	if err != nil {
		return fmt.Errorf("protocol: listen %q: %w", p.socketPath, err)
	}
	p.listener = l
	slog.Info("sideband publisher listening", "socket", p.socketPath)
	return nil
}

// WaitForConn blocks until the core connects or the timeout elapses. Waiting
// for a peer always uses an explicit timeout with a failure outcome — never
// an indefinite block.
func (p *Publisher) WaitForConn(timeout time.Duration) error {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		return fmt.Errorf("protocol: publisher is not listening")
	}

	type unixListener interface {
		SetDeadline(time.Time) error
	}
	if dl, ok := l.(unixListener); ok && timeout > 0 {
		if err := dl.SetDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("protocol: set accept deadline: %w", err)
		}
	}

	conn, err := l.Accept()
	if err != nil {
		return fmt.Errorf("protocol: accept peer: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	slog.Info("sideband peer connected", "socket", p.socketPath)
	return nil
}

// Publish sends one frame to the connected peer. A broken connection is
// recorded in the stats and reported as an error; the caller decides whether
// to reconnect or shut the sideband down.
func (p *Publisher) Publish(payload []byte) error {
	if uint32(len(payload)) > p.maxBytes {
		return ErrFrameTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("protocol: no sideband peer connected")
	}
	if err := WriteFrame(p.conn, payload); err != nil {
		p.stats.ConnectionErrors++
		p.conn.Close()
		p.conn = nil
		return err
	}
	p.stats.FramesSent++
	p.stats.BytesSent += int64(len(payload)) + 4
	p.stats.LastSend = time.Now()
	return nil
}

// Connected reports whether a peer is currently attached.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Stats returns a snapshot of the publisher counters.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close tears down the connection, the listener, and the socket file.
// Calling Close more than once is safe.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	if p.listener != nil {
		errs = append(errs, p.listener.Close())
		p.listener = nil
	}
	if err := os.Remove(p.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
