// Package vision implements the camera sense: captured frames pass through a
// frame-differencing gate, and frames that pass are described by a
// vision-language backend. Descriptions leave as visual signals; the backend
// call runs out of band so a slow model never stalls the capture loop.
//
// The screen sense reuses this package with a different name and priority.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/observe"
	"github.com/MrWong99/sensoria/internal/sense"
	"github.com/MrWong99/sensoria/pkg/protocol"
	"github.com/MrWong99/sensoria/pkg/provider/vlm"
	"github.com/MrWong99/sensoria/pkg/vision/framediff"
)

// sidebandAcceptTimeout bounds how long the sense waits for the core to
// attach to the frame sideband before giving up on it.
const sidebandAcceptTimeout = 10 * time.Second

// jpegQuality for frames submitted to the describer and the sideband.
const jpegQuality = 85

// Source delivers captured frames. Implementations wrap a camera or screen
// grabber and own the capture interval.
type Source interface {
	// Frames starts capture and returns the frame stream. The channel must be
	// closed when ctx is cancelled or the device fails.
	Frames(ctx context.Context) (<-chan image.Image, error)
}

// Vision is a frame-based sense behind the process lifecycle runner.
type Vision struct {
	name      string
	priority  int
	cfg       config.VisionConfig
	source    Source
	describer vlm.Describer
	metrics   *observe.Metrics

	differ    *framediff.Differ
	emitter   *sense.Emitter
	publisher *protocol.Publisher

	// describing guards the single out-of-band describe slot.
	describing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ sense.Handler = (*Vision)(nil)

// New builds the camera sense.
func New(cfg config.VisionConfig, source Source, describer vlm.Describer) *Vision {
	return newSense(string(config.RoleVision), protocol.PriorityVisual, cfg, source, describer)
}

// NewWithRole builds a frame sense under a different name and signal
// priority. The screen sense uses this.
func NewWithRole(name string, priority int, cfg config.VisionConfig, source Source, describer vlm.Describer) *Vision {
	return newSense(name, priority, cfg, source, describer)
}

func newSense(name string, priority int, cfg config.VisionConfig, source Source, describer vlm.Describer) *Vision {
	return &Vision{
		name:      name,
		priority:  priority,
		cfg:       cfg,
		source:    source,
		describer: describer,
		metrics:   observe.DefaultMetrics(),
	}
}

// Name implements [sense.Handler].
func (v *Vision) Name() string { return v.name }

// Init implements [sense.Handler]: it builds the differencing gate and, when
// configured, binds the frame sideband socket. A missing sideband peer is not
// fatal; the sense degrades to signals only.
func (v *Vision) Init(_ context.Context, emitter *sense.Emitter) error {
	v.emitter = emitter
	v.differ = framediff.New(framediff.Config{
		ChangeThreshold:  v.cfg.ChangeThreshold,
		MotionThreshold:  v.cfg.MotionThreshold,
		MinFramesBetween: v.cfg.MinFramesBetween,
		DownsampleFactor: v.cfg.DownsampleFactor,
	})

	if v.cfg.SidebandSocket != "" {
		pub := protocol.NewPublisher(v.cfg.SidebandSocket)
		if err := pub.Listen(); err != nil {
			return fmt.Errorf("vision: %w", err)
		}
		v.publisher = pub
		go func() {
			if err := pub.WaitForConn(sidebandAcceptTimeout); err != nil {
				slog.Warn("sideband peer never connected, frames stay signal-only", "error", err)
			}
		}()
	}
	return nil
}

// HandleCommand implements [sense.Handler].
func (v *Vision) HandleCommand(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CommandStart:
		return v.start(ctx)
	case protocol.CommandStop:
		return v.stop()
	case protocol.CommandConfigure:
		return v.configure(cmd)
	default:
		return fmt.Errorf("%s: unsupported command %q", v.name, cmd.Command)
	}
}

// start launches the capture loop. Starting while already running is a no-op.
func (v *Vision) start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := v.source.Frames(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%s: start capture: %w", v.name, err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return v.captureLoop(gctx, frames)
	})
	v.cancel = cancel
	v.group = g
	slog.Info("capture started", "sense", v.name)
	return nil
}

func (v *Vision) stop() error {
	v.mu.Lock()
	cancel, g := v.cancel, v.group
	v.cancel, v.group = nil, nil
	v.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: stop: %w", v.name, err)
	}
	slog.Info("capture stopped", "sense", v.name)
	return nil
}

// configure applies runtime options. Supported key: reset_baseline (bool),
// which forgets both comparison baselines so the next frame always analyzes.
func (v *Vision) configure(cmd protocol.Command) error {
	for key := range cmd.Options {
		switch key {
		case "reset_baseline":
			if reset, _ := cmd.BoolOption("reset_baseline"); reset {
				v.differ.Reset()
				slog.Debug("frame baselines reset", "sense", v.name)
			}
		default:
			return fmt.Errorf("%s: unknown configure option %q", v.name, key)
		}
	}
	return nil
}

// Close implements [sense.Handler].
func (v *Vision) Close() error {
	err := v.stop()
	if v.publisher != nil {
		if cerr := v.publisher.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s: close sideband: %w", v.name, cerr)
		}
	}
	return err
}

// captureLoop gates every frame and hands the ones that pass to the
// out-of-band describe path.
func (v *Vision) captureLoop(ctx context.Context, frames <-chan image.Image) error {
	attrs := metric.WithAttributes(attribute.String("sense", v.name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			run, res := v.differ.ShouldAnalyze(frame)
			if !run {
				v.metrics.FramesSkipped.Add(ctx, 1, attrs)
				continue
			}
			v.metrics.FramesAnalyzed.Add(ctx, 1, attrs)
			v.analyzeFrame(ctx, frame, res)
		}
	}
}

// analyzeFrame encodes the frame, pushes it to the sideband, and launches the
// describer in the background. Only one describe runs at a time; while one is
// in flight further analyzable frames are dropped so the gate's cooldown is
// not defeated by a slow backend.
func (v *Vision) analyzeFrame(ctx context.Context, frame image.Image, res framediff.Result) {
	encoded, err := encodeJPEG(frame)
	if err != nil {
		slog.Warn("frame encoding failed", "sense", v.name, "error", err)
		return
	}

	if v.publisher != nil && v.publisher.Connected() {
		if err := v.publisher.Publish(encoded); err != nil {
			slog.Warn("sideband publish failed", "sense", v.name, "error", err)
		}
	}

	if !v.describing.CompareAndSwap(false, true) {
		slog.Debug("describer busy, frame dropped", "sense", v.name, "diff_score", res.DiffScore)
		return
	}
	go func() {
		defer v.describing.Store(false)
		v.describe(ctx, encoded, res)
	}()
}

func (v *Vision) describe(ctx context.Context, encoded []byte, res framediff.Result) {
	ctx, span := observe.StartSpan(ctx, "vision.describe",
		trace.WithAttributes(attribute.String("sense", v.name)))
	defer span.End()

	start := time.Now()
	desc, err := v.describer.Describe(ctx, encoded)
	v.metrics.DescribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		v.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "vlm")))
		observe.Logger(ctx).Warn("scene description failed", "sense", v.name, "error", err)
		return
	}
	if desc.Text == "" {
		return
	}
	v.emitter.Signal(desc.Text, v.priority, map[string]any{
		"diff_score":     res.DiffScore,
		"motion_regions": res.MotionRegions,
		"latency_ms":     desc.LatencyMS,
	})
}

func encodeJPEG(frame image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("vision: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
