// Package framediff gates expensive scene analysis on actual visual change.
//
// The Differ compares each incoming frame against two baselines: the previous
// frame (motion) and the last frame that was actually analyzed (scene drift).
// A frame is only worth describing when the scene moved enough, which in a
// static room suppresses the vast majority of vision-model calls.
package framediff

import (
	"image"
	"sync"
)

// Default gating parameters.
const (
	// DefaultChangeThreshold is the normalized difference score that triggers
	// analysis immediately.
	DefaultChangeThreshold = 0.05

	// DefaultMotionThreshold is the per-pixel sensitivity for motion
	// detection and the score required for stale re-analysis.
	DefaultMotionThreshold = 0.02

	// DefaultMinFramesBetween is the minimum number of frames between
	// analyses driven by small accumulated drift.
	DefaultMinFramesBetween = 5

	// DefaultDownsampleFactor shrinks frames before comparison.
	DefaultDownsampleFactor = 4
)

// gridSize is the edge length of the motion-region grid.
const gridSize = 8

// motionRegionTrigger is how many active grid cells count as a distinct
// object entering the scene.
const motionRegionTrigger = 3

// Config holds the gating parameters. Zero-value fields fall back to the
// package defaults.
type Config struct {
	// ChangeThreshold triggers analysis immediately when exceeded.
	ChangeThreshold float64

	// MotionThreshold is the sensitivity for motion masks and stale
	// re-analysis.
	MotionThreshold float64

	// MinFramesBetween is the frame count after which any drift above
	// MotionThreshold re-triggers analysis.
	MinFramesBetween int

	// DownsampleFactor shrinks frames before comparison. 1 disables
	// downsampling.
	DownsampleFactor int
}

func (c Config) withDefaults() Config {
	if c.ChangeThreshold <= 0 {
		c.ChangeThreshold = DefaultChangeThreshold
	}
	if c.MotionThreshold <= 0 {
		c.MotionThreshold = DefaultMotionThreshold
	}
	if c.MinFramesBetween <= 0 {
		c.MinFramesBetween = DefaultMinFramesBetween
	}
	if c.DownsampleFactor <= 0 {
		c.DownsampleFactor = DefaultDownsampleFactor
	}
	return c
}

// Result describes how one frame differs from the last analyzed frame.
type Result struct {
	// Changed reports whether the difference exceeded ChangeThreshold.
	Changed bool

	// DiffScore is the normalized mean difference: 0 identical, 1 maximal.
	DiffScore float64

	// MotionRegions is the number of grid cells with localized motion.
	MotionRegions int
}

// gray is a downsampled luminance plane.
type gray struct {
	pix  []float64
	w, h int
}

// Differ decides whether a frame warrants scene analysis. Safe for
// concurrent use, though frames are expected from a single capture loop.
type Differ struct {
	cfg Config

	mu           sync.Mutex
	lastFrame    *gray
	lastAnalyzed *gray
	framesSince  int
}

// New returns a differ with the given configuration.
func New(cfg Config) *Differ {
	return &Differ{cfg: cfg.withDefaults()}
}

// ShouldAnalyze reports whether frame should be sent to the scene describer.
// The first frame, and any frame whose dimensions differ from the stored
// baseline, always triggers analysis.
//
// Three rules trigger after that, in increasing specificity:
//   - enough frames passed and the scene drifted above MotionThreshold,
//   - the difference score exceeds ChangeThreshold outright,
//   - several distinct motion regions appeared with at least minor drift.
func (d *Differ) ShouldAnalyze(frame image.Image) (bool, Result) {
	small := downsample(frame, d.cfg.DownsampleFactor)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.framesSince++

	if d.lastFrame == nil || d.lastFrame.w != small.w || d.lastFrame.h != small.h {
		d.lastFrame = small
		d.lastAnalyzed = small
		d.framesSince = 0
		return true, Result{Changed: true, DiffScore: 1.0}
	}

	diffScore := meanDiff(d.lastAnalyzed, small)
	regions := d.motionRegions(d.lastAnalyzed, small)
	d.lastFrame = small

	res := Result{
		Changed:       diffScore > d.cfg.ChangeThreshold,
		DiffScore:     diffScore,
		MotionRegions: regions,
	}

	run := false
	if d.framesSince >= d.cfg.MinFramesBetween && diffScore > d.cfg.MotionThreshold {
		run = true
	}
	if diffScore > d.cfg.ChangeThreshold {
		run = true
	}
	if regions >= motionRegionTrigger && diffScore > d.cfg.MotionThreshold {
		run = true
	}

	if run {
		d.lastAnalyzed = small
		d.framesSince = 0
	}
	return run, res
}

// Reset discards both baselines; the next frame triggers analysis.
func (d *Differ) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFrame = nil
	d.lastAnalyzed = nil
	d.framesSince = 0
}

// downsample converts frame to a luminance plane, averaging factor×factor
// blocks.
func downsample(frame image.Image, factor int) *gray {
	b := frame.Bounds()
	w := b.Dx() / factor
	h := b.Dy() / factor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	g := &gray{pix: make([]float64, w*h), w: w, h: h}

	for gy := range h {
		for gx := range w {
			var sum float64
			var n int
			for dy := range factor {
				for dx := range factor {
					x := b.Min.X + gx*factor + dx
					y := b.Min.Y + gy*factor + dy
					if x >= b.Max.X || y >= b.Max.Y {
						continue
					}
					r, gr, bl, _ := frame.At(x, y).RGBA()
					// Rec. 601 luma on 8-bit channels.
					lum := 0.299*float64(r>>8) + 0.587*float64(gr>>8) + 0.114*float64(bl>>8)
					sum += lum
					n++
				}
			}
			if n > 0 {
				g.pix[gy*w+gx] = sum / float64(n)
			}
		}
	}
	return g
}

// meanDiff returns the mean absolute luminance difference, normalized to
// 0..1.
func meanDiff(a, b *gray) float64 {
	var sum float64
	for i := range a.pix {
		d := a.pix[i] - b.pix[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(a.pix)) / 255.0
}

// motionRegions counts grid cells where a meaningful share of pixels moved.
func (d *Differ) motionRegions(a, b *gray) int {
	threshold := d.cfg.MotionThreshold * 255
	cellH := a.h / gridSize
	cellW := a.w / gridSize
	if cellH < 1 || cellW < 1 {
		return 0
	}

	active := 0
	for ci := range gridSize {
		for cj := range gridSize {
			moved, total := 0, 0
			for y := ci * cellH; y < (ci+1)*cellH; y++ {
				for x := cj * cellW; x < (cj+1)*cellW; x++ {
					diff := a.pix[y*a.w+x] - b.pix[y*b.w+x]
					if diff < 0 {
						diff = -diff
					}
					if diff > threshold {
						moved++
					}
					total++
				}
			}
			if total > 0 && float64(moved)/float64(total) > 0.1 {
				active++
			}
		}
	}
	return active
}
