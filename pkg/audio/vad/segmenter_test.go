package vad

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/sensoria/pkg/provider/score"
	"github.com/MrWong99/sensoria/pkg/provider/score/mock"
)

// testConfig uses the defaults explicitly so the sample math in the tests is
// easy to follow: 512-sample chunks, 4000 samples minimum speech, 11200
// samples closing silence, 1600 samples pad.
func testConfig() Config {
	return Config{
		SampleRate:   16000,
		ChunkMS:      32,
		Threshold:    0.5,
		MinSpeechMS:  250,
		MinSilenceMS: 700,
		SpeechPadMS:  100,
	}
}

func makeChunk(cfg Config, val float32) []float32 {
	chunk := make([]float32, cfg.ChunkSamples())
	for i := range chunk {
		chunk[i] = val
	}
	return chunk
}

// collector gathers emitted segments.
type collector struct {
	mu       sync.Mutex
	segments []SpeechSegment
}

func (c *collector) add(seg SpeechSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, seg)
}

func (c *collector) all() []SpeechSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SpeechSegment, len(c.segments))
	copy(out, c.segments)
	return out
}

func feed(t *testing.T, s *Segmenter, cfg Config, prob float64, n int, sc *mock.Scorer) {
	t.Helper()
	val := float32(0.0)
	if prob >= cfg.Threshold {
		val = 0.5
	}
	for range n {
		sc.Probabilities = append(sc.Probabilities, prob)
	}
	for range n {
		if _, err := s.ProcessChunk(makeChunk(cfg, val)); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
	}
}

func TestSegmenterEmitsSingleSegment(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.9, 10, sc) // 320 ms speech
	feed(t, s, cfg, 0.1, 25, sc) // 800 ms silence

	segs := got.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]

	// The segment carries speech plus the closing silence: the 22nd silence
	// chunk crosses the 11200-sample threshold, so 10+22 chunks are emitted.
	wantSamples := 32 * cfg.ChunkSamples()
	if len(seg.Audio) != wantSamples {
		t.Errorf("got %d samples, want %d", len(seg.Audio), wantSamples)
	}
	if seg.DurationMS < 1000 || seg.DurationMS > 1060 {
		t.Errorf("DurationMS = %.1f, want ~1024 (speech plus trailing silence)", seg.DurationMS)
	}
	if seg.EndTime.Before(seg.StartTime) {
		t.Errorf("EndTime %v before StartTime %v", seg.EndTime, seg.StartTime)
	}
}

func TestSegmenterIncludesPreroll(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.1, 10, sc) // idle audio before onset
	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 25, sc)

	segs := got.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	pad := cfg.SampleRate * cfg.SpeechPadMS / 1000
	wantSamples := pad + 32*cfg.ChunkSamples()
	if len(segs[0].Audio) != wantSamples {
		t.Errorf("got %d samples, want %d (pre-roll + speech + closing silence)", len(segs[0].Audio), wantSamples)
	}
}

func TestSegmenterDiscardsShortBurst(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.9, 3, sc) // 96 ms, below the 250 ms minimum
	feed(t, s, cfg, 0.1, 25, sc)

	if segs := got.all(); len(segs) != 0 {
		t.Fatalf("got %d segments, want 0 for a sub-minimum burst", len(segs))
	}
}

func TestSegmenterSpeechResetsSilenceCounter(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 10, sc) // 320 ms pause, below the closing threshold
	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 25, sc)

	segs := got.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 spanning the mid-utterance pause", len(segs))
	}
	// Both speech runs, the mid-utterance pause, and the closing silence.
	wantSamples := 52 * cfg.ChunkSamples()
	if len(segs[0].Audio) != wantSamples {
		t.Errorf("got %d samples, want %d", len(segs[0].Audio), wantSamples)
	}
}

func TestSegmenterRejectsShortChunk(t *testing.T) {
	cfg := testConfig()
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, nil)

	_, err := s.ProcessChunk(make([]float32, cfg.ChunkSamples()-1))
	if !errors.Is(err, ErrShortChunk) {
		t.Fatalf("got %v, want ErrShortChunk", err)
	}
	if sc.ScoreCallCount() != 0 {
		t.Errorf("scorer was called %d times for a rejected chunk, want 0", sc.ScoreCallCount())
	}
}

func TestSegmenterScorerErrorIsNoDecision(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.9, 10, sc)

	sc.Err = errors.New("model busy")
	if _, err := s.ProcessChunk(makeChunk(cfg, 0)); err == nil {
		t.Fatal("expected an error from ProcessChunk when the scorer fails")
	}
	sc.Err = nil

	// The failed chunk must not have advanced the silence counter.
	feed(t, s, cfg, 0.1, 25, sc)
	segs := got.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if want := 32 * cfg.ChunkSamples(); len(segs[0].Audio) != want {
		t.Errorf("got %d samples, want %d", len(segs[0].Audio), want)
	}
}

func TestSegmenterReset(t *testing.T) {
	cfg := testConfig()
	var got collector
	sc := &mock.Scorer{}
	s := NewSegmenter(cfg, sc, got.add)

	feed(t, s, cfg, 0.9, 10, sc)
	s.Reset()
	feed(t, s, cfg, 0.1, 25, sc)

	if segs := got.all(); len(segs) != 0 {
		t.Fatalf("got %d segments after Reset, want 0", len(segs))
	}

	// The segmenter keeps working after a reset.
	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 25, sc)
	if segs := got.all(); len(segs) != 1 {
		t.Fatalf("got %d segments after fresh utterance, want 1", len(segs))
	}
}

// resetScorer calls Reset on the segmenter from inside Score for one chunk,
// simulating a mute arriving while that chunk is in flight.
type resetScorer struct {
	seg       *Segmenter
	resetOn   int
	calls     int
	prob      float64
	probAfter float64
}

func (r *resetScorer) Score(_ []float32) (float64, error) {
	r.calls++
	if r.calls == r.resetOn {
		r.seg.Reset()
	}
	if r.calls <= r.resetOn {
		return r.prob, nil
	}
	return r.probAfter, nil
}

var _ score.Scorer = (*resetScorer)(nil)

func TestSegmenterResetDuringScoringInvalidatesChunk(t *testing.T) {
	cfg := testConfig()
	var got collector
	rs := &resetScorer{resetOn: 11, prob: 0.9, probAfter: 0.9}
	s := NewSegmenter(cfg, rs, got.add)
	rs.seg = s

	// 10 clean speech chunks, then one whose scoring races with Reset.
	for range 11 {
		if _, err := s.ProcessChunk(makeChunk(cfg, 0.5)); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
	}

	// 8 chunks is exactly the 250 ms speech minimum. If the raced chunk had
	// leaked into the fresh state the segment would carry 9 chunks of speech.
	for range 8 {
		if _, err := s.ProcessChunk(makeChunk(cfg, 0.5)); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
	}
	rs.probAfter = 0.1
	for range 25 {
		if _, err := s.ProcessChunk(makeChunk(cfg, 0)); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
	}

	segs := got.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if want := 30 * cfg.ChunkSamples(); len(segs[0].Audio) != want {
		t.Errorf("got %d samples, want %d (raced chunk must be discarded)", len(segs[0].Audio), want)
	}
}

func TestSegmenterCallbackPanicIsRecovered(t *testing.T) {
	cfg := testConfig()
	sc := &mock.Scorer{}
	var calls int
	s := NewSegmenter(cfg, sc, func(SpeechSegment) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	})

	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 25, sc)

	// The panic must not poison the segmenter.
	feed(t, s, cfg, 0.9, 10, sc)
	feed(t, s, cfg, 0.1, 25, sc)

	if calls != 2 {
		t.Fatalf("callback ran %d times, want 2", calls)
	}
}
