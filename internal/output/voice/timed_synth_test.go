package voice

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/sensoria/internal/observe"
	ttsmock "github.com/MrWong99/sensoria/pkg/provider/tts/mock"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestTimedSynthesizerRecordsDuration(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	synth := &timedSynthesizer{inner: &ttsmock.Synthesizer{}, metrics: metrics}

	chunks, err := synth.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for range chunks {
	}

	md := findMetric(t, reader, "sensoria.tts.duration")
	if md == nil {
		t.Fatal("sensoria.tts.duration not found")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestTimedSynthesizerCountsBackendErrors(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	synthErr := errors.New("voice model unavailable")
	synth := &timedSynthesizer{inner: &ttsmock.Synthesizer{Err: synthErr}, metrics: metrics}

	if _, err := synth.Synthesize(context.Background(), "unreachable"); !errors.Is(err, synthErr) {
		t.Fatalf("Synthesize error = %v, want %v", err, synthErr)
	}

	md := findMetric(t, reader, "sensoria.provider.errors")
	if md == nil {
		t.Fatal("sensoria.provider.errors not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected data points: %+v", sum.DataPoints)
	}
}
