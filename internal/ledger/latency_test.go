package ledger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stepSample(ms int) domain.LatencySample {
	return domain.LatencySample{
		Kind:  domain.LatencyStep,
		Delta: time.Duration(ms) * time.Millisecond,
		At:    time.Now(),
	}
}

func TestRecorderWindowEviction(t *testing.T) {
	rec := NewRecorder(3, nil)

	for _, ms := range []int{10, 20, 30, 40, 50} {
		rec.Record(stepSample(ms))
	}

	samples := rec.Samples(domain.LatencyStep)
	require.Len(t, samples, 3)
	assert.Equal(t, 30*time.Millisecond, samples[0].Delta)
	assert.Equal(t, 50*time.Millisecond, samples[2].Delta)
}

func TestRecorderKindsAreIndependent(t *testing.T) {
	rec := NewRecorder(10, nil)

	rec.Record(stepSample(10))
	rec.Record(domain.LatencySample{Kind: domain.LatencyFill, Delta: 5 * time.Millisecond, At: time.Now()})

	assert.Len(t, rec.Samples(domain.LatencyStep), 1)
	assert.Len(t, rec.Samples(domain.LatencyFill), 1)
}

func TestRecorderStats(t *testing.T) {
	rec := NewRecorder(10, nil)

	assert.Equal(t, domain.LatencyStats{}, rec.Stats(domain.LatencyStep))

	for _, ms := range []int{30, 10, 20} {
		rec.Record(stepSample(ms))
	}

	stats := rec.Stats(domain.LatencyStep)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 10.0, stats.MinMS)
	assert.Equal(t, 30.0, stats.MaxMS)
	assert.Equal(t, 20.0, stats.MeanMS)
}

func TestRecorderOnSampleHook(t *testing.T) {
	var seen []domain.LatencySample
	rec := NewRecorder(10, func(s domain.LatencySample) { seen = append(seen, s) })

	rec.Record(stepSample(10))
	rec.Record(stepSample(20))

	require.Len(t, seen, 2)
	assert.Equal(t, domain.LatencyStep, seen[0].Kind)
	assert.Equal(t, 20*time.Millisecond, seen[1].Delta)
}
