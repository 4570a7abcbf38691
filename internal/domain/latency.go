package domain

import "time"

// LatencyKind distinguishes the two sampled intervals: STEP is the delta
// between a DONE send and the next tick arrival, FILL is the delta between
// an order send and its first fill.
type LatencyKind string

const (
	LatencyStep LatencyKind = "STEP"
	LatencyFill LatencyKind = "FILL"
)

// LatencySample is one observed interval.
type LatencySample struct {
	Kind  LatencyKind
	Delta time.Duration
	At    time.Time
}

// Milliseconds returns the sample delta as fractional milliseconds.
func (s LatencySample) Milliseconds() float64 {
	return float64(s.Delta) / float64(time.Millisecond)
}

// LatencyStats summarizes one sample sequence.
type LatencyStats struct {
	Count  int     `json:"count"`
	MinMS  float64 `json:"min_ms"`
	MaxMS  float64 `json:"max_ms"`
	MeanMS float64 `json:"mean_ms"`
}
