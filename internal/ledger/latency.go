package ledger

import (
	"sync"

	"github.com/oskarw/simtrader/internal/domain"
)

// defaultWindow caps retained samples per kind when no window is given.
const defaultWindow = 10_000

// Recorder keeps bounded STEP and FILL latency sample sequences. Once a
// sequence reaches the retention window the oldest sample is dropped.
type Recorder struct {
	onSample func(domain.LatencySample)

	mu     sync.Mutex
	window int
	step   []domain.LatencySample
	fill   []domain.LatencySample
}

// NewRecorder returns a recorder retaining up to window samples per kind.
// onSample, if non-nil, is invoked for every recorded sample; it must not
// call back into the recorder.
func NewRecorder(window int, onSample func(domain.LatencySample)) *Recorder {
	if window <= 0 {
		window = defaultWindow
	}
	return &Recorder{window: window, onSample: onSample}
}

// Record appends one sample, evicting the oldest past the window.
func (r *Recorder) Record(s domain.LatencySample) {
	r.mu.Lock()
	buf := &r.step
	if s.Kind == domain.LatencyFill {
		buf = &r.fill
	}
	if len(*buf) >= r.window {
		copy(*buf, (*buf)[1:])
		(*buf)[len(*buf)-1] = s
	} else {
		*buf = append(*buf, s)
	}
	r.mu.Unlock()

	if r.onSample != nil {
		r.onSample(s)
	}
}

// Samples returns a copy of the retained samples for one kind, oldest
// first.
func (r *Recorder) Samples(kind domain.LatencyKind) []domain.LatencySample {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.step
	if kind == domain.LatencyFill {
		src = r.fill
	}
	out := make([]domain.LatencySample, len(src))
	copy(out, src)
	return out
}

// Stats summarizes the retained samples for one kind.
func (r *Recorder) Stats(kind domain.LatencyKind) domain.LatencyStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.step
	if kind == domain.LatencyFill {
		src = r.fill
	}
	if len(src) == 0 {
		return domain.LatencyStats{}
	}

	stats := domain.LatencyStats{Count: len(src)}
	var sum float64
	for i, s := range src {
		ms := s.Milliseconds()
		sum += ms
		if i == 0 || ms < stats.MinMS {
			stats.MinMS = ms
		}
		if ms > stats.MaxMS {
			stats.MaxMS = ms
		}
	}
	stats.MeanMS = sum / float64(len(src))
	return stats
}
