package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oskarw/simtrader/internal/domain"
	"github.com/oskarw/simtrader/internal/ledger"
)

// Pacer sends the step-advance signal, exactly once per processed tick and
// only after that tick's order dispatch finished. It also samples STEP
// latency: the interval between a DONE send and the next tick arrival. The
// first tick after connecting has no preceding DONE and records nothing.
type Pacer struct {
	logger  *slog.Logger
	auto    bool
	latency *ledger.Recorder
	send    func() error

	mu       sync.Mutex
	sentAt   time.Time
	awaiting bool
	advances int64
}

// NewPacer returns a pacer sending DONE through send. With auto false,
// Advance becomes a no-op and ticks are only acknowledged manually.
func NewPacer(auto bool, latency *ledger.Recorder, send func() error, logger *slog.Logger) *Pacer {
	return &Pacer{
		logger:  logger.With(slog.String("component", "pacer")),
		auto:    auto,
		latency: latency,
		send:    send,
	}
}

// ObserveTick records the arrival of a tick, sampling STEP latency when a
// DONE send is outstanding.
func (p *Pacer) ObserveTick(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.awaiting {
		return
	}
	p.awaiting = false
	p.latency.Record(domain.LatencySample{
		Kind:  domain.LatencyStep,
		Delta: at.Sub(p.sentAt),
		At:    at,
	})
}

// Advance sends DONE for the current tick when auto pacing is on.
func (p *Pacer) Advance() error {
	if !p.auto {
		return nil
	}
	return p.advance()
}

// AdvanceManual sends DONE regardless of the auto gate. It backs the
// operator-driven advance used when auto pacing is disabled.
func (p *Pacer) AdvanceManual() error {
	return p.advance()
}

func (p *Pacer) advance() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.send(); err != nil {
		p.logger.Warn("step advance failed", slog.String("error", err.Error()))
		return err
	}
	p.sentAt = time.Now()
	p.awaiting = true
	p.advances++
	return nil
}

// Advances returns the number of DONE signals sent.
func (p *Pacer) Advances() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advances
}
