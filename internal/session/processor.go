// Package session owns one exchange run end to end: registration, channel
// lifecycles, the tick processing pipeline, step pacing, and the session
// event fan-out.
package session

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/oskarw/simtrader/internal/domain"
)

// Processor decides which incoming snapshots are worth processing. In
// changed-only mode a snapshot is admitted only when its structural
// fingerprint differs from the previously accepted one; every-tick mode
// admits unconditionally. The fingerprint covers the step, the top-depth
// levels of both sides, the flattened best quotes, and the last trade, so
// only a true duplicate delivery collides.
type Processor struct {
	changedOnly bool
	depth       int

	mu         sync.Mutex
	last       uint64
	primed     bool
	seen       int64
	suppressed int64
}

// NewProcessor returns a processor admitting either every tick or only
// changed ones, fingerprinting up to depth levels per side.
func NewProcessor(changedOnly bool, depth int) *Processor {
	if depth <= 0 {
		depth = 10
	}
	return &Processor{changedOnly: changedOnly, depth: depth}
}

// Admit reports whether the snapshot should be processed. The fingerprint
// is updated either way.
func (p *Processor) Admit(snap domain.MarketSnapshot) bool {
	fp := fingerprint(snap, p.depth)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen++
	duplicate := p.primed && fp == p.last
	p.last = fp
	p.primed = true

	if p.changedOnly && duplicate {
		p.suppressed++
		return false
	}
	return true
}

// Seen returns the number of snapshots observed.
func (p *Processor) Seen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

// Suppressed returns the number of snapshots dropped as duplicates.
func (p *Processor) Suppressed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suppressed
}

// fingerprint hashes the structural content of a snapshot with FNV-1a.
func fingerprint(snap domain.MarketSnapshot, depth int) uint64 {
	h := fnv.New64a()
	var buf [8]byte

	word := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	levels := func(side []domain.PriceLevel) {
		n := len(side)
		if n > depth {
			n = depth
		}
		word(uint64(n))
		for _, l := range side[:n] {
			word(math.Float64bits(l.Price))
			word(uint64(l.Qty))
		}
	}

	word(uint64(snap.Step))
	levels(snap.Bids)
	levels(snap.Asks)
	word(math.Float64bits(snap.BestBid))
	word(math.Float64bits(snap.BestAsk))
	word(math.Float64bits(snap.LastTrade))
	return h.Sum64()
}
