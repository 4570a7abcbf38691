package exchange

import "sync/atomic"

// State is the lifecycle state of a streaming channel. Channels are
// fail-stop: once CLOSED or FAILED they never reopen.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// channelState is an atomic holder for a channel's State.
type channelState struct {
	v atomic.Int32
}

func (c *channelState) set(s State) {
	c.v.Store(int32(s))
}

func (c *channelState) get() State {
	return State(c.v.Load())
}

// transition swaps from→to only when the current state matches from, and
// reports whether the swap happened. Keeps FAILED from being overwritten by
// a later Close and vice versa.
func (c *channelState) transition(from, to State) bool {
	return c.v.CompareAndSwap(int32(from), int32(to))
}
