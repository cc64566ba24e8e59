package sim

import "sync/atomic"

// InstantClock is a core.Clock that never blocks. It accumulates the
// requested hold time so tests can check the simulated duration of a move.
type InstantClock struct {
	total atomic.Uint64
}

// HoldMicros implements core.Clock
func (c *InstantClock) HoldMicros(us uint32) {
	c.total.Add(uint64(us))
}

// Elapsed returns the simulated time in microseconds
func (c *InstantClock) Elapsed() uint64 {
	return c.total.Load()
}
