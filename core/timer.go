package core

import "time"

// Pulse timing. Step pulses need microsecond holds; the OS sleep granularity
// is far coarser, so short holds spin on the monotonic clock and only long
// holds hand the thread back to the runtime.

const (
	// MinHoldUS is the minimum step-pin hold in either level.
	MinHoldUS = 2

	// spinLimitUS is the longest hold that is busy-waited.
	spinLimitUS = 2000
)

// Clock times the holds between step-pin transitions.
type Clock interface {
	// HoldMicros blocks the calling task for us microseconds.
	HoldMicros(us uint32)
}

// SpinClock is the hardware Clock: busy-waits short holds and sleeps long
// ones, leaving the final spinLimitUS of a long hold to the spin loop.
type SpinClock struct{}

// HoldMicros implements Clock.
func (SpinClock) HoldMicros(us uint32) {
	d := MicrosToDuration(us)
	deadline := time.Now().Add(d)
	if us > spinLimitUS {
		time.Sleep(d - spinLimitUS*time.Microsecond)
	}
	for time.Now().Before(deadline) {
	}
}

// MicrosToDuration converts a hold in microseconds to a time.Duration
func MicrosToDuration(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}
