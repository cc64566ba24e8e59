package planner

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMove is returned for moves that cannot be planned (non-finite
// inputs or a non-positive speed).
var ErrInvalidMove = errors.New("invalid move")

const (
	// MaxDelayUS is the per-step delay used at zero speed
	MaxDelayUS = 1_000_000
)

// MotionPlan is the trapezoidal step plan for one move. It is recomputed
// for every move and never stored.
type MotionPlan struct {
	TotalSteps     uint32  // Steps in the whole move
	AccelSteps     uint32  // Steps in the ramp-up (and ramp-down) phase
	DecelStartStep uint32  // Last cruise step; ramp-down follows
	MaxSpeed       float64 // Cruise speed (steps/s)
	Reverse        bool    // Direction: true for negative distances
}

// IsNoOp reports whether the plan emits no pulses.
func (p MotionPlan) IsNoOp() bool {
	return p.TotalSteps == 0
}

// Plan calculates the trapezoidal velocity profile for a relative move of
// distanceMM at speedMMs with accelMMs2, on an axis calibrated at
// stepsPerMM. A zero calibration or a move shorter than one step yields a
// NoOp plan.
//
// A move that emits steps with a speed of zero or less is rejected with
// ErrInvalidMove rather than run at the MaxDelayUS per-step floor.
func Plan(distanceMM, speedMMs, accelMMs2, stepsPerMM float64) (MotionPlan, error) {
	if stepsPerMM == 0 {
		return MotionPlan{}, nil
	}
	if !finite(distanceMM, speedMMs, accelMMs2, stepsPerMM) {
		return MotionPlan{}, fmt.Errorf("%w: non-finite parameter", ErrInvalidMove)
	}
	if stepsPerMM < 0 {
		return MotionPlan{}, fmt.Errorf("%w: negative steps per mm %g", ErrInvalidMove, stepsPerMM)
	}

	steps := math.Round(math.Abs(distanceMM) * stepsPerMM)
	if steps > math.MaxUint32 {
		return MotionPlan{}, fmt.Errorf("%w: %g mm exceeds step counter", ErrInvalidMove, distanceMM)
	}
	total := uint32(steps)
	if total == 0 {
		return MotionPlan{}, nil
	}
	if speedMMs <= 0 {
		return MotionPlan{}, fmt.Errorf("%w: speed must be positive, got %g", ErrInvalidMove, speedMMs)
	}

	maxSpeed := speedMMs * stepsPerMM
	accel := accelMMs2 * stepsPerMM

	// Ramp length, compared as float so a tiny acceleration cannot overflow
	// the step counter before the clamp applies.
	ramp := 0.0
	if accel > 0 {
		ramp = math.Floor(0.5 * maxSpeed * maxSpeed / accel)
	}

	var accelSteps uint32
	if float64(total) <= 2*ramp {
		accelSteps = total / 2
	} else {
		accelSteps = uint32(ramp)
	}

	return MotionPlan{
		TotalSteps:     total,
		AccelSteps:     accelSteps,
		DecelStartStep: total - accelSteps,
		MaxSpeed:       maxSpeed,
		Reverse:        distanceMM < 0,
	}, nil
}

// SpeedAt returns the commanded speed (steps/s) for 1-based step k.
func (p MotionPlan) SpeedAt(k uint32) float64 {
	if p.AccelSteps == 0 {
		return p.MaxSpeed
	}
	slope := p.MaxSpeed / float64(p.AccelSteps)
	switch {
	case k <= p.AccelSteps:
		return slope * float64(k)
	case k > p.DecelStartStep:
		return p.MaxSpeed - slope*float64(k-p.DecelStartStep)
	default:
		return p.MaxSpeed
	}
}

// DelayMicros returns the low-level hold after the pulse of 1-based step k.
func (p MotionPlan) DelayMicros(k uint32) uint32 {
	speed := p.SpeedAt(k)
	if speed <= 0 {
		return MaxDelayUS
	}
	d := math.Floor(1_000_000 / speed)
	if d > MaxDelayUS {
		return MaxDelayUS
	}
	return uint32(d)
}

// Duration estimates the pulse-train length in microseconds, pulse highs
// included.
func (p MotionPlan) Duration() uint64 {
	var us uint64
	for k := uint32(1); k <= p.TotalSteps; k++ {
		us += 2 + uint64(max(2, p.DelayMicros(k)))
	}
	return us
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
