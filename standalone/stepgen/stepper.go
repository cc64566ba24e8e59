package stepgen

import (
	"fmt"
	"math"
	"sync/atomic"

	"resinctl/core"
	"resinctl/standalone"
	"resinctl/standalone/planner"
)

// YieldEvery is the number of steps between scheduler yields in a pulse
// train.
const YieldEvery = 100

// Stepper represents a single stepper motor
type Stepper struct {
	id     standalone.AxisID
	config standalone.AxisConfig

	gpio  core.GPIODriver
	clock core.Clock

	stepPin core.GPIOPin
	dirPin  core.GPIOPin
	enPin   core.GPIOPin

	stepsPerMM atomic.Uint64 // float64 bits
	position   atomic.Int64  // Current position in steps
	enabled    atomic.Bool
}

// NewStepper creates a new stepper motor controller. Pins are not touched
// until InitPins.
func NewStepper(id standalone.AxisID, config standalone.AxisConfig, gpio core.GPIODriver, clock core.Clock) *Stepper {
	s := &Stepper{
		id:      id,
		config:  config,
		gpio:    gpio,
		clock:   clock,
		stepPin: core.GPIOPin(config.StepPin),
		dirPin:  core.GPIOPin(config.DirPin),
		enPin:   core.NoPin,
	}
	if config.EnablePin != nil {
		s.enPin = core.GPIOPin(*config.EnablePin)
	}
	s.SetStepsPerMM(config.StepsPerMM)
	return s
}

// ID returns the axis this stepper drives
func (s *Stepper) ID() standalone.AxisID {
	return s.id
}

// InitPins configures the step, direction and enable outputs and leaves the
// driver disabled.
func (s *Stepper) InitPins() error {
	if err := s.gpio.ConfigureOutput(s.stepPin); err != nil {
		return fmt.Errorf("axis %s: step pin: %w", s.id, err)
	}
	if err := s.gpio.SetPin(s.stepPin, false); err != nil {
		return fmt.Errorf("axis %s: step pin: %w", s.id, err)
	}
	if err := s.gpio.ConfigureOutput(s.dirPin); err != nil {
		return fmt.Errorf("axis %s: dir pin: %w", s.id, err)
	}

	if s.enPin != core.NoPin {
		if err := s.gpio.ConfigureOutput(s.enPin); err != nil {
			return fmt.Errorf("axis %s: enable pin: %w", s.id, err)
		}
	}
	return s.Disable()
}

// HasEnable reports whether the driver has an enable line
func (s *Stepper) HasEnable() bool {
	return s.enPin != core.NoPin
}

// Enable enables the stepper motor
func (s *Stepper) Enable() error {
	if s.enPin == core.NoPin {
		s.enabled.Store(true)
		return nil
	}
	if err := s.gpio.SetPin(s.enPin, !s.config.InvertEnable); err != nil {
		return fmt.Errorf("axis %s: enable: %w", s.id, err)
	}
	s.enabled.Store(true)
	return nil
}

// Disable disables the stepper motor. Drivers without an enable line stay
// energized.
func (s *Stepper) Disable() error {
	if s.enPin == core.NoPin {
		return nil
	}
	if err := s.gpio.SetPin(s.enPin, s.config.InvertEnable); err != nil {
		return fmt.Errorf("axis %s: disable: %w", s.id, err)
	}
	s.enabled.Store(false)
	return nil
}

// Enabled reports the last commanded enable state
func (s *Stepper) Enabled() bool {
	return s.enabled.Load()
}

// SetStepsPerMM replaces the axis calibration
func (s *Stepper) SetStepsPerMM(spm float64) {
	s.stepsPerMM.Store(math.Float64bits(spm))
}

// StepsPerMM returns the axis calibration
func (s *Stepper) StepsPerMM() float64 {
	return math.Float64frombits(s.stepsPerMM.Load())
}

// Move plans and executes a relative move. The caller must hold the axis
// lock.
func (s *Stepper) Move(distanceMM, speedMMs, accelMMs2 float64) (planner.MotionPlan, error) {
	plan, err := planner.Plan(distanceMM, speedMMs, accelMMs2, s.StepsPerMM())
	if err != nil {
		return plan, fmt.Errorf("axis %s: %w", s.id, err)
	}
	return plan, s.Execute(plan)
}

// Execute emits the pulse train for plan. The caller must hold the axis
// lock. A GPIO failure aborts the train; steps already emitted stay
// counted in the position.
func (s *Stepper) Execute(plan planner.MotionPlan) error {
	if plan.IsNoOp() {
		return nil
	}

	if err := s.Enable(); err != nil {
		return err
	}

	forward := !plan.Reverse
	if s.config.InvertDir {
		forward = !forward
	}
	if err := s.gpio.SetPin(s.dirPin, forward); err != nil {
		return fmt.Errorf("axis %s: dir: %w", s.id, err)
	}

	var delta int64 = 1
	if plan.Reverse {
		delta = -1
	}

	for k := uint32(1); k <= plan.TotalSteps; k++ {
		if err := s.gpio.SetPin(s.stepPin, true); err != nil {
			return fmt.Errorf("axis %s: step %d: %w", s.id, k, err)
		}
		s.clock.HoldMicros(core.MinHoldUS)
		if err := s.gpio.SetPin(s.stepPin, false); err != nil {
			return fmt.Errorf("axis %s: step %d: %w", s.id, k, err)
		}
		s.position.Add(delta)
		s.clock.HoldMicros(max(core.MinHoldUS, plan.DelayMicros(k)))

		if k%YieldEvery == 0 {
			core.Yield()
		}
	}
	return nil
}

// GetPosition returns the current position in millimeters. Only meaningful
// while the calibration is unchanged since the position was accumulated.
func (s *Stepper) GetPosition() float64 {
	spm := s.StepsPerMM()
	if spm == 0 {
		return 0
	}
	return float64(s.position.Load()) / spm
}

// Steps returns the current position in steps
func (s *Stepper) Steps() int64 {
	return s.position.Load()
}
