// Package level runs the closed-loop resin-level compensation task.
package level

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"resinctl/core"
	"resinctl/standalone"
	"resinctl/standalone/config"
	"resinctl/standalone/stepgen"
)

const (
	// Period is the fixed compensation interval
	Period = 1000 * time.Millisecond

	// StepMM is the trim applied per correction
	StepMM = 0.05

	owner = "level"
)

// Outcome is the result of one tick
type Outcome string

const (
	OutcomeDisabled    Outcome = "disabled"
	OutcomeInBand      Outcome = "in_band"
	OutcomeRaised      Outcome = "raised"  // reading above high: moved up
	OutcomeLowered     Outcome = "lowered" // reading below low: moved down
	OutcomeBusy        Outcome = "busy"
	OutcomeSensorError Outcome = "sensor_error"
	OutcomeMoveError   Outcome = "move_error"
)

// Observer is notified after every tick
type Observer interface {
	LevelTick(reading core.LevelReading, outcome Outcome)
}

// Compensator trims the level axis to keep the sensor reading inside the
// configured band. It never waits for the axis: a tick that finds the axis
// held by a command is skipped.
type Compensator struct {
	registry *stepgen.Registry
	store    *config.Store
	sensor   core.LevelSensor
	axis     standalone.AxisID
	observer Observer
	logger   *zap.Logger
}

// New creates a compensator driving axis from sensor
func New(registry *stepgen.Registry, store *config.Store, sensor core.LevelSensor, axis standalone.AxisID, logger *zap.Logger) *Compensator {
	return &Compensator{
		registry: registry,
		store:    store,
		sensor:   sensor,
		axis:     axis,
		logger:   logger.Named("level"),
	}
}

// SetObserver installs the tick observer. Call before Run.
func (c *Compensator) SetObserver(o Observer) {
	c.observer = o
}

// Run ticks every Period until ctx ends
func (c *Compensator) Run(ctx context.Context) error {
	c.logger.Info("level compensation task started",
		zap.String("axis", string(c.axis)),
		zap.Duration("period", Period))

	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick performs one compensation step
func (c *Compensator) Tick(ctx context.Context) Outcome {
	reading, outcome := c.tick()
	if c.observer != nil {
		c.observer.LevelTick(reading, outcome)
	}
	return outcome
}

func (c *Compensator) tick() (core.LevelReading, Outcome) {
	p := c.store.Get()
	if !p.LevelComp {
		return 0, OutcomeDisabled
	}

	reading, err := c.sensor.ReadLevel()
	if err != nil {
		c.logger.Warn("level sensor read failed", zap.Error(err))
		return 0, OutcomeSensorError
	}

	var dist, speed float64
	var outcome Outcome
	switch {
	case reading < core.LevelReading(p.LevelLow):
		dist, speed, outcome = -StepMM, p.BSpeedDown, OutcomeLowered
	case reading > core.LevelReading(p.LevelHigh):
		dist, speed, outcome = StepMM, p.BSpeedUp, OutcomeRaised
	default:
		return reading, OutcomeInBand
	}

	err = c.registry.TryWithAxis(c.axis, owner, func(s *stepgen.Stepper) error {
		_, err := s.Move(dist, speed, 2*speed)
		return err
	})
	if errors.Is(err, stepgen.ErrAxisBusy) {
		c.logger.Debug("level axis busy, skipping tick", zap.Uint16("reading", uint16(reading)))
		return reading, OutcomeBusy
	}
	if err != nil {
		c.logger.Error("level correction failed", zap.Uint16("reading", uint16(reading)), zap.Error(err))
		return reading, OutcomeMoveError
	}

	c.logger.Debug("level corrected",
		zap.Uint16("reading", uint16(reading)),
		zap.Float64("distance", dist))
	return reading, outcome
}
