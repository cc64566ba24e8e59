// Package dispatch executes protocol commands against the axis registry
// and the parameter store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"resinctl/protocol"
	"resinctl/standalone"
	"resinctl/standalone/config"
	"resinctl/standalone/kinematics"
	"resinctl/standalone/queue"
	"resinctl/standalone/stepgen"
)

const owner = "dispatch"

// Observer is notified after every dispatched command
type Observer interface {
	CommandHandled(keyword string, ok bool, took time.Duration)
}

type handler func(ctx context.Context, cmd protocol.Command) (string, error)

// Dispatcher executes one command line at a time and produces its response
type Dispatcher struct {
	registry *stepgen.Registry
	store    *config.Store
	kin      kinematics.Kinematics
	jogSpeed float64
	jogAccel float64
	observer Observer
	logger   *zap.Logger

	handlers map[string]handler
}

// New creates a dispatcher for machine
func New(registry *stepgen.Registry, store *config.Store, kin kinematics.Kinematics, machine *standalone.MachineConfig, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		store:    store,
		kin:      kin,
		jogSpeed: machine.JogSpeed,
		jogAccel: machine.JogAccel,
		logger:   logger.Named("dispatch"),
	}
	d.handlers = map[string]handler{
		protocol.CmdConfigAxis:      d.configAxis,
		protocol.CmdConfigZPeel:     d.configZPeel,
		protocol.CmdConfigAWipe:     d.configAWipe,
		protocol.CmdConfigBLevel:    d.configBLevel,
		protocol.CmdNextLayer:       d.nextLayer,
		protocol.CmdMoveRel:         d.moveRel,
		protocol.CmdEnableLevelComp: d.enableLevelComp,
		protocol.CmdConfig:          d.legacyConfig,
	}
	return d
}

// SetObserver installs the command observer. Call before use.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Run consumes the queue until ctx ends. Each response goes to the entry's
// sink; a failing sink is logged and does not stop the loop.
func (d *Dispatcher) Run(ctx context.Context, q *queue.Queue) error {
	for {
		entry, err := q.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		resp := d.Dispatch(ctx, entry.Text)
		if entry.Sink == nil {
			continue
		}
		if err := entry.Sink.Send(resp); err != nil {
			d.logger.Warn("response not delivered",
				zap.String("command", entry.Text),
				zap.String("response", resp),
				zap.Error(err))
		}
	}
}

// Dispatch executes one command line and returns the response line. It
// never panics; a failing handler yields an error response.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (resp string) {
	cmd := protocol.ParseLine(line)
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &protocol.ProcessingError{Keyword: cmd.Keyword, Err: fmt.Errorf("panic: %v", r)}
			resp = protocol.ErrorResponse(err)
			d.logger.Error("command panicked", zap.String("command", line), zap.Any("panic", r))
		}
		d.finish(cmd.Keyword, line, resp, err, time.Since(start))
	}()

	h, ok := d.handlers[cmd.Keyword]
	if !ok {
		err = fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, cmd.Keyword)
		return protocol.ErrorResponse(err)
	}

	resp, err = h(ctx, cmd)
	if err != nil {
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			err = &protocol.ProcessingError{Keyword: cmd.Keyword, Err: err}
		}
		return protocol.ErrorResponse(err)
	}
	return resp
}

func (d *Dispatcher) finish(keyword, line, resp string, err error, took time.Duration) {
	if _, known := d.handlers[keyword]; !known {
		keyword = "UNKNOWN"
	}
	if d.observer != nil {
		d.observer.CommandHandled(keyword, err == nil, took)
	}
	if err != nil {
		d.logger.Warn("command failed",
			zap.String("command", line),
			zap.String("response", resp),
			zap.Error(err))
		return
	}
	d.logger.Debug("command done",
		zap.String("command", line),
		zap.String("response", resp),
		zap.Duration("took", took))
}

// CONFIG_AXIS,<axis>,<pulses_per_rev>,<lead_mm>
func (d *Dispatcher) configAxis(ctx context.Context, cmd protocol.Command) (string, error) {
	if err := cmd.Expect(3); err != nil {
		return "", err
	}
	id := cmd.Axis(0)
	if !d.registry.Has(id) {
		return "", fmt.Errorf("%w: %q", protocol.ErrUnknownAxis, cmd.Args[0])
	}
	ppr, err := cmd.Float(1)
	if err != nil {
		return "", err
	}
	lead, err := cmd.Float(2)
	if err != nil {
		return "", err
	}
	if lead <= 0 {
		return "", fmt.Errorf("lead must be positive, got %g", lead)
	}
	if ppr < 0 {
		return "", fmt.Errorf("pulses per revolution must not be negative, got %g", ppr)
	}
	spm := ppr / lead
	if math.IsInf(spm, 0) || math.IsNaN(spm) {
		return "", fmt.Errorf("steps per mm out of range: %g/%g", ppr, lead)
	}

	err = d.registry.WithAxis(ctx, id, owner, func(s *stepgen.Stepper) error {
		s.SetStepsPerMM(spm)
		return nil
	})
	if err != nil {
		return "", err
	}
	d.logger.Info("axis configured", zap.String("axis", string(id)), zap.Float64("steps_per_mm", spm))
	return protocol.AxisConfigured(string(id)), nil
}

// CONFIG_Z_PEEL,<lift>,<return>,<speed_down>,<speed_up>
func (d *Dispatcher) configZPeel(_ context.Context, cmd protocol.Command) (string, error) {
	v, err := fixed(cmd, 4)
	if err != nil {
		return "", err
	}
	if err := checkDistances(v[0], v[1]); err != nil {
		return "", err
	}
	if err := checkSpeeds(v[2], v[3]); err != nil {
		return "", err
	}
	err = d.store.Update(func(p *standalone.Params) error {
		p.PeelLift, p.PeelReturn, p.ZSpeedDown, p.ZSpeedUp = v[0], v[1], v[2], v[3]
		return nil
	})
	if err != nil {
		return "", err
	}
	return protocol.RespZPeelConfigured, nil
}

// CONFIG_A_WIPE,<wipe_dist>,<fast>,<slow>
func (d *Dispatcher) configAWipe(_ context.Context, cmd protocol.Command) (string, error) {
	v, err := fixed(cmd, 3)
	if err != nil {
		return "", err
	}
	if err := checkDistances(v[0]); err != nil {
		return "", err
	}
	if err := checkSpeeds(v[1], v[2]); err != nil {
		return "", err
	}
	err = d.store.Update(func(p *standalone.Params) error {
		p.WipeDist, p.WipeFast, p.WipeSlow = v[0], v[1], v[2]
		return nil
	})
	if err != nil {
		return "", err
	}
	return protocol.RespAWipeConfigured, nil
}

// CONFIG_B_LEVEL,<speed_down>,<speed_up>
func (d *Dispatcher) configBLevel(_ context.Context, cmd protocol.Command) (string, error) {
	v, err := fixed(cmd, 2)
	if err != nil {
		return "", err
	}
	if err := checkSpeeds(v[0], v[1]); err != nil {
		return "", err
	}
	err = d.store.Update(func(p *standalone.Params) error {
		p.BSpeedDown, p.BSpeedUp = v[0], v[1]
		return nil
	})
	if err != nil {
		return "", err
	}
	return protocol.RespBLevelConfigured, nil
}

// CONFIG,<lift>,<return>
func (d *Dispatcher) legacyConfig(_ context.Context, cmd protocol.Command) (string, error) {
	v, err := fixed(cmd, 2)
	if err != nil {
		return "", err
	}
	if err := checkDistances(v[0], v[1]); err != nil {
		return "", err
	}
	err = d.store.Update(func(p *standalone.Params) error {
		p.PeelLift, p.PeelReturn = v[0], v[1]
		return nil
	})
	if err != nil {
		return "", err
	}
	return protocol.RespConfigReceived, nil
}

// ENABLE_LEVEL_COMP,<0|1>
func (d *Dispatcher) enableLevelComp(_ context.Context, cmd protocol.Command) (string, error) {
	if err := cmd.Expect(1); err != nil {
		return "", err
	}
	on, err := cmd.Flag(0)
	if err != nil {
		return "", err
	}
	err = d.store.Update(func(p *standalone.Params) error {
		p.LevelComp = on
		return nil
	})
	if err != nil {
		return "", err
	}
	d.logger.Info("level compensation toggled", zap.Bool("enabled", on))
	if on {
		return protocol.RespLevelCompOn, nil
	}
	return protocol.RespLevelCompOff, nil
}

// MOVE_REL,<axis>,<distance>,<speed>,<accel> or the single-axis
// MOVE_REL,<distance> jog on the lift axis.
func (d *Dispatcher) moveRel(ctx context.Context, cmd protocol.Command) (string, error) {
	var (
		id                 standalone.AxisID
		dist, speed, accel float64
		err                error
	)

	switch len(cmd.Args) {
	case 1:
		id = d.kin.LiftAxis()
		if dist, err = cmd.Float(0); err != nil {
			return "", err
		}
		speed, accel = d.jogSpeed, d.jogAccel
	case 4:
		id = cmd.Axis(0)
		if !d.registry.Has(id) {
			return "", fmt.Errorf("%w: %q", protocol.ErrUnknownAxis, cmd.Args[0])
		}
		v, err := cmd.Floats(1)
		if err != nil {
			return "", err
		}
		dist, speed, accel = v[0], v[1], v[2]
	default:
		return "", cmd.Expect(4)
	}

	err = d.registry.WithAxis(ctx, id, owner, func(s *stepgen.Stepper) error {
		_, err := s.Move(dist, speed, accel)
		return err
	})
	if err != nil {
		return "", err
	}
	return protocol.RespDone, nil
}

// NEXT_LAYER runs the peel sequence with the lift and wipe axes held for
// the whole sequence.
func (d *Dispatcher) nextLayer(ctx context.Context, cmd protocol.Command) (string, error) {
	if err := cmd.Expect(0); err != nil {
		return "", err
	}
	p := d.store.Get()

	lift := d.kin.LiftAxis()
	wipe, hasWipe := d.kin.WipeAxis()

	type move struct {
		axis               standalone.AxisID
		dist, speed, accel float64
	}
	moves := []move{
		{lift, -p.PeelLift, p.ZSpeedDown, 2 * p.ZSpeedDown},
		{wipe, p.WipeDist, p.WipeFast, 2 * p.WipeFast},
		{lift, p.PeelReturn, p.ZSpeedUp, 2 * p.ZSpeedUp},
		{wipe, -p.WipeDist, p.WipeSlow, 2 * p.WipeSlow},
	}
	axes := []standalone.AxisID{lift}
	if hasWipe {
		axes = append(axes, wipe)
	}

	err := d.registry.WithAxes(ctx, axes, owner, func(held map[standalone.AxisID]*stepgen.Stepper) error {
		for i, m := range moves {
			s, ok := held[m.axis]
			if !ok {
				continue
			}
			if _, err := s.Move(m.dist, m.speed, m.accel); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return protocol.RespDone, nil
}

func fixed(cmd protocol.Command, n int) ([]float64, error) {
	if err := cmd.Expect(n); err != nil {
		return nil, err
	}
	return cmd.Floats(0)
}

func checkSpeeds(vals ...float64) error {
	for _, v := range vals {
		if v <= 0 {
			return fmt.Errorf("speed must be positive, got %g", v)
		}
	}
	return nil
}

func checkDistances(vals ...float64) error {
	for _, v := range vals {
		if v < 0 {
			return fmt.Errorf("distance must not be negative, got %g", v)
		}
	}
	return nil
}
