// Package manager assembles the controller from its parts and runs the
// long-lived tasks.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"resinctl/core"
	"resinctl/metrics"
	"resinctl/standalone"
	"resinctl/standalone/config"
	"resinctl/standalone/dispatch"
	"resinctl/standalone/kinematics"
	"resinctl/standalone/level"
	"resinctl/standalone/queue"
	"resinctl/standalone/server"
	"resinctl/standalone/stepgen"
)

// Options are the collaborators and settings of a controller
type Options struct {
	Machine  *standalone.MachineConfig
	Settings config.Settings

	GPIO   core.GPIODriver
	Clock  core.Clock
	Sensor core.LevelSensor // nil: no level compensation

	// Serial console port, already opened; nil disables the console
	SerialPort io.ReadWriteCloser

	// Metrics registry; nil creates a private one
	Registry *prometheus.Registry
}

// Manager coordinates all controller components
type Manager struct {
	machine  *standalone.MachineConfig
	settings config.Settings
	kin      kinematics.Kinematics

	registry    *stepgen.Registry
	store       *config.Store
	queue       *queue.Queue
	dispatcher  *dispatch.Dispatcher
	compensator *level.Compensator
	metrics     *metrics.Metrics
	promReg     *prometheus.Registry

	tcp     *server.TCP
	http    *server.HTTP
	console *server.Serial

	logger *zap.Logger

	// Status
	initialized bool
	running     bool
	mu          sync.Mutex
}

// NewManager creates a manager for opts. Nothing touches hardware or the
// network until Initialize.
func NewManager(opts Options, logger *zap.Logger) (*Manager, error) {
	if opts.Machine == nil {
		return nil, errors.New("manager: no machine config")
	}
	if opts.GPIO == nil || opts.Clock == nil {
		return nil, errors.New("manager: GPIO driver and clock are required")
	}
	if err := opts.Machine.Validate(); err != nil {
		return nil, err
	}

	kin, err := kinematics.New(opts.Machine)
	if err != nil {
		return nil, err
	}

	promReg := opts.Registry
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}

	m := &Manager{
		machine:  opts.Machine,
		settings: opts.Settings,
		kin:      kin,
		store:    config.NewStore(config.Params(opts.Machine)),
		queue:    queue.New(),
		metrics:  metrics.New(promReg),
		promReg:  promReg,
		logger:   logger,
	}

	var steppers []*stepgen.Stepper
	for _, id := range kin.GetAxisNames() {
		steppers = append(steppers, stepgen.NewStepper(id, opts.Machine.Axes[id], opts.GPIO, opts.Clock))
	}
	m.registry = stepgen.NewRegistry(steppers, opts.Settings.LockTimeout, logger)
	m.registry.SetObserver(m.metrics)
	m.metrics.WatchAxes(m.registry)

	m.queue.OnDepth(m.metrics.SetQueueDepth)

	m.dispatcher = dispatch.New(m.registry, m.store, kin, opts.Machine, logger)
	m.dispatcher.SetObserver(m.metrics)

	if axis, ok := kin.LevelAxis(); ok && opts.Sensor != nil {
		m.compensator = level.New(m.registry, m.store, opts.Sensor, axis, logger)
		m.compensator.SetObserver(m.metrics)
	} else {
		logger.Info("level compensation unavailable",
			zap.Bool("level_axis", ok),
			zap.Bool("sensor", opts.Sensor != nil))
	}

	if opts.Settings.Listen != "" {
		m.tcp = server.NewTCP(opts.Settings.Listen, m.queue, logger)
		m.tcp.SetObserver(m.metrics)
	}
	if opts.Settings.HTTP != "" {
		ws := server.NewWS(m.queue, logger)
		ws.SetObserver(m.metrics)
		m.http = server.NewHTTP(opts.Settings.HTTP, promReg, ws, logger)
	}
	if opts.SerialPort != nil {
		m.console = server.NewSerial(opts.SerialPort, opts.Settings.Serial, m.queue, logger)
	}

	return m, nil
}

// Initialize configures the step outputs (drivers left disabled) and binds
// the listeners.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return errors.New("already initialized")
	}

	if err := m.registry.InitPins(); err != nil {
		return fmt.Errorf("init pins: %w", err)
	}
	if m.tcp != nil {
		if err := m.tcp.Listen(); err != nil {
			return fmt.Errorf("listen %s: %w", m.settings.Listen, err)
		}
	}
	if m.http != nil {
		if err := m.http.Listen(); err != nil {
			return fmt.Errorf("listen %s: %w", m.settings.HTTP, err)
		}
	}

	m.initialized = true
	m.logger.Info("controller initialized",
		zap.String("variant", m.machine.Variant),
		zap.Int("axes", len(m.registry.Axes())))
	return nil
}

// Run starts the dispatcher, the level compensator and the transports and
// blocks until ctx ends or one of them fails. A move in progress always
// completes before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return errors.New("manager not initialized")
	}
	if m.running {
		m.mu.Unlock()
		return errors.New("already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 5)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				m.logger.Error("task failed", zap.String("task", name), zap.Error(err))
				errc <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("dispatch", func(ctx context.Context) error { return m.dispatcher.Run(ctx, m.queue) })
	if m.compensator != nil {
		start("level", m.compensator.Run)
	}
	if m.tcp != nil {
		start("tcp", m.tcp.Serve)
	}
	if m.http != nil {
		start("http", m.http.Run)
	}
	if m.console != nil {
		start("serial", m.console.Run)
	}

	m.logger.Info("controller running")
	wg.Wait()
	close(errc)

	var errs []error
	for err := range errc {
		errs = append(errs, err)
	}
	m.logger.Info("controller stopped")
	return errors.Join(errs...)
}

// Dispatch executes one command line synchronously, bypassing the queue.
func (m *Manager) Dispatch(ctx context.Context, line string) string {
	return m.dispatcher.Dispatch(ctx, line)
}

// Submit enqueues a command line; the response is delivered to sink
func (m *Manager) Submit(line string, sink queue.Sink) {
	m.queue.Put(queue.Entry{Text: line, Sink: sink})
}

// Params returns the current parameter snapshot
func (m *Manager) Params() standalone.Params {
	return m.store.Get()
}

// Position returns an axis position in millimeters
func (m *Manager) Position(id standalone.AxisID) (float64, bool) {
	s, ok := m.registry.Stepper(id)
	if !ok {
		return 0, false
	}
	return s.GetPosition(), true
}

// LevelTick runs one compensation step outside the periodic schedule
func (m *Manager) LevelTick(ctx context.Context) (level.Outcome, bool) {
	if m.compensator == nil {
		return "", false
	}
	return m.compensator.Tick(ctx), true
}

// TCPAddr returns the bound command address, nil if disabled
func (m *Manager) TCPAddr() net.Addr {
	if m.tcp == nil {
		return nil
	}
	return m.tcp.Addr()
}

// HTTPAddr returns the bound HTTP address, nil if disabled
func (m *Manager) HTTPAddr() net.Addr {
	if m.http == nil {
		return nil
	}
	return m.http.Addr()
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Shutdown waits for the axes to go idle, then disables the drivers that
// have an enable line.
func (m *Manager) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.registry.WithAxes(ctx, m.registry.Axes(), "shutdown", func(held map[standalone.AxisID]*stepgen.Stepper) error {
		var errs []error
		for _, s := range held {
			errs = append(errs, s.Disable())
		}
		return errors.Join(errs...)
	})
}
