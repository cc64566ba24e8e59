// Command resinctld is the resin printer motion controller daemon. It
// drives the step/dir/enable outputs of a Linux board (or a simulation),
// serves the line protocol on TCP, WebSocket and an optional serial
// console, and runs the resin-level compensation loop.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"periph.io/x/host/v3"

	"resinctl/core"
	hostserial "resinctl/host/serial"
	"resinctl/protocol"
	"resinctl/standalone/config"
	"resinctl/standalone/manager"
	"resinctl/targets/sim"
)

const (
	backendSim    = "sim"
	backendPeriph = "periph"

	shutdownTimeout = 10 * time.Second
)

var (
	envFile     string
	listenAddr  string
	httpAddr    string
	machinePath string
	backend     string
	serialDev   string
	serialBaud  int
	i2cBus      string
	lockTimeout time.Duration
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:     "resinctld",
	Short:   "resinctld drives the steppers of a resin printer",
	Version: protocol.Version,
	Long: `resinctld accepts line-protocol commands on TCP (default :8899),
WebSocket (/ws on the HTTP listener) and an optional serial console, and
executes them one at a time. Settings come from the environment (RESINCTL_*,
optionally from a .env file) and are overridden by flags.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&envFile, "env-file", ".env", "environment file to load")
	f.StringVarP(&listenAddr, "listen", "l", "", "TCP command listener address")
	f.StringVar(&httpAddr, "http", "", "metrics and websocket listener address, empty disables")
	f.StringVarP(&machinePath, "machine", "m", "", "machine config file or built-in variant (4-axis, z-only)")
	f.StringVarP(&backend, "backend", "b", "", "hardware backend: sim or periph")
	f.StringVarP(&serialDev, "serial", "s", "", "serial console device")
	f.IntVar(&serialBaud, "baud", 0, "serial console baud rate")
	f.StringVar(&i2cBus, "i2c-bus", "", "I2C bus for the level sensor")
	f.DurationVar(&lockTimeout, "lock-timeout", 0, "bounded wait for an axis lock")
	f.BoolVarP(&debug, "debug", "d", false, "development logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// settings merges the environment with the flags that were given
func settings(cmd *cobra.Command) (config.Settings, error) {
	s, err := config.LoadSettings(envFile)
	if err != nil {
		return s, err
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		s.Listen = listenAddr
	}
	if f.Changed("http") {
		s.HTTP = httpAddr
	}
	if f.Changed("machine") {
		s.Machine = machinePath
	}
	if f.Changed("backend") {
		s.Backend = backend
	}
	if f.Changed("serial") {
		s.Serial = serialDev
	}
	if f.Changed("baud") {
		s.SerialBaud = serialBaud
	}
	if f.Changed("i2c-bus") {
		s.I2CBus = i2cBus
	}
	if f.Changed("lock-timeout") {
		s.LockTimeout = lockTimeout
	}
	if f.Changed("debug") {
		s.Debug = debug
	}

	if s.Backend != backendSim && s.Backend != backendPeriph {
		return s, fmt.Errorf("unknown backend %q", s.Backend)
	}
	return s, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cmd *cobra.Command, _ []string) error {
	s, err := settings(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(s.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	machine, err := s.LoadMachine()
	if err != nil {
		return fmt.Errorf("load machine config: %w", err)
	}

	opts := manager.Options{
		Machine:  machine,
		Settings: s,
		Clock:    core.SpinClock{},
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	switch s.Backend {
	case backendPeriph:
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("periph host init: %w", err)
		}
		opts.GPIO = NewPeriphGPIODriver()
	default:
		opts.GPIO = sim.NewRecorder(false)
	}

	sensor, bus, err := openSensor(s.Backend, machine.Sensor, s.I2CBus)
	if err != nil {
		return fmt.Errorf("level sensor: %w", err)
	}
	if sensor != nil {
		opts.Sensor = sensor
	}
	if bus != nil {
		closers = append(closers, bus)
	}

	if s.Serial != "" {
		cfg := hostserial.DefaultConfig(s.Serial)
		cfg.Baud = s.SerialBaud
		port, err := hostserial.Open(cfg)
		if err != nil {
			return err
		}
		opts.SerialPort = port
	}

	logger.Info("starting resinctld",
		zap.String("version", protocol.Version),
		zap.String("backend", s.Backend),
		zap.String("variant", machine.Variant),
		zap.String("sensor", machine.Sensor.Kind))

	m, err := manager.NewManager(opts, logger)
	if err != nil {
		return err
	}
	if err := m.Initialize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := m.Run(ctx)
	if err := m.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("drivers not disabled cleanly", zap.Error(err))
	}
	return runErr
}
