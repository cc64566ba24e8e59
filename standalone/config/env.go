package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"resinctl/standalone"
)

// Environment variable names
const (
	EnvListen      = "RESINCTL_LISTEN"
	EnvHTTP        = "RESINCTL_HTTP"
	EnvMachine     = "RESINCTL_MACHINE"
	EnvBackend     = "RESINCTL_BACKEND"
	EnvSerial      = "RESINCTL_SERIAL"
	EnvSerialBaud  = "RESINCTL_SERIAL_BAUD"
	EnvI2CBus      = "RESINCTL_I2C_BUS"
	EnvLockTimeout = "RESINCTL_LOCK_TIMEOUT"
	EnvDebug       = "RESINCTL_DEBUG"
)

// Settings are the process settings of the controller daemon
type Settings struct {
	Listen      string        // TCP command listener
	HTTP        string        // metrics + websocket listener, "" disables
	Machine     string        // machine config file or built-in variant name
	Backend     string        // "sim" or "periph"
	Serial      string        // serial console device, "" disables
	SerialBaud  int           // serial console baud rate
	I2CBus      string        // I2C bus for the level sensor
	LockTimeout time.Duration // bounded wait for an axis lock
	Debug       bool          // development logger
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		Listen:      ":8899",
		HTTP:        ":9100",
		Backend:     "sim",
		SerialBaud:  115200,
		LockTimeout: 5 * time.Second,
	}
}

// LoadSettings reads settings from the environment after loading envFiles
// (default ".env"). A missing .env file is not an error; variables already
// set in the environment win over file values.
func LoadSettings(envFiles ...string) (Settings, error) {
	s := DefaultSettings()

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s, fmt.Errorf("load env file: %w", err)
	}

	keys := []struct {
		key  string
		into *string
	}{
		{EnvListen, &s.Listen},
		{EnvHTTP, &s.HTTP},
		{EnvMachine, &s.Machine},
		{EnvBackend, &s.Backend},
		{EnvSerial, &s.Serial},
		{EnvI2CBus, &s.I2CBus},
	}
	for _, k := range keys {
		if v, ok := os.LookupEnv(k.key); ok {
			*k.into = v
		}
	}

	if v, ok := os.LookupEnv(EnvSerialBaud); ok {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return s, fmt.Errorf("%s: invalid baud rate %q", EnvSerialBaud, v)
		}
		s.SerialBaud = baud
	}
	if v, ok := os.LookupEnv(EnvLockTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("%s: invalid duration %q", EnvLockTimeout, v)
		}
		s.LockTimeout = d
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%s: invalid bool %q", EnvDebug, v)
		}
		s.Debug = debug
	}

	switch s.Backend {
	case "sim", "periph":
	default:
		return s, fmt.Errorf("%s: unknown backend %q", EnvBackend, s.Backend)
	}
	return s, nil
}

// LoadMachine resolves Settings.Machine: a built-in variant name or a
// JSON file path.
func (s Settings) LoadMachine() (*standalone.MachineConfig, error) {
	if cfg, err := Builtin(s.Machine); err == nil {
		return cfg, nil
	}
	return LoadFile(s.Machine)
}
