package serial

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoPort is returned when no device path is given and discovery finds no
// matching USB adapter.
var ErrNoPort = errors.New("no serial port found")

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3"); empty to discover by VID/PID
	Device string

	// USB identifiers used for discovery, hex as reported by the OS
	VID string
	PID string

	// Baud rate
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the controller console configuration
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

// PortInfo describes one port found on the system
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s %s)", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
}

// listPorts is replaced in tests
var listPorts = func() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]PortInfo, error) {
	return listPorts()
}

// Resolve fills in cfg.Device from the USB identifiers when it is empty.
// A PID match is required; the VID is checked when given.
func Resolve(cfg *Config) error {
	if cfg.Device != "" {
		return nil
	}
	if cfg.PID == "" && cfg.VID == "" {
		return ErrNoPort
	}

	ports, err := listPorts()
	if err != nil {
		return fmt.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if !p.USB {
			continue
		}
		if cfg.PID != "" && !strings.EqualFold(p.PID, cfg.PID) {
			continue
		}
		if cfg.VID != "" && !strings.EqualFold(p.VID, cfg.VID) {
			continue
		}
		cfg.Device = p.Name
		return nil
	}
	return fmt.Errorf("%w: VID %q PID %q", ErrNoPort, cfg.VID, cfg.PID)
}
