package main

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"resinctl/core"
)

// PeriphGPIODriver implements core.GPIODriver on the Linux GPIO character
// device through periph.io. Pins are addressed by their BCM number.
type PeriphGPIODriver struct {
	mu sync.Mutex
	// Track configured pins to prevent lookups on every write
	configuredPins map[core.GPIOPin]gpio.PinIO
}

// NewPeriphGPIODriver creates a driver. host.Init must have run.
func NewPeriphGPIODriver() *PeriphGPIODriver {
	return &PeriphGPIODriver{
		configuredPins: make(map[core.GPIOPin]gpio.PinIO),
	}
}

// ConfigureOutput configures a pin as a digital output, driven low
func (d *PeriphGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.configuredPins[pin]; exists {
		// Already configured, this is OK
		return nil
	}

	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return fmt.Errorf("gpio: no pin GPIO%d on this board", pin)
	}
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: configure %s: %w", p, err)
	}

	d.configuredPins[pin] = p
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *PeriphGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	d.mu.Lock()
	p, ok := d.configuredPins[pin]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("gpio: pin %d not configured as output", pin)
	}
	return p.Out(gpio.Level(value))
}
