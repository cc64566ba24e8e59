package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"tinygo.org/x/drivers/vl53l1x"

	"resinctl/core"
	"resinctl/standalone"
	"resinctl/targets/sim"
)

// Sensor kinds accepted in the machine config
const (
	SensorNone    = "none"
	SensorSim     = "sim"
	SensorADS1115 = "ads1115"
	SensorVL53L1X = "vl53l1x"
)

const (
	vl53l1xTimingBudgetUS = 50000 // ranging time per sample
	vl53l1xTimeoutMS      = 500
)

var adsChannels = []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

// scaleReading maps a native sample in [0, fullScale] onto the 12-bit level
// scale, optionally inverted.
func scaleReading(raw int64, fullScale uint16, invert bool) core.LevelReading {
	if fullScale == 0 {
		return 0
	}
	raw = min(max(raw, 0), int64(fullScale))
	if invert {
		raw = int64(fullScale) - raw
	}
	return core.LevelReading(raw * int64(core.MaxLevelReading) / int64(fullScale))
}

// ads1115Sensor samples one single-ended input of an ADS1115
type ads1115Sensor struct {
	mu  sync.Mutex
	pin ads1x15.PinADC
	cfg standalone.SensorConfig
}

func newADS1115Sensor(bus i2c.Bus, cfg standalone.SensorConfig) (*ads1115Sensor, error) {
	if cfg.Channel < 0 || cfg.Channel >= len(adsChannels) {
		return nil, fmt.Errorf("ads1115: channel %d out of range", cfg.Channel)
	}
	opts := ads1x15.DefaultOpts
	if cfg.Address != 0 {
		opts.I2cAddress = cfg.Address
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("ads1115: %w", err)
	}
	pin, err := dev.PinForChannel(adsChannels[cfg.Channel], 4096*physic.MilliVolt, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("ads1115: channel %d: %w", cfg.Channel, err)
	}
	return &ads1115Sensor{pin: pin, cfg: cfg}, nil
}

// ReadLevel implements core.LevelSensor. The 15-bit positive range is
// reduced to 12 bits before scaling.
func (s *ads1115Sensor) ReadLevel() (core.LevelReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, err := s.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("ads1115: %w", err)
	}
	return scaleReading(int64(sample.Raw>>3), s.cfg.FullScale, s.cfg.Invert), nil
}

// vl53l1xSensor measures the distance to the resin surface
type vl53l1xSensor struct {
	mu  sync.Mutex
	dev vl53l1x.Device
	cfg standalone.SensorConfig
}

func newVL53L1XSensor(bus i2c.Bus, cfg standalone.SensorConfig) (*vl53l1xSensor, error) {
	// periph's i2c.Bus satisfies the TinyGo drivers.I2C interface
	dev := vl53l1x.New(bus)
	if cfg.Address != 0 {
		dev.Address = cfg.Address
	}
	dev.SetTimeout(vl53l1xTimeoutMS)
	if !dev.Connected() {
		return nil, errors.New("vl53l1x: no device on bus")
	}
	if !dev.Configure(true) {
		return nil, errors.New("vl53l1x: configuration failed")
	}
	dev.SetMeasurementTimingBudget(vl53l1xTimingBudgetUS)
	dev.StartContinuous(vl53l1xTimingBudgetUS / 1000)
	return &vl53l1xSensor{dev: dev, cfg: cfg}, nil
}

// ReadLevel implements core.LevelSensor
func (s *vl53l1xSensor) ReadLevel() (core.LevelReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mm := s.dev.Read(true)
	if s.dev.Status() != vl53l1x.RangeValid {
		return 0, fmt.Errorf("vl53l1x: range status %d", s.dev.Status())
	}
	return scaleReading(int64(mm), s.cfg.FullScale, s.cfg.Invert), nil
}

// openSensor builds the level sensor described by cfg. The sim backend
// replaces hardware sensors with a simulated one reporting mid-band.
func openSensor(backend string, cfg standalone.SensorConfig, busName string) (core.LevelSensor, io.Closer, error) {
	if cfg.Kind == SensorNone {
		return nil, nil, nil
	}
	if backend == backendSim || cfg.Kind == SensorSim {
		return sim.NewSensor(2000), nil, nil
	}

	if busName == "" {
		busName = cfg.Bus
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	var sensor core.LevelSensor
	switch cfg.Kind {
	case SensorADS1115:
		sensor, err = newADS1115Sensor(bus, cfg)
	case SensorVL53L1X:
		sensor, err = newVL53L1XSensor(bus, cfg)
	default:
		err = fmt.Errorf("unsupported sensor kind %q", cfg.Kind)
	}
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return sensor, bus, nil
}
