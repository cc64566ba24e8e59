package config

import (
	"encoding/json"
	"fmt"
	"os"

	"resinctl/standalone"
	"resinctl/standalone/kinematics"
)

// LoadConfig parses a JSON configuration string and returns a MachineConfig
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	// Seeded so a partial params block keeps the power-on values
	defaults := standalone.DefaultParams()
	config := standalone.MachineConfig{Params: &defaults}

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, fmt.Errorf("parse machine config: %w", err)
	}

	// Apply defaults
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads a machine config file. An empty path selects the
// built-in four-axis machine.
func LoadFile(path string) (*standalone.MachineConfig, error) {
	if path == "" {
		return DefaultFourAxisConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine config: %w", err)
	}
	return LoadConfig(data)
}

// Builtin returns the built-in machine for a variant name
func Builtin(variant string) (*standalone.MachineConfig, error) {
	switch variant {
	case "", kinematics.VariantFourAxis:
		return DefaultFourAxisConfig(), nil
	case kinematics.VariantZOnly:
		return DefaultZOnlyConfig(), nil
	default:
		return nil, fmt.Errorf("unknown machine variant %q", variant)
	}
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	if config.Variant == "" {
		config.Variant = kinematics.VariantFourAxis
	}

	// Legacy jog
	if config.JogSpeed == 0 {
		config.JogSpeed = 5.0 // 5 mm/s
	}
	if config.JogAccel == 0 {
		config.JogAccel = 20.0 // 20 mm/s^2
	}

	if config.Sensor.Kind == "" {
		config.Sensor.Kind = "none"
	}
	if config.Sensor.FullScale == 0 {
		switch config.Sensor.Kind {
		case "vl53l1x":
			config.Sensor.FullScale = 4000 // mm, long-distance mode range
		default:
			config.Sensor.FullScale = uint16(4095)
		}
	}
	if config.Sensor.Address == 0 {
		switch config.Sensor.Kind {
		case "ads1115":
			config.Sensor.Address = 0x48
		case "vl53l1x":
			config.Sensor.Address = 0x29
		}
	}

	if config.Params == nil {
		p := standalone.DefaultParams()
		config.Params = &p
	}
}

// Params returns the initial parameter record of a machine
func Params(config *standalone.MachineConfig) standalone.Params {
	if config.Params == nil {
		return standalone.DefaultParams()
	}
	return *config.Params
}

func pin(n uint32) *uint32 { return &n }

// DefaultFourAxisConfig returns the four-axis resin machine: DM-series
// drivers on Z, A and C (no enable line) and an active-low enable on B.
func DefaultFourAxisConfig() *standalone.MachineConfig {
	p := standalone.DefaultParams()
	return &standalone.MachineConfig{
		Variant: kinematics.VariantFourAxis,
		Axes: map[standalone.AxisID]standalone.AxisConfig{
			standalone.AxisZ: {
				StepPin:    26,
				DirPin:     25,
				StepsPerMM: 200.0,
			},
			standalone.AxisA: {
				StepPin:    23,
				DirPin:     22,
				StepsPerMM: 200.0,
			},
			standalone.AxisB: {
				StepPin:      19,
				DirPin:       18,
				EnablePin:    pin(5),
				StepsPerMM:   200.0,
				InvertEnable: true,
			},
			standalone.AxisC: {
				StepPin:    17,
				DirPin:     16,
				StepsPerMM: 200.0,
			},
		},
		Sensor: standalone.SensorConfig{
			Kind:      "ads1115",
			Address:   0x48,
			Channel:   0,
			FullScale: 4095,
		},
		Params:   &p,
		JogSpeed: 5.0,
		JogAccel: 20.0,
	}
}

// DefaultZOnlyConfig returns the single-axis lift machine
func DefaultZOnlyConfig() *standalone.MachineConfig {
	p := standalone.DefaultParams()
	return &standalone.MachineConfig{
		Variant: kinematics.VariantZOnly,
		Axes: map[standalone.AxisID]standalone.AxisConfig{
			standalone.AxisZ: {
				StepPin:    26,
				DirPin:     25,
				StepsPerMM: 3200.0,
			},
		},
		Sensor: standalone.SensorConfig{
			Kind:      "none",
			FullScale: 4095,
		},
		Params:   &p,
		JogSpeed: 5.0,
		JogAccel: 20.0,
	}
}
