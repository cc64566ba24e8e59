package standalone

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAxis is returned for axis identifiers that are not configured
// on this machine.
var ErrUnknownAxis = errors.New("invalid axis")

// AxisID names one stepper axis. Identifiers on the wire are single
// lowercase letters.
type AxisID string

const (
	AxisZ AxisID = "z" // build-plate lift
	AxisA AxisID = "a" // wiper
	AxisB AxisID = "b" // resin-level trim
	AxisC AxisID = "c" // auxiliary
)

// AxisOrder is the canonical lock-acquisition order.
var AxisOrder = []AxisID{AxisZ, AxisA, AxisB, AxisC}

// Rank returns the position of id in AxisOrder, or len(AxisOrder) for an
// identifier outside the known set.
func (id AxisID) Rank() int {
	for i, a := range AxisOrder {
		if a == id {
			return i
		}
	}
	return len(AxisOrder)
}

// ParseAxisID normalizes a wire axis field. It does not check that the axis
// is configured on this machine.
func ParseAxisID(s string) AxisID {
	return AxisID(strings.ToLower(strings.TrimSpace(s)))
}

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepPin      uint32  `json:"step_pin"`
	DirPin       uint32  `json:"dir_pin"`
	EnablePin    *uint32 `json:"enable_pin,omitempty"` // nil: driver has no enable line
	StepsPerMM   float64 `json:"steps_per_mm"`
	InvertDir    bool    `json:"invert_dir"`
	InvertEnable bool    `json:"invert_enable"` // true: enable line is active-low
}

// SensorConfig describes the resin-level sensor.
type SensorConfig struct {
	Kind      string `json:"kind"`       // "ads1115", "vl53l1x", "sim" or "none"
	Bus       string `json:"bus"`        // I2C bus name, "" for the first bus
	Address   uint16 `json:"address"`    // I2C address, 0 for the driver default
	Channel   int    `json:"channel"`    // ADC input channel
	Invert    bool   `json:"invert"`     // reading = full_scale - raw
	FullScale uint16 `json:"full_scale"` // native full-scale value mapped to 4095
}

// Params is the process-wide parameter record shared by the dispatcher and
// the level compensator. Values are always handled as whole snapshots.
type Params struct {
	PeelLift   float64 `json:"peel_lift"`
	PeelReturn float64 `json:"peel_return"`
	ZSpeedDown float64 `json:"z_speed_down"`
	ZSpeedUp   float64 `json:"z_speed_up"`
	WipeDist   float64 `json:"wipe_dist"`
	WipeFast   float64 `json:"wipe_speed_fast"`
	WipeSlow   float64 `json:"wipe_speed_slow"`
	BSpeedDown float64 `json:"b_speed_down"`
	BSpeedUp   float64 `json:"b_speed_up"`
	LevelComp  bool    `json:"level_comp_enabled"`
	LevelLow   uint16  `json:"level_low"`
	LevelHigh  uint16  `json:"level_high"`
}

// DefaultParams returns the firmware's power-on parameters.
func DefaultParams() Params {
	return Params{
		PeelLift:   5.05,
		PeelReturn: 5.0,
		ZSpeedDown: 20.0,
		ZSpeedUp:   20.0,
		WipeDist:   50.0,
		WipeFast:   80.0,
		WipeSlow:   10.0,
		BSpeedDown: 2.0,
		BSpeedUp:   2.0,
		LevelComp:  true,
		LevelLow:   1000,
		LevelHigh:  3000,
	}
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Variant string                `json:"variant"` // "4-axis" or "z-only"
	Axes    map[AxisID]AxisConfig `json:"axes"`
	Sensor  SensorConfig          `json:"sensor"`
	Params  *Params               `json:"params,omitempty"`

	// Legacy single-argument MOVE_REL motion parameters
	JogSpeed float64 `json:"jog_speed"`
	JogAccel float64 `json:"jog_accel"`
}

// Validate checks the structural invariants the rest of the firmware
// relies on.
func (c *MachineConfig) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("machine config: no axes configured")
	}
	for id, ax := range c.Axes {
		if id.Rank() == len(AxisOrder) {
			return fmt.Errorf("machine config: unknown axis %q", id)
		}
		if ax.StepsPerMM < 0 {
			return fmt.Errorf("machine config: axis %s: negative steps_per_mm", id)
		}
		if ax.StepPin == ax.DirPin {
			return fmt.Errorf("machine config: axis %s: step and dir share pin %d", id, ax.StepPin)
		}
	}
	if c.Params != nil && c.Params.LevelLow > c.Params.LevelHigh {
		return fmt.Errorf("machine config: level_low %d above level_high %d",
			c.Params.LevelLow, c.Params.LevelHigh)
	}
	return nil
}
