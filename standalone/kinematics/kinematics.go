package kinematics

import (
	"fmt"

	"resinctl/standalone"
)

// Variant names accepted in the machine config.
const (
	VariantFourAxis = "4-axis"
	VariantZOnly    = "z-only"
)

// Kinematics maps the machine's physical axes to the roles the layer
// sequence and the level compensator drive.
type Kinematics interface {
	// GetAxisNames returns the axes this variant drives, in lock order
	GetAxisNames() []standalone.AxisID

	// LiftAxis is the build-plate axis moved by the peel sequence
	LiftAxis() standalone.AxisID

	// WipeAxis is the wiper axis, ok=false when the variant has none
	WipeAxis() (standalone.AxisID, bool)

	// LevelAxis is the resin-level trim axis, ok=false when the variant has none
	LevelAxis() (standalone.AxisID, bool)
}

// Resin is the kinematics of a bottom-up resin printer.
type Resin struct {
	axes []standalone.AxisID
	wipe bool
	trim bool
}

// New builds the kinematics for cfg.Variant and checks that every axis it
// needs is configured.
func New(cfg *standalone.MachineConfig) (*Resin, error) {
	var required []standalone.AxisID
	k := &Resin{}

	switch cfg.Variant {
	case VariantFourAxis:
		required = []standalone.AxisID{standalone.AxisZ, standalone.AxisA, standalone.AxisB}
		k.wipe, k.trim = true, true
	case VariantZOnly:
		required = []standalone.AxisID{standalone.AxisZ}
	default:
		return nil, fmt.Errorf("unsupported variant: %q", cfg.Variant)
	}

	for _, id := range required {
		if _, ok := cfg.Axes[id]; !ok {
			return nil, fmt.Errorf("%s variant requires axis %s", cfg.Variant, id)
		}
	}

	for _, id := range standalone.AxisOrder {
		if _, ok := cfg.Axes[id]; ok {
			k.axes = append(k.axes, id)
		}
	}
	return k, nil
}

// GetAxisNames implements Kinematics.
func (k *Resin) GetAxisNames() []standalone.AxisID {
	return append([]standalone.AxisID(nil), k.axes...)
}

// LiftAxis implements Kinematics.
func (k *Resin) LiftAxis() standalone.AxisID {
	return standalone.AxisZ
}

// WipeAxis implements Kinematics.
func (k *Resin) WipeAxis() (standalone.AxisID, bool) {
	return standalone.AxisA, k.wipe
}

// LevelAxis implements Kinematics.
func (k *Resin) LevelAxis() (standalone.AxisID, bool) {
	return standalone.AxisB, k.trim
}
