package core

// LevelReading is the raw resin-level reading as seen by the rest of the
// firmware. Convention: 12-bit ADC counts (0-4095), the scale the level
// thresholds are expressed in. Backends with a different native range
// rescale before returning.
type LevelReading uint16

// MaxLevelReading is the full-scale value of a LevelReading.
const MaxLevelReading LevelReading = 4095

// LevelSensor is the abstract sensor interface the level compensator uses.
type LevelSensor interface {
	// ReadLevel performs a one-shot sample.
	ReadLevel() (LevelReading, error)
}

// LevelSensorFunc adapts a function to LevelSensor.
type LevelSensorFunc func() (LevelReading, error)

// ReadLevel calls f.
func (f LevelSensorFunc) ReadLevel() (LevelReading, error) {
	return f()
}
