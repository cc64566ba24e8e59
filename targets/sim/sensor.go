package sim

import (
	"sync"

	"resinctl/core"
)

// Sensor is a simulated resin-level sensor
type Sensor struct {
	mu    sync.Mutex
	level core.LevelReading
	err   error
	reads int
}

// NewSensor creates a sensor reporting level
func NewSensor(level core.LevelReading) *Sensor {
	return &Sensor{level: level}
}

// ReadLevel implements core.LevelSensor
func (s *Sensor) ReadLevel() (core.LevelReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return 0, s.err
	}
	return s.level, nil
}

// Set changes the reported level, clamped to full scale
func (s *Sensor) Set(level core.LevelReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = min(level, core.MaxLevelReading)
	s.err = nil
}

// Fail makes reads return err until the next Set
func (s *Sensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Reads returns how many samples were taken
func (s *Sensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
