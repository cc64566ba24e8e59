package sim

import (
	"fmt"
	"sync"
	"time"

	"resinctl/core"
	"resinctl/standalone"
)

// EventKind classifies a trace event
type EventKind uint8

const (
	EventPin     EventKind = iota // output pin written
	EventAcquire                  // axis lock acquired
	EventRelease                  // axis lock released
)

// Event is one entry of the recorded trace
type Event struct {
	Kind  EventKind
	Pin   core.GPIOPin
	Value bool
	Axis  standalone.AxisID
	Owner string
}

func (e Event) String() string {
	switch e.Kind {
	case EventPin:
		v := 0
		if e.Value {
			v = 1
		}
		return fmt.Sprintf("pin %d=%d", e.Pin, v)
	case EventAcquire:
		return fmt.Sprintf("acquire %s by %s", e.Axis, e.Owner)
	default:
		return fmt.Sprintf("release %s by %s", e.Axis, e.Owner)
	}
}

// Recorder is a simulated GPIO driver. It records every pin write and,
// when installed as the registry observer, every axis lock transition into
// one totally ordered trace.
type Recorder struct {
	mu         sync.Mutex
	configured map[core.GPIOPin]bool
	levels     map[core.GPIOPin]bool
	events     []Event
	tracing    bool
	failPin    core.GPIOPin
	failErr    error
}

// NewRecorder creates a recorder. With tracing off only pin levels are
// kept, which is what a long-running simulated controller wants.
func NewRecorder(tracing bool) *Recorder {
	return &Recorder{
		configured: make(map[core.GPIOPin]bool),
		levels:     make(map[core.GPIOPin]bool),
		tracing:    tracing,
		failPin:    core.NoPin,
	}
}

// ConfigureOutput implements core.GPIODriver
func (r *Recorder) ConfigureOutput(pin core.GPIOPin) error {
	if pin == core.NoPin {
		return fmt.Errorf("sim: invalid pin")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured[pin] = true
	return nil
}

// SetPin implements core.GPIODriver
func (r *Recorder) SetPin(pin core.GPIOPin, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured[pin] {
		return fmt.Errorf("sim: pin %d not configured as output", pin)
	}
	if pin == r.failPin {
		return r.failErr
	}
	r.levels[pin] = value
	if r.tracing {
		r.events = append(r.events, Event{Kind: EventPin, Pin: pin, Value: value})
	}
	return nil
}

// FailPin makes every later write to pin return err
func (r *Recorder) FailPin(pin core.GPIOPin, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPin = pin
	r.failErr = err
}

// Level returns the last value written to pin
func (r *Recorder) Level(pin core.GPIOPin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[pin]
}

// Configured reports whether pin was configured as an output
func (r *Recorder) Configured(pin core.GPIOPin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configured[pin]
}

// Events returns a copy of the trace
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset clears the trace, keeping pin state
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = r.events[:0]
}

// RisingEdges counts high writes to pin in the trace
func (r *Recorder) RisingEdges(pin core.GPIOPin) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == EventPin && e.Pin == pin && e.Value {
			n++
		}
	}
	return n
}

// AxisAcquired records a lock acquisition
func (r *Recorder) AxisAcquired(id standalone.AxisID, owner string, _ time.Duration) {
	r.record(Event{Kind: EventAcquire, Axis: id, Owner: owner})
}

// AxisReleased records a lock release
func (r *Recorder) AxisReleased(id standalone.AxisID, owner string, _ time.Duration) {
	r.record(Event{Kind: EventRelease, Axis: id, Owner: owner})
}

// AxisBusy is a no-op; a refused lock leaves no trace
func (r *Recorder) AxisBusy(standalone.AxisID, string) {}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tracing {
		r.events = append(r.events, e)
	}
}
