package stepgen

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"resinctl/standalone"
)

// DefaultLockTimeout bounds how long a blocking caller waits for an axis.
const DefaultLockTimeout = 5 * time.Second

// ErrAxisBusy is returned when an axis lock could not be obtained in time.
var ErrAxisBusy = errors.New("axis busy")

// Observer receives lock events. Callbacks run on the acquiring goroutine
// while the lock is held and must not block.
type Observer interface {
	AxisAcquired(id standalone.AxisID, owner string, waited time.Duration)
	AxisReleased(id standalone.AxisID, owner string, held time.Duration)
	AxisBusy(id standalone.AxisID, owner string)
}

type axisSlot struct {
	stepper *Stepper
	lock    chan struct{} // token held while the axis is owned
}

// Registry owns the steppers and the per-axis exclusive locks. Each axis
// is driven by at most one task at a time; pulse trains never interleave on
// an axis.
type Registry struct {
	slots       map[standalone.AxisID]*axisSlot
	lockTimeout time.Duration
	observer    Observer
	logger      *zap.Logger
}

// NewRegistry creates a registry over the given steppers
func NewRegistry(steppers []*Stepper, lockTimeout time.Duration, logger *zap.Logger) *Registry {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	r := &Registry{
		slots:       make(map[standalone.AxisID]*axisSlot, len(steppers)),
		lockTimeout: lockTimeout,
		logger:      logger.Named("registry"),
	}
	for _, s := range steppers {
		r.slots[s.ID()] = &axisSlot{stepper: s, lock: make(chan struct{}, 1)}
	}
	return r
}

// SetObserver installs the lock event observer. Call before use.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Has reports whether the axis is configured
func (r *Registry) Has(id standalone.AxisID) bool {
	_, ok := r.slots[id]
	return ok
}

// Axes returns the configured axes in canonical order
func (r *Registry) Axes() []standalone.AxisID {
	ids := make([]standalone.AxisID, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	sortAxes(ids)
	return ids
}

// Stepper returns the driver for an axis without locking it. Used for
// read-only inspection (position gauges).
func (r *Registry) Stepper(id standalone.AxisID) (*Stepper, bool) {
	slot, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	return slot.stepper, true
}

// InitPins initializes every axis driver
func (r *Registry) InitPins() error {
	for _, id := range r.Axes() {
		if err := r.slots[id].stepper.InitPins(); err != nil {
			return err
		}
	}
	return nil
}

// WithAxis runs f while holding the axis lock. It waits up to the lock
// timeout (or until ctx ends) and always releases the lock afterwards.
func (r *Registry) WithAxis(ctx context.Context, id standalone.AxisID, owner string, f func(*Stepper) error) error {
	return r.WithAxes(ctx, []standalone.AxisID{id}, owner, func(m map[standalone.AxisID]*Stepper) error {
		return f(m[id])
	})
}

// WithAxes locks several axes in canonical order and runs f with all of
// them held.
func (r *Registry) WithAxes(ctx context.Context, ids []standalone.AxisID, owner string, f func(map[standalone.AxisID]*Stepper) error) error {
	ids = slices.Clone(ids)
	sortAxes(ids)
	ids = slices.Compact(ids)

	slots := make([]*axisSlot, len(ids))
	for i, id := range ids {
		slot, ok := r.slots[id]
		if !ok {
			return fmt.Errorf("%w: %s", standalone.ErrUnknownAxis, id)
		}
		slots[i] = slot
	}

	ctx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	held := make(map[standalone.AxisID]*Stepper, len(ids))
	acquired := make([]time.Time, 0, len(ids))
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			r.release(ids[i], owner, acquired[i])
		}
	}()

	for i, slot := range slots {
		start := time.Now()
		select {
		case slot.lock <- struct{}{}:
		case <-ctx.Done():
			r.logger.Warn("axis lock wait expired",
				zap.String("axis", string(ids[i])),
				zap.String("owner", owner),
				zap.Error(ctx.Err()))
			if r.observer != nil {
				r.observer.AxisBusy(ids[i], owner)
			}
			return fmt.Errorf("%w: %s", ErrAxisBusy, ids[i])
		}
		now := time.Now()
		acquired = append(acquired, now)
		held[ids[i]] = slot.stepper
		if r.observer != nil {
			r.observer.AxisAcquired(ids[i], owner, now.Sub(start))
		}
	}

	return f(held)
}

// TryWithAxis runs f only if the axis lock is free right now; otherwise it
// returns ErrAxisBusy without waiting.
func (r *Registry) TryWithAxis(id standalone.AxisID, owner string, f func(*Stepper) error) error {
	slot, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: %s", standalone.ErrUnknownAxis, id)
	}

	select {
	case slot.lock <- struct{}{}:
	default:
		if r.observer != nil {
			r.observer.AxisBusy(id, owner)
		}
		return fmt.Errorf("%w: %s", ErrAxisBusy, id)
	}

	now := time.Now()
	if r.observer != nil {
		r.observer.AxisAcquired(id, owner, 0)
	}
	defer r.release(id, owner, now)

	return f(slot.stepper)
}

func (r *Registry) release(id standalone.AxisID, owner string, since time.Time) {
	if r.observer != nil {
		r.observer.AxisReleased(id, owner, time.Since(since))
	}
	<-r.slots[id].lock
}

func sortAxes(ids []standalone.AxisID) {
	slices.SortFunc(ids, func(a, b standalone.AxisID) int {
		if d := a.Rank() - b.Rank(); d != 0 {
			return d
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
}
