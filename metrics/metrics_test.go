package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"resinctl/standalone"
	"resinctl/standalone/level"
	"resinctl/standalone/stepgen"
	"resinctl/targets/sim"
)

// sample returns the value of the series name{labels}, or -1 if absent
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestCommandCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandHandled("MOVE_REL", true, 20*time.Millisecond)
	m.CommandHandled("MOVE_REL", false, time.Millisecond)
	m.CommandHandled("MOVE_REL", true, time.Millisecond)

	if got := sample(t, reg, "resinctl_commands_total", map[string]string{"keyword": "MOVE_REL", "result": "ok"}); got != 2 {
		t.Errorf("Expected 2 ok commands, got %g", got)
	}
	if got := sample(t, reg, "resinctl_commands_total", map[string]string{"keyword": "MOVE_REL", "result": "error"}); got != 1 {
		t.Errorf("Expected 1 failed command, got %g", got)
	}
}

func TestLevelTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LevelTick(3500, level.OutcomeRaised)
	m.LevelTick(0, level.OutcomeSensorError)

	if got := sample(t, reg, "resinctl_level_reading", nil); got != 3500 {
		t.Errorf("Expected reading 3500, got %g", got)
	}
	if got := sample(t, reg, "resinctl_level_ticks_total", map[string]string{"outcome": "sensor_error"}); got != 1 {
		t.Errorf("Expected 1 sensor error tick, got %g", got)
	}
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetQueueDepth(3)
	m.ConnOpened("tcp")
	m.ConnOpened("tcp")
	m.ConnClosed("tcp")
	m.AxisBusy(standalone.AxisB, "level")

	if got := sample(t, reg, "resinctl_queue_depth", nil); got != 3 {
		t.Errorf("Expected depth 3, got %g", got)
	}
	if got := sample(t, reg, "resinctl_open_connections", map[string]string{"transport": "tcp"}); got != 1 {
		t.Errorf("Expected 1 open connection, got %g", got)
	}
	if got := sample(t, reg, "resinctl_axis_lock_busy_total", map[string]string{"axis": "b", "owner": "level"}); got != 1 {
		t.Errorf("Expected 1 busy refusal, got %g", got)
	}
}

func TestWatchAxes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	rec := sim.NewRecorder(false)
	z := stepgen.NewStepper(standalone.AxisZ, standalone.AxisConfig{StepPin: 26, DirPin: 25, StepsPerMM: 10}, rec, &sim.InstantClock{})
	registry := stepgen.NewRegistry([]*stepgen.Stepper{z}, time.Second, zaptest.NewLogger(t))
	if err := registry.InitPins(); err != nil {
		t.Fatal(err)
	}
	m.WatchAxes(registry)

	if _, err := z.Move(-1, 5, 0); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	if got := sample(t, reg, "resinctl_axis_position_steps", map[string]string{"axis": "z"}); got != -10 {
		t.Errorf("Expected position -10, got %g", got)
	}
}
