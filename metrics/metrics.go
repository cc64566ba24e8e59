// Package metrics exposes controller activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"resinctl/core"
	"resinctl/standalone"
	"resinctl/standalone/level"
	"resinctl/standalone/stepgen"
)

const namespace = "resinctl"

// Metrics holds the controller collectors. It implements the observer
// hooks of the dispatcher, the axis registry and the level compensator.
type Metrics struct {
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	OpenConnections *prometheus.GaugeVec
	LockWait        *prometheus.HistogramVec
	LockBusy        *prometheus.CounterVec
	LevelReading    prometheus.Gauge
	LevelTicks      *prometheus.CounterVec

	reg prometheus.Registerer
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by keyword and result.",
		}, []string{"keyword", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time, motion included.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"keyword"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Commands waiting for the dispatcher.",
		}),
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Open command connections by transport.",
		}, []string{"transport"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "axis_lock_wait_seconds",
			Help:      "Time spent waiting for an axis lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 6),
		}, []string{"axis"}),
		LockBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "axis_lock_busy_total",
			Help:      "Axis lock requests refused or timed out.",
		}, []string{"axis", "owner"}),
		LevelReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_reading",
			Help:      "Last resin-level sensor reading (0-4095).",
		}),
		LevelTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ticks_total",
			Help:      "Level compensation ticks by outcome.",
		}, []string{"outcome"}),
		reg: reg,
	}

	reg.MustRegister(
		m.Commands,
		m.CommandDuration,
		m.QueueDepth,
		m.OpenConnections,
		m.LockWait,
		m.LockBusy,
		m.LevelReading,
		m.LevelTicks,
	)
	return m
}

// WatchAxes registers position gauges for every axis of registry
func (m *Metrics) WatchAxes(registry *stepgen.Registry) {
	for _, id := range registry.Axes() {
		s, _ := registry.Stepper(id)
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "axis_position_steps",
			Help:        "Accumulated axis position in steps since start.",
			ConstLabels: prometheus.Labels{"axis": string(id)},
		}, func() float64 {
			return float64(s.Steps())
		}))
	}
}

// CommandHandled implements dispatch.Observer
func (m *Metrics) CommandHandled(keyword string, ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Commands.WithLabelValues(keyword, result).Inc()
	m.CommandDuration.WithLabelValues(keyword).Observe(took.Seconds())
}

// SetQueueDepth is installed as the queue depth callback
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ConnOpened counts an opened connection on transport
func (m *Metrics) ConnOpened(transport string) {
	m.OpenConnections.WithLabelValues(transport).Inc()
}

// ConnClosed counts a closed connection on transport
func (m *Metrics) ConnClosed(transport string) {
	m.OpenConnections.WithLabelValues(transport).Dec()
}

// AxisAcquired implements stepgen.Observer
func (m *Metrics) AxisAcquired(id standalone.AxisID, _ string, waited time.Duration) {
	m.LockWait.WithLabelValues(string(id)).Observe(waited.Seconds())
}

// AxisReleased implements stepgen.Observer
func (m *Metrics) AxisReleased(standalone.AxisID, string, time.Duration) {}

// AxisBusy implements stepgen.Observer
func (m *Metrics) AxisBusy(id standalone.AxisID, owner string) {
	m.LockBusy.WithLabelValues(string(id), owner).Inc()
}

// LevelTick implements level.Observer
func (m *Metrics) LevelTick(reading core.LevelReading, outcome level.Outcome) {
	m.LevelTicks.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case level.OutcomeDisabled, level.OutcomeSensorError:
	default:
		m.LevelReading.Set(float64(reading))
	}
}
