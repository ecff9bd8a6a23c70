// Package metrics exports the motion core counters to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"stepcore/movement"
)

// StatsSource is implemented by movement.Move
type StatsSource interface {
	Stats() movement.Stats
}

// Collector reads the move counters at scrape time. Hiccups are read
// without clearing so the diagnostics report still sees them.
type Collector struct {
	source StatsSource

	scheduled      *prometheus.Desc
	completed      *prometheus.Desc
	hiccups        *prometheus.Desc
	stepErrors     *prometheus.Desc
	planningErrors *prometheus.Desc
	occupancy      *prometheus.Desc
	capacity       *prometheus.Desc
	idleState      *prometheus.Desc
}

// NewCollector creates a collector for source
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		scheduled: prometheus.NewDesc("stepcore_moves_scheduled_total",
			"Moves accepted into the ring", nil, nil),
		completed: prometheus.NewDesc("stepcore_moves_completed_total",
			"Moves fully stepped", nil, nil),
		hiccups: prometheus.NewDesc("stepcore_step_hiccups",
			"Late step interrupts since the last clear", nil, nil),
		stepErrors: prometheus.NewDesc("stepcore_step_errors_total",
			"Moves that ended at speed without a prepared successor", nil, nil),
		planningErrors: prometheus.NewDesc("stepcore_planning_errors_total",
			"Rejected degenerate moves", nil, nil),
		occupancy: prometheus.NewDesc("stepcore_ring_occupancy",
			"Descriptor slots in use", nil, nil),
		capacity: prometheus.NewDesc("stepcore_ring_capacity",
			"Descriptor slots available", nil, nil),
		idleState: prometheus.NewDesc("stepcore_idle_state",
			"1 for the current idle state", []string{"state"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scheduled
	ch <- c.completed
	ch <- c.hiccups
	ch <- c.stepErrors
	ch <- c.planningErrors
	ch <- c.occupancy
	ch <- c.capacity
	ch <- c.idleState
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.scheduled, prometheus.CounterValue, float64(s.Scheduled))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(c.hiccups, prometheus.GaugeValue, float64(s.Hiccups))
	ch <- prometheus.MustNewConstMetric(c.stepErrors, prometheus.CounterValue, float64(s.StepErrors))
	ch <- prometheus.MustNewConstMetric(c.planningErrors, prometheus.CounterValue, float64(s.PlanningErrors))
	ch <- prometheus.MustNewConstMetric(c.occupancy, prometheus.GaugeValue, float64(s.Occupancy))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))

	for _, st := range []movement.IdleState{
		movement.IdleStateIdle,
		movement.IdleStateCollecting,
		movement.IdleStateExecuting,
		movement.IdleStateTiming,
	} {
		v := 0.0
		if st == s.IdleState {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.idleState, prometheus.GaugeValue, v, st.String())
	}
}
