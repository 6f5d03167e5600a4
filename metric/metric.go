/*
Package metric provides prometheus counters for recall children.

Counters are resolved when a Meter is created, so measuring on the audio
path costs an atomic increment. Nil *Metrics and nil *Meter are valid and
measure nothing.
*/
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sequencer"

// Reasons why a signal wasn't adopted by a recall.
const (
	ReasonTemplate           = "template"
	ReasonNoRecallID         = "no_recall_id"
	ReasonSignalNoRecallID   = "signal_no_recall_id"
	ReasonContextMismatch    = "context_mismatch"
	ReasonDestinationPending = "destination_not_ready"
	ReasonScopeMismatch      = "scope_mismatch"
)

var reasons = []string{
	ReasonTemplate,
	ReasonNoRecallID,
	ReasonSignalNoRecallID,
	ReasonContextMismatch,
	ReasonDestinationPending,
	ReasonScopeMismatch,
}

// Metrics contains counters of recall children lifecycle.
type Metrics struct {
	spawned  *prometheus.CounterVec
	retired  *prometheus.CounterVec
	disposed *prometheus.CounterVec
	filtered *prometheus.CounterVec
	live     prometheus.Gauge
}

// New creates metrics and registers them within provided registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		spawned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "children_spawned_total",
				Help:      "Total number of spawned recall children",
			},
			[]string{"kind"},
		),
		retired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "children_retired_total",
				Help:      "Total number of recall children marked done",
			},
			[]string{"kind"},
		),
		disposed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "children_disposed_total",
				Help:      "Total number of recall children disposed off the audio path",
			},
			[]string{"kind"},
		),
		filtered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "signals_filtered_total",
				Help:      "Total number of audio signals not adopted by recall recyclings",
			},
			[]string{"reason"},
		),
		live: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "recall",
				Name:      "children_live",
				Help:      "Number of spawned recall children which are not disposed yet",
			},
		),
	}
	if err := registerer.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.spawned.Describe(ch)
	m.retired.Describe(ch)
	m.disposed.Describe(ch)
	m.filtered.Describe(ch)
	m.live.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.spawned.Collect(ch)
	m.retired.Collect(ch)
	m.disposed.Collect(ch)
	m.filtered.Collect(ch)
	m.live.Collect(ch)
}

// Meter captures counters of a single recall kind.
type Meter struct {
	spawned  prometheus.Counter
	retired  prometheus.Counter
	disposed prometheus.Counter
	live     prometheus.Gauge
	filtered map[string]prometheus.Counter
}

// Meter resolves counters for provided kind of recall children.
func (m *Metrics) Meter(kind string) *Meter {
	if m == nil {
		return nil
	}
	meter := &Meter{
		spawned:  m.spawned.WithLabelValues(kind),
		retired:  m.retired.WithLabelValues(kind),
		disposed: m.disposed.WithLabelValues(kind),
		live:     m.live,
		filtered: make(map[string]prometheus.Counter, len(reasons)),
	}
	for _, r := range reasons {
		meter.filtered[r] = m.filtered.WithLabelValues(r)
	}
	return meter
}

// Spawned counts a new child.
func (m *Meter) Spawned() {
	if m == nil {
		return
	}
	m.spawned.Inc()
	m.live.Inc()
}

// Retired counts a child marked done.
func (m *Meter) Retired() {
	if m == nil {
		return
	}
	m.retired.Inc()
}

// Disposed counts a disposed child.
func (m *Meter) Disposed() {
	if m == nil {
		return
	}
	m.disposed.Inc()
	m.live.Dec()
}

// Filtered counts a signal which wasn't adopted for provided reason.
// Unknown reasons aren't counted.
func (m *Meter) Filtered(reason string) {
	if m == nil {
		return
	}
	if c, ok := m.filtered[reason]; ok {
		c.Inc()
	}
}

// Live returns the gauge of children which are not disposed yet.
func (m *Meter) Live() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.live
}
