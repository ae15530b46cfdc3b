// Package metrics holds the Prometheus collectors exported by sftphook.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sftphook"

// Metrics groups the plugin and sink collectors.
type Metrics struct {
	Invocations   *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	PluginsLoaded prometheus.Gauge
	SinkRecords   prometheus.Counter
	SinkDropped   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_invocations_total",
			Help:      "Plugin callbacks invoked, by operation and sequence.",
		}, []string{"op", "sequence"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_failures_total",
			Help:      "Plugin callbacks that returned a failure status, by operation and sequence.",
		}, []string{"op", "sequence"}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_loaded",
			Help:      "Plugins currently bound and enabled.",
		}),
		SinkRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_records_total",
			Help:      "Event records written to the sink.",
		}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Event records dropped, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Invocations, m.Failures, m.PluginsLoaded, m.SinkRecords, m.SinkDropped)
	}
	return m
}

// ObserveDispatch records one dispatch call.
func (m *Metrics) ObserveDispatch(op, sequence string, invocations, failures int) {
	if m == nil || invocations == 0 {
		return
	}
	m.Invocations.WithLabelValues(op, sequence).Add(float64(invocations))
	if failures > 0 {
		m.Failures.WithLabelValues(op, sequence).Add(float64(failures))
	}
}

// SetPluginsLoaded reports the number of enabled plugins.
func (m *Metrics) SetPluginsLoaded(n int) {
	if m == nil {
		return
	}
	m.PluginsLoaded.Set(float64(n))
}

// RecordWritten counts a record handed to the sink.
func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.SinkRecords.Inc()
}

// RecordDropped counts a record that could not be produced or written.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.SinkDropped.WithLabelValues(reason).Inc()
}
