// Package metrics exposes the Prometheus counters the GVCP engine and GVSP
// framer update, following the collector-registration pattern of
// route-beacon's internal/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the core publishes.
type Metrics struct {
	GVCPPacketsTotal           *prometheus.CounterVec
	ControllerTransitionsTotal prometheus.Counter
	GVSPPacketsTotal           *prometheus.CounterVec
	GVSPFramesTotal            prometheus.Counter
}

// New constructs a Metrics bundle. Call Register to attach it to a
// registry before scraping.
func New() *Metrics {
	return &Metrics{
		GVCPPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "gvcp",
			Name:      "packets_total",
			Help:      "GVCP command packets handled, by command code.",
		}, []string{"command"}),
		ControllerTransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "controller",
			Name:      "transitions_total",
			Help:      "Controller ownership transitions (take or release).",
		}),
		GVSPPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "gvsp",
			Name:      "packets_total",
			Help:      "GVSP packets sent, by packet kind (leader, payload, trailer).",
		}, []string{"kind"}),
		GVSPFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "gvsp",
			Name:      "frames_total",
			Help:      "Images framed and sent over GVSP.",
		}),
	}
}

// Register attaches every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.GVCPPacketsTotal,
		m.ControllerTransitionsTotal,
		m.GVSPPacketsTotal,
		m.GVSPFramesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncGVCPPacket increments the per-command GVCP packet counter. m may be
// nil, in which case this is a no-op.
func (m *Metrics) IncGVCPPacket(command string) {
	if m == nil {
		return
	}
	m.GVCPPacketsTotal.WithLabelValues(command).Inc()
}

// IncControllerTransition increments the controller transition counter. m
// may be nil, in which case this is a no-op.
func (m *Metrics) IncControllerTransition() {
	if m == nil {
		return
	}
	m.ControllerTransitionsTotal.Inc()
}

// IncGVSPPacket increments the per-kind GVSP packet counter. m may be nil.
func (m *Metrics) IncGVSPPacket(kind string) {
	if m == nil {
		return
	}
	m.GVSPPacketsTotal.WithLabelValues(kind).Inc()
}

// IncGVSPFrame increments the framed-image counter. m may be nil.
func (m *Metrics) IncGVSPFrame() {
	if m == nil {
		return
	}
	m.GVSPFramesTotal.Inc()
}
