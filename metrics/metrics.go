// Package metrics instruments the runtime with Prometheus collectors:
// queue depth, interface state, content-store usage, and active call
// count.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the daemon updates from its hot paths.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDepth     *prometheus.GaugeVec
	InterfaceState *prometheus.GaugeVec
	RhizomeUsed    prometheus.Gauge
	RhizomeSpace   prometheus.Gauge
	CallCount      prometheus.Gauge
	FramesSent     *prometheus.CounterVec
	SyncRounds     prometheus.Counter
}

// New registers and returns a fresh Metrics bound to its own registry, so
// tests never collide with the default global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "txq",
			Name:      "queue_depth",
			Help:      "Current number of frames queued per priority class.",
		}, []string{"priority"}),
		InterfaceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "iface",
			Name:      "state",
			Help:      "Interface state (0=down, 1=detecting, 2=up) by name.",
		}, []string{"name"}),
		RhizomeUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "rhizome",
			Name:      "store_used_bytes",
			Help:      "Bytes currently used in the content store.",
		}),
		RhizomeSpace: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "rhizome",
			Name:      "store_space_bytes",
			Help:      "Configured space budget for the content store.",
		}),
		CallCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "vomp",
			Name:      "active_calls",
			Help:      "Number of non-destroyed VoMP call records.",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "txq",
			Name:      "frames_sent_total",
			Help:      "Overlay frames sent, by type.",
		}, []string{"type"}),
		SyncRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "rhizomesync",
			Name:      "rounds_total",
			Help:      "Completed sync/direct enquiry rounds.",
		}),
	}
	reg.MustRegister(m.QueueDepth, m.InterfaceState, m.RhizomeUsed, m.RhizomeSpace, m.CallCount, m.FramesSent, m.SyncRounds)
	return m
}

// InterfaceStateValue maps the interface State enum onto the gauge's
// numeric scale.
func InterfaceStateValue(state int) float64 { return float64(state) }
