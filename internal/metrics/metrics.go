// Package metrics defines Prometheus instrumentation for the sync client.
//
// All collectors live on a caller-owned registry so embedding applications
// keep control of their metrics endpoint. Passing a nil Registerer to New
// yields working but unregistered collectors, which is what tests and
// callers without an exporter want.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bulq"

// Metrics holds every collector the client emits.
type Metrics struct {
	// Channel manager.
	Reconnects    prometheus.Counter
	Messages      *prometheus.CounterVec // labelled by envelope type
	DroppedFrames prometheus.Counter
	Heartbeats    prometheus.Counter
	ConnState     *prometheus.GaugeVec // labelled by topic URL

	// Cache coherence layer.
	StaleDiscards prometheus.Counter
	Refetches     prometheus.Counter
	Rollbacks     prometheus.Counter
}

// New builds the collector set and registers it with reg.
// reg may be nil, in which case nothing is registered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts made after abnormal closures.",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "Inbound envelopes delivered to subscribers, by type.",
		}, []string{"type"}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because they failed to parse or validate.",
		}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "heartbeats_total",
			Help:      "Heartbeat pings sent on write-idle connections.",
		}),
		ConnState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connection_state",
			Help:      "Connection state: 0 closed, 1 connecting, 2 open, 3 closing.",
		}, []string{"topic"}),
		StaleDiscards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "stale_discards_total",
			Help:      "Remote results discarded because a newer generation was already applied.",
		}),
		Refetches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refetches_total",
			Help:      "Background refetches triggered by invalidation or staleness.",
		}),
		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rollbacks_total",
			Help:      "Optimistic patches rolled back after remote rejection.",
		}),
	}
}
