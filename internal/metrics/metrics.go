// Package metrics holds the Prometheus collectors shared by the host,
// controller and signaling binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "duelo"

// Metrics groups every collector. All fields are always non-nil.
type Metrics struct {
	ConnectionsOpen  prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	SnapshotsSent    prometheus.Counter
	SendFailures     prometheus.Counter
	IdentifyRejected *prometheus.CounterVec
	Reconnects       prometheus.Counter
	Pauses           prometheus.Counter
	Kicks            prometheus.Counter

	SignalPeers    prometheus.Gauge
	SignalRelayed  *prometheus.CounterVec
	SignalRejected *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "connections_open",
			Help:      "Peer connections currently registered with the host.",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "messages_received_total",
			Help:      "Decoded messages received from peers, by type.",
		}, []string{"type"}),
		SnapshotsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "snapshots_broadcast_total",
			Help:      "State snapshots broadcast to controllers.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "send_failures_total",
			Help:      "Frames that could not be handed to an open connection.",
		}),
		IdentifyRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "identify_rejected_total",
			Help:      "IDENTIFY requests rejected, by reason.",
		}, []string{"reason"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "reconnects_total",
			Help:      "Players re-homed onto a new connection.",
		}),
		Pauses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "pauses_total",
			Help:      "Mid-game disconnects that paused the game.",
		}),
		Kicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "kicks_total",
			Help:      "Connections kicked by the host operator.",
		}),
		SignalPeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "peers_registered",
			Help:      "Peers currently registered on this signaling server.",
		}),
		SignalRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "relayed_total",
			Help:      "Signaling messages relayed, by type.",
		}, []string{"type"}),
		SignalRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "rejected_total",
			Help:      "Signaling requests rejected, by error code.",
		}, []string{"code"}),
	}
}

// NewNop returns collectors registered on a private registry, for callers
// that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Value reads the current value of a counter or gauge.
func Value(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	default:
		return 0
	}
}
