// Package prom exports metrics.Registrar events to Prometheus. It is
// grounded on the teacher's observability/prom.TunnelObserver: the same
// registry-per-process, MustRegister-on-construction shape, retargeted
// at this specification's connection and record-layer counters instead
// of websocket-tunnel attach/replace/channel counts.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports connection-manager and record-layer metrics to Prometheus.
type Observer struct {
	connectionsActive prometheus.Gauge
	handshakeTotal    *prometheus.CounterVec
	recordsSent       prometheus.Counter
	recordsReceived   prometheus.Counter
	rekeyTotal        prometheus.Counter
	replayRejected    prometheus.Counter
}

// NewObserver registers the p2pmsg metrics on reg.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2pmsg_connections_active",
			Help: "Current number of established peer connections (0 or 1).",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "p2pmsg_handshake_total",
			Help: "Handshake attempts by outcome.",
		}, []string{"result"}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pmsg_records_sent_total",
			Help: "Sealed record-layer frames sent.",
		}),
		recordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pmsg_records_received_total",
			Help: "Record-layer frames opened successfully.",
		}),
		rekeyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pmsg_rekey_total",
			Help: "Rekey exchanges completed.",
		}),
		replayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pmsg_replay_rejected_total",
			Help: "Inbound frames rejected by the replay window.",
		}),
	}
	reg.MustRegister(
		o.connectionsActive,
		o.handshakeTotal,
		o.recordsSent,
		o.recordsReceived,
		o.rekeyTotal,
		o.replayRejected,
	)
	return o
}

func (o *Observer) ConnectionOpened() { o.connectionsActive.Inc() }
func (o *Observer) ConnectionClosed() { o.connectionsActive.Dec() }

func (o *Observer) HandshakeResult(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	o.handshakeTotal.WithLabelValues(result).Inc()
}

func (o *Observer) RecordSent()     { o.recordsSent.Inc() }
func (o *Observer) RecordReceived() { o.recordsReceived.Inc() }
func (o *Observer) Rekey()          { o.rekeyTotal.Inc() }
func (o *Observer) ReplayRejected() { o.replayRejected.Inc() }
