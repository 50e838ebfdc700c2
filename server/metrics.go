package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alimasry/go-delta/delta"
)

type metrics struct {
	decodeErrors *prometheus.CounterVec
	changes      prometheus.Counter
	sessions     prometheus.Gauge
	clients      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "decode_errors_total",
			Help:      "Rejected deltas by decode error kind.",
		}, []string{"kind"}),
		changes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "delta",
			Name:      "changes_total",
			Help:      "Changes appended to documents.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "delta",
			Name:      "sessions",
			Help:      "Documents with an active session.",
		}),
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "delta",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
	}
}

func (m *metrics) decodeFailed(err error) {
	kind := "other"
	var de *delta.DecodeError
	if errors.As(err, &de) {
		kind = de.Kind.String()
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}
