package pollbroke

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pollbroke"

type metrics struct {
	connsActive   prometheus.Gauge
	connsAccepted prometheus.Counter
	connsRejected *prometheus.CounterVec
	packets       *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	bytesRx       prometheus.Counter
	bytesTx       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of connections in the connection table",
		}),
		connsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of connections accepted into the connection table",
		}),
		connsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections dropped at accept",
		}, []string{"reason"}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_decoded_total",
			Help:      "Total number of packets decoded, by type",
		}, []string{"type"}),
		parseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parse_errors_total",
			Help:      "Total number of connections dropped on a decode failure",
		}, []string{"error"}),
		bytesRx: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total bytes read from clients",
		}),
		bytesTx: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Total bytes written to clients",
		}),
	}
}
