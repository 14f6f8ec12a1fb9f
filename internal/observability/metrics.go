package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tqftpserv",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Transfer sessions currently live, by direction.",
		},
		[]string{"direction"},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Sessions torn down, by direction and reason.",
		},
		[]string{"direction", "reason"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Read and write requests received on the rendezvous socket.",
		},
		[]string{"op"},
	)
	blocksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "protocol",
			Name:      "blocks_sent_total",
			Help:      "Data blocks sent to readers.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "protocol",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent to readers.",
		},
	)
	blocksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "protocol",
			Name:      "blocks_received_total",
			Help:      "Data blocks accepted from writers.",
		},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tqftpserv",
			Subsystem: "protocol",
			Name:      "bytes_received_total",
			Help:      "Payload bytes accepted from writers.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive, sessionsClosed, requestsTotal,
			blocksSent, bytesSent, blocksReceived, bytesReceived,
		)
	})
}

func RequestReceived(op string) {
	RegisterMetrics()
	requestsTotal.WithLabelValues(op).Inc()
}

func SessionOpened(direction string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(direction).Inc()
}

func SessionClosed(direction, reason string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(direction).Dec()
	sessionsClosed.WithLabelValues(direction, reason).Inc()
}

func BlockSent(payloadBytes int) {
	RegisterMetrics()
	blocksSent.Inc()
	bytesSent.Add(float64(payloadBytes))
}

func BlockReceived(payloadBytes int) {
	RegisterMetrics()
	blocksReceived.Inc()
	bytesReceived.Add(float64(payloadBytes))
}
