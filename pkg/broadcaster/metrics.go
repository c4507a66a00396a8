package broadcaster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scannercast"

var (
	metricQueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_queue_size",
		Help:      "Recordings waiting to be streamed.",
	}, []string{"destination"})

	metricStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_streamed_recordings_total",
		Help:      "Recordings streamed to completion.",
	}, []string{"destination"})

	metricEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_evicted_recordings_total",
		Help:      "Recordings deleted because the queue was full.",
	}, []string{"destination"})

	metricAgedOff = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_aged_off_recordings_total",
		Help:      "Recordings deleted for exceeding the maximum age.",
	}, []string{"destination"})

	metricState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_state",
		Help:      "Current connection state, 1 for the active state.",
	}, []string{"destination", "state"})

	metricBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_bytes_sent_total",
		Help:      "Audio bytes handed to the server connection.",
	}, []string{"destination"})

	metricDroppedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_chunks_total",
		Help:      "Audio chunks dropped because the transport fell behind.",
	}, []string{"destination"})

	metricConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_connect_attempts_total",
		Help:      "Connection attempts by resulting state.",
	}, []string{"destination", "result"})
)
