package streammanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRecordingsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scannercast",
		Name:      "streammanager_recordings_completed_total",
		Help:      "Recordings finalized, by reason.",
	}, []string{"reason"})

	metricRecordingsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scannercast",
		Name:      "streammanager_recordings_dropped_total",
		Help:      "Recordings discarded after a file error.",
	})

	metricActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scannercast",
		Name:      "streammanager_active_recordings",
		Help:      "Recordings currently being captured.",
	})
)
