package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scannercast",
		Name:      "broadcast_packets_received_total",
		Help:      "Audio packets received for broadcast, by packet type.",
	}, []string{"type"})

	metricDestinations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scannercast",
		Name:      "broadcast_destinations",
		Help:      "Configured destinations, by whether they could be activated.",
	}, []string{"status"})

	metricMQTTPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scannercast",
		Name:      "broadcast_mqtt_publishes_total",
		Help:      "Destination events published to MQTT, by result.",
	}, []string{"result"})
)
