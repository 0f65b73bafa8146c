package bus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activecard_frames_received_total",
			Help: "Number of full frames received, by event",
		},
		[]string{"event"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activecard_frames_sent_total",
			Help: "Number of full frames sent, by event",
		},
		[]string{"event"},
	)
	packetsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activecard_packets_sent_total",
			Help: "Number of transport packets written",
		},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activecard_frame_errors_total",
			Help: "Number of frame errors, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(framesSent)
	prometheus.MustRegister(packetsSent)
	prometheus.MustRegister(frameErrors)
}

// MetricsHandler exposes the bus counters, together with the rest of the
// default registry, in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
