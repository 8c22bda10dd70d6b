// Package metrics exposes protocol counters over Prometheus. Updates are
// cheap atomic operations and never block protocol paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	CommandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromahost_commands_sent_total",
			Help: "Command frames written to the device.",
		},
		[]string{"command"},
	)

	CommandRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromahost_command_retries_total",
			Help: "Command attempts resent after a timeout or framing error.",
		},
		[]string{"command"},
	)

	CommandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromahost_command_failures_total",
			Help: "Commands that exhausted their overall timeout budget.",
		},
		[]string{"command"},
	)

	CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chromahost_command_duration_seconds",
			Help:    "Round-trip time of successful commands.",
			Buckets: prometheus.DefBuckets,
		},
	)

	FramesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chromahost_frames_received_total",
			Help: "Complete frames reassembled with a valid checksum.",
		},
	)

	FramingErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chromahost_framing_errors_total",
			Help: "Frames rejected for checksum or length violations.",
		},
	)

	DiagnosticLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chromahost_diagnostic_lines_total",
			Help: "Unsolicited device log lines emitted to the sink.",
		},
	)

	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromahost_connected",
			Help: "1 while a device session is open and responding to ping.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsSent,
		CommandRetries,
		CommandFailures,
		CommandDuration,
		FramesReceived,
		FramingErrors,
		DiagnosticLines,
		Connected,
	)
}

// Serve exposes /metrics on addr. It blocks; run it on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.WithField("component", "metrics").Infof("metrics listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
