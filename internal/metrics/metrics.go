package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReportsReceived counts device payloads by source shape.
	ReportsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrack_reports_received_total",
			Help: "Total number of device reports received.",
		},
		[]string{"source"},
	)

	// ReportsRejected counts rejected reports by reason: malformed, unsupported,
	// unknown_device, stale, internal.
	ReportsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrack_reports_rejected_total",
			Help: "Total number of device reports rejected.",
		},
		[]string{"reason"},
	)

	HistoryAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrack_history_appends_total",
			Help: "Total number of history entries written.",
		},
	)

	VehiclesAutoRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleettrack_vehicles_auto_registered_total",
			Help: "Total number of vehicles created on first contact.",
		},
	)

	// CommandTransitions counts command lifecycle changes by type and resulting status.
	CommandTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleettrack_command_transitions_total",
			Help: "Total number of command status transitions.",
		},
		[]string{"type", "status"},
	)

	IngestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleettrack_ingest_latency_seconds",
			Help:    "Latency of processing one device report.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	DeviceSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleettrack_device_sessions",
			Help: "Number of open device TCP sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReportsReceived,
		ReportsRejected,
		HistoryAppends,
		VehiclesAutoRegistered,
		CommandTransitions,
		IngestLatency,
		DeviceSessions,
	)
}
