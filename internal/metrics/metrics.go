package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipe metrics.
var (
	PipeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipe_size",
			Help: "Current number of elements held by the pipe",
		},
		[]string{"pipe"},
	)

	PipeCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipe_capacity",
			Help: "Fixed maximum capacity of the pipe",
		},
		[]string{"pipe"},
	)

	PipeEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipe_evictions_total",
			Help: "Total number of elements evicted on overflow",
		},
		[]string{"pipe"},
	)

	PipeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipe_operations_total",
			Help: "Total number of mutating pipe operations",
		},
		[]string{"pipe", "op"},
	)
)

// Status report metrics. The result label is one of "sent", "encode_error",
// "send_error", "skipped" or "dropped".
var (
	StatusReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_reports_total",
			Help: "Total number of status reports by outcome",
		},
		[]string{"pipe", "result"},
	)

	StatusSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "status_send_duration_seconds",
			Help:    "Duration of a single status report send",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipe"},
	)
)

// Monitor metrics.
var (
	MonitorMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_messages_total",
			Help: "Total number of status messages received by the monitor",
		},
		[]string{"status"},
	)

	MonitorObservedSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_observed_pipe_size",
			Help: "Last size reported by a pipe",
		},
		[]string{"pipe"},
	)

	MonitorObservedCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_observed_pipe_capacity",
			Help: "Last max capacity reported by a pipe",
		},
		[]string{"pipe"},
	)

	MonitorWebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_websocket_clients",
			Help: "Number of connected websocket listeners",
		},
	)
)

// Transport metrics.
var (
	TransportMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_messages_total",
			Help: "Total number of frames handled by a transport",
		},
		[]string{"transport", "direction", "status"},
	)
)
