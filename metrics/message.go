package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MessagesProcessed tracks every inbound protocol packet a session's
// driver dispatches, by wire type and outcome.
var MessagesProcessed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "processed_total",
		Help:      "Total number of inbound packets dispatched",
	},
	[]string{"type", "status"}, // status: accepted, rejected, error
)

// MessageSize tracks the encoded size of outbound packets, by wire type.
var MessageSize = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "message",
		Name:      "size_bytes",
		Help:      "Size of packets sent over the overlay",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	},
	[]string{"type"},
)
