package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardingOperationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarding",
			Name:      "operations_total",
			Help:      "Total forwarding state machine operations.",
		},
		[]string{"operation", "result"}, // result: "success", "validation", "remote_unavailable", "error"
	)

	forwardingLoadSourceCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarding",
			Name:      "load_source_total",
			Help:      "Where Load took its state from.",
		},
		[]string{"source"}, // "remote", "cache", "none"
	)

	forwardingCarrierStepsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarding",
			Name:      "carrier_steps_total",
			Help:      "Carrier dial sequences issued to devices.",
		},
		[]string{"purpose", "kind", "confirmed"},
	)

	forwardingOperationDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forwarding",
			Name:      "operation_duration_seconds",
			Help:      "Duration of forwarding state machine operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
