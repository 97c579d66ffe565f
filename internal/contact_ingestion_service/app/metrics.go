package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	natsAccountLinkedReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contacts_ingestion",
			Name:      "nats_account_linked_received_total",
			Help:      "Total account-linked events received from NATS.",
		},
		[]string{"subject"},
	)

	ingestionRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contacts_ingestion",
			Name:      "runs_total",
			Help:      "Total contact ingestion runs.",
		},
		[]string{"status"}, // "success", "partial_data", "store_failed", "invalid"
	)

	ingestionPagesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contacts_ingestion",
			Name:      "pages_fetched_total",
			Help:      "Total contact pages fetched from the external source.",
		},
	)

	ingestionContactsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contacts_ingestion",
			Name:      "contacts_total",
			Help:      "Contacts seen by ingestion runs.",
		},
		[]string{"outcome"}, // "stored", "duplicate", "skipped"
	)

	ingestionRunDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "contacts_ingestion",
			Name:      "run_duration_seconds",
			Help:      "Duration of contact ingestion runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)
