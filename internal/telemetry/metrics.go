package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Transfer metrics
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Total number of transfer attempts by outcome",
		},
		[]string{"outcome"}, // committed, or the abort reason in lowercase
	)

	TransferAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_transfer_amount",
			Help:    "Transfer amount distribution (in cents)",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"outcome"},
	)

	TransferRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_transfer_retries_total",
			Help: "Total number of transfer attempts re-run after a commit conflict",
		},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_commit_duration_seconds",
			Help:    "Time to commit one atomic unit",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Identity metrics
	SignupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_signups_total",
			Help: "Total number of successful signups",
		},
	)

	// NATS metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Total number of transfer events published",
		},
		[]string{"subject"},
	)
)
