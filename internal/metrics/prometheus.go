package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts ingested bus events by kind and result.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cohorttracker_events_total",
			Help: "Total number of ingested extraction-job events",
		},
		[]string{"kind", "result"},
	)

	// IngestDuration tracks how long the engine takes to process one event.
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cohorttracker_ingest_duration_seconds",
			Help:    "Duration of event ingestion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"kind"},
	)

	// WorkersActive tracks the number of currently busy ingestion workers.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cohorttracker_workers_active",
			Help: "Number of currently active ingestion worker goroutines",
		},
	)

	// TerminalTransitions counts completed and failed jobs.
	TerminalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cohorttracker_terminal_transitions_total",
			Help: "Total number of jobs moved to a terminal state",
		},
		[]string{"outcome"},
	)
)
