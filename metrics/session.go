package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EpochsStarted tracks every epoch a server session enters
	// Enlisting for, by whether it proposed or followed.
	EpochsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epoch",
			Name:      "started_total",
			Help:      "Total number of epochs started",
		},
		[]string{"role"}, // proposer, follower
	)

	// EpochsRestarted tracks epochs abandoned back to Offline, by reason.
	EpochsRestarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epoch",
			Name:      "restarted_total",
			Help:      "Total number of epochs restarted before completion",
		},
		[]string{"reason"},
	)

	// EpochDuration tracks how long an epoch spends between the session
	// entering WaitingForServersAndInit (server) or WaitingForServer
	// (client) and either Communicating or a restart.
	EpochDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "epoch",
			Name:      "duration_seconds",
			Help:      "Time from epoch start to Communicating or restart",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	// RoundsStarted tracks anonymity rounds entering Communicating.
	RoundsStarted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "started_total",
			Help:      "Total number of anonymity rounds started",
		},
	)

	// RoundsFinished tracks round completion, by outcome.
	RoundsFinished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "finished_total",
			Help:      "Total number of anonymity rounds finished",
		},
		[]string{"result"}, // completed, stopped, error
	)

	// ClientsRegistered tracks ClientRegister acceptances during
	// Registering.
	ClientsRegistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "registered_total",
			Help:      "Total number of clients admitted to a round",
		},
	)
)
