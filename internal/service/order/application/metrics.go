package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verbapost_stage_transitions_total",
		Help: "Order stage transitions, by source and target stage.",
	}, []string{"from", "to"})

	advanceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verbapost_advance_failures_total",
		Help: "Rejected or failed advance calls, by action and error kind.",
	}, []string{"action", "kind"})

	lettersMailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verbapost_letters_total",
		Help: "Per-recipient letter outcomes after finalization.",
	}, []string{"tier", "outcome"})
)
