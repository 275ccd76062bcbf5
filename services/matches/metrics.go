package matches

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"poolmatch/pkg/apperr"
)

var (
	matchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "matches",
		Name:      "created_total",
		Help:      "Match creation attempts by result.",
	}, []string{"result"})

	decisionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "matches",
		Name:      "decisions_total",
		Help:      "Decisions recorded by value.",
	}, []string{"decision"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "matches",
		Name:      "status_transitions_total",
		Help:      "Derived status changes.",
	}, []string{"from", "to"})

	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "cleanup",
		Name:      "runs_total",
		Help:      "Cleanup runs by scope and result.",
	}, []string{"scope", "result"})

	cleanupMatchesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "cleanup",
		Name:      "matches_deleted_total",
		Help:      "Matches removed by cleanup.",
	})

	cleanupDecisionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "cleanup",
		Name:      "decisions_deleted_total",
		Help:      "Decisions removed by cleanup.",
	})
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
