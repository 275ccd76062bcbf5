package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "relay",
		Name:      "events_published_total",
		Help:      "Member-removed events handed to the broker, by result.",
	}, []string{"result"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolmatch",
		Subsystem: "relay",
		Name:      "events_consumed_total",
		Help:      "Member-removed events processed, by outcome (ok, dropped, retry).",
	}, []string{"result"})
)
