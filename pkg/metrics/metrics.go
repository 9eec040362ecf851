// Package metrics exposes prometheus counters for the screening core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trialsift/trialsift-engine/pkg/events"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trialsift_decisions_total",
		Help: "Reviewer decisions accepted, by decision value.",
	}, []string{"decision"})

	conflictsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trialsift_conflicts_created_total",
		Help: "Conflicts opened by reviewer disagreement.",
	})

	phaseAdvancementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trialsift_phase_advancements_total",
		Help: "Single-study phase advancements, by trigger.",
	}, []string{"trigger"})

	batchAdvancedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trialsift_batch_advanced_studies_total",
		Help: "Studies promoted by batch phase advancement.",
	})

	conflictsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trialsift_conflicts_resolved_total",
		Help: "Conflicts closed by a human tie-break, by final decision.",
	}, []string{"decision"})

	ingestionEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trialsift_ingestion_enqueued_total",
		Help: "Ingestion jobs accepted by the queue, by trigger source.",
	}, []string{"source"})
)

// Handler returns the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Subscriber returns an event subscriber that mirrors domain events into
// prometheus counters. Wire it into the event dispatcher at startup.
func Subscriber() events.Subscriber {
	return func(e events.Event) {
		switch ev := e.(type) {
		case events.DecisionMade:
			decisionsTotal.WithLabelValues(string(ev.Decision)).Inc()
		case events.ConflictCreated:
			conflictsCreatedTotal.Inc()
		case events.PhaseAdvanced:
			phaseAdvancementsTotal.WithLabelValues(string(ev.TriggeredBy)).Inc()
		case events.PhaseBatchAdvanced:
			batchAdvancedTotal.Add(float64(ev.Advanced))
		case events.ConflictResolved:
			conflictsResolvedTotal.WithLabelValues(string(ev.FinalDecision)).Inc()
		case events.IngestionRequested:
			ingestionEnqueuedTotal.WithLabelValues(ev.Source).Inc()
		}
	}
}
