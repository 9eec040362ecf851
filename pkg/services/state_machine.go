package services

import (
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// CalculateNextState computes a study's next workflow state from its decision
// history. It is pure and deterministic: no I/O, no clock, total over all
// well-formed inputs. The orchestration layer is responsible for turning the
// result into persisted mutations and side effects.
//
// Outcomes, in evaluation order:
//   - fewer votes than the reviewer quota: the study stays in screening
//   - disagreement under the configured consensus policy: a conflict opens,
//     carrying a snapshot of every vote
//   - consensus INCLUDE at title/abstract: the study advances a phase with a
//     clean slate (pending, no final decision) for the next independent vote
//   - any other consensus: the matching terminal status; ingestion is
//     requested only for a terminal INCLUDE, never on the same transition
//     that advances a phase
func CalculateNextState(dc models.DecisionContext) models.StateTransitionResult {
	needed := dc.Config.ReviewersNeeded()

	if len(dc.Decisions) < needed {
		return models.StateTransitionResult{
			NewStatus: models.StatusScreening,
			NewPhase:  dc.Phase,
			Metadata: map[string]any{
				"votes_recorded": len(dc.Decisions),
				"votes_needed":   needed,
			},
		}
	}

	consensus, ok := consensusDecision(dc.Decisions, dc.Config)
	if !ok {
		// Single screening never conflicts; with one reviewer any vote is
		// unanimous, so reaching here implies needed >= 2.
		return models.StateTransitionResult{
			NewStatus:       models.StatusConflict,
			NewPhase:        dc.Phase,
			ConflictCreated: true,
			ConflictVotes:   voteSnapshot(dc.Decisions),
			Metadata: map[string]any{
				"policy": string(dc.Config.Policy()),
			},
		}
	}

	shouldAdvance := dc.Phase == models.PhaseTitleAbstract && consensus == models.DecisionInclude
	if shouldAdvance {
		next, _ := dc.Phase.Next()
		return models.StateTransitionResult{
			NewStatus:          models.StatusPending,
			NewPhase:           next,
			ShouldAdvancePhase: true,
			Metadata: map[string]any{
				"consensus_decision": string(consensus),
			},
		}
	}

	final := consensus
	return models.StateTransitionResult{
		NewStatus:              models.StatusForDecision(consensus),
		NewPhase:               dc.Phase,
		FinalDecision:          &final,
		ShouldTriggerIngestion: consensus == models.DecisionInclude,
		Metadata: map[string]any{
			"consensus_decision": string(consensus),
		},
	}
}

// consensusDecision applies the configured policy to a full vote set.
// Returns false when the votes do not resolve to a single decision.
func consensusDecision(decisions []*models.DecisionRecord, cfg models.ScreeningConfig) (models.Decision, bool) {
	counts := make(map[models.Decision]int, 3)
	for _, d := range decisions {
		counts[d.Decision]++
	}

	if len(counts) == 1 {
		return decisions[0].Decision, true
	}

	if cfg.Policy() == models.PolicyMajority {
		for decision, count := range counts {
			if count*2 > len(decisions) {
				return decision, true
			}
		}
	}

	return "", false
}

func voteSnapshot(decisions []*models.DecisionRecord) []models.ConflictVote {
	votes := make([]models.ConflictVote, len(decisions))
	for i, d := range decisions {
		votes[i] = models.ConflictVote{ReviewerID: d.ReviewerID, Decision: d.Decision}
	}
	return votes
}
