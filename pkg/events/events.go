// Package events defines the domain events published by the screening core
// and an in-process dispatcher that fans them out to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/trialsift/trialsift-engine/pkg/models"
)

// AdvanceTrigger identifies what caused a phase advancement.
type AdvanceTrigger string

const (
	TriggerAuto               AdvanceTrigger = "auto"
	TriggerManual             AdvanceTrigger = "manual"
	TriggerConflictResolution AdvanceTrigger = "conflict_resolution"
)

// Event is implemented by every domain event.
type Event interface {
	EventName() string
}

// DecisionMade is published for every accepted reviewer decision.
type DecisionMade struct {
	ProjectWorkID uuid.UUID                    `json:"project_work_id"`
	ProjectID     uuid.UUID                    `json:"project_id"`
	ReviewerID    uuid.UUID                    `json:"reviewer_id"`
	Phase         models.Phase                 `json:"phase"`
	Decision      models.Decision              `json:"decision"`
	Result        models.StateTransitionResult `json:"result"`
	OccurredAt    time.Time                    `json:"occurred_at"`
}

func (DecisionMade) EventName() string { return "screening.decision_made" }

// ConflictCreated is published when reviewer disagreement opens a conflict.
type ConflictCreated struct {
	ProjectWorkID uuid.UUID             `json:"project_work_id"`
	ProjectID     uuid.UUID             `json:"project_id"`
	Phase         models.Phase          `json:"phase"`
	Decisions     []models.ConflictVote `json:"decisions"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

func (ConflictCreated) EventName() string { return "screening.conflict_created" }

// ConflictResolved is published when a human tie-break closes a conflict.
type ConflictResolved struct {
	ConflictID    uuid.UUID       `json:"conflict_id"`
	ProjectWorkID uuid.UUID       `json:"project_work_id"`
	ProjectID     uuid.UUID       `json:"project_id"`
	Phase         models.Phase    `json:"phase"`
	ResolverID    uuid.UUID       `json:"resolver_id"`
	FinalDecision models.Decision `json:"final_decision"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (ConflictResolved) EventName() string { return "screening.conflict_resolved" }

// IngestionRequested is published after an ingestion job is accepted by the
// queue. Source carries the trigger tag for observability.
type IngestionRequested struct {
	ProjectWorkID uuid.UUID `json:"project_work_id"`
	ProjectID     uuid.UUID `json:"project_id"`
	WorkID        uuid.UUID `json:"work_id"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (IngestionRequested) EventName() string { return "screening.ingestion_requested" }

// PhaseAdvanced is published when a single study moves to the next phase.
type PhaseAdvanced struct {
	ProjectWorkID uuid.UUID      `json:"project_work_id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	FromPhase     models.Phase   `json:"from_phase"`
	ToPhase       models.Phase   `json:"to_phase"`
	TriggeredBy   AdvanceTrigger `json:"triggered_by"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (PhaseAdvanced) EventName() string { return "screening.phase_advanced" }

// PhaseBatchAdvanced is the audit record of a bulk phase advancement.
type PhaseBatchAdvanced struct {
	ProjectID   uuid.UUID      `json:"project_id"`
	FromPhase   models.Phase   `json:"from_phase"`
	ToPhase     models.Phase   `json:"to_phase"`
	Advanced    int            `json:"advanced"`
	TriggeredBy AdvanceTrigger `json:"triggered_by"`
	ActorID     uuid.UUID      `json:"actor_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func (PhaseBatchAdvanced) EventName() string { return "screening.phase_batch_advanced" }

// Publisher is the port the screening core publishes through.
type Publisher interface {
	Publish(event Event)
}
