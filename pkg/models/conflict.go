package models

import (
	"time"

	"github.com/google/uuid"
)

// Conflict status constants.
const (
	ConflictStatusPending  = "pending"
	ConflictStatusResolved = "resolved"
)

// ConflictVote is one reviewer's position captured when a conflict is created.
// The snapshot is stored on the conflict row so resolvers see the disagreement
// as it stood, even if decisions are later reset.
type ConflictVote struct {
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Decision   Decision  `json:"decision"`
}

// Conflict records a reviewer disagreement for a (study, phase) pair.
// At most one open conflict may exist per pair.
type Conflict struct {
	ID            uuid.UUID      `json:"id"`
	ProjectWorkID uuid.UUID      `json:"project_work_id"`
	Phase         Phase          `json:"phase"`
	Status        string         `json:"status"`
	Decisions     []ConflictVote `json:"decisions"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ConflictResolution is a human tie-break. It is created atomically with
// flipping the parent conflict to resolved; a conflict resolves exactly once.
type ConflictResolution struct {
	ID            uuid.UUID `json:"id"`
	ConflictID    uuid.UUID `json:"conflict_id"`
	ResolverID    uuid.UUID `json:"resolver_id"`
	FinalDecision Decision  `json:"final_decision"`
	Reasoning     *string   `json:"reasoning,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at"`
}
