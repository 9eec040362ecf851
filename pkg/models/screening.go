package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsensusPolicy determines how agreement among reviewers is computed.
// These values must match the database enum consensus_policy.
type ConsensusPolicy string

const (
	// PolicyUnanimity requires every reviewer to cast the same decision.
	// Any disagreement creates a conflict.
	PolicyUnanimity ConsensusPolicy = "unanimity"

	// PolicyMajority resolves to the decision held by more than half of the
	// reviewers. Only meaningful for three or more reviewers; an exact tie
	// still creates a conflict.
	PolicyMajority ConsensusPolicy = "majority"
)

// ScreeningConfig is an immutable snapshot of a project's screening settings,
// taken once per decision so mid-transaction config changes cannot skew results.
type ScreeningConfig struct {
	RequireDualScreening bool            `json:"require_dual_screening"`
	BlindScreening       bool            `json:"blind_screening"`
	ConsensusPolicy      ConsensusPolicy `json:"consensus_policy"`

	// Reviewers overrides the derived reviewer quota when set to 2 or more.
	// Zero means derive from RequireDualScreening.
	Reviewers int `json:"reviewers,omitempty"`
}

// ReviewersNeeded returns the number of independent votes required per study
// per phase. Always at least 1.
func (c ScreeningConfig) ReviewersNeeded() int {
	if c.Reviewers > 1 {
		return c.Reviewers
	}
	if c.RequireDualScreening {
		return 2
	}
	return 1
}

// Policy returns the configured consensus policy, defaulting to unanimity.
func (c ScreeningConfig) Policy() ConsensusPolicy {
	if c.ConsensusPolicy == PolicyMajority {
		return PolicyMajority
	}
	return PolicyUnanimity
}

// DecisionRecord is a single reviewer vote. Records are immutable once created;
// only the out-of-band reset operation ever removes them.
type DecisionRecord struct {
	ID            uuid.UUID `json:"id"`
	ProjectWorkID uuid.UUID `json:"project_work_id"`
	ReviewerID    uuid.UUID `json:"reviewer_id"`
	Phase         Phase     `json:"phase"`
	Decision      Decision  `json:"decision"`
	Reasoning     *string   `json:"reasoning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DecisionContext is the full input to the state machine: the phase being
// screened, the config snapshot, and every decision recorded so far for the
// (study, phase) pair, ordered by creation time.
type DecisionContext struct {
	Phase     Phase
	Config    ScreeningConfig
	Decisions []*DecisionRecord
}
