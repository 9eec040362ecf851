package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// ValidateDecision checks whether a reviewer may cast a vote given the
// decisions already recorded for the (study, phase) pair. It is a fast-path
// pre-check only: two concurrent requests can both pass it before either
// commits, so the unique index on (project_work_id, phase, reviewer_id) is
// the real duplicate guard.
func ValidateDecision(reviewerID uuid.UUID, existing []*models.DecisionRecord, cfg models.ScreeningConfig) error {
	for _, d := range existing {
		if d.ReviewerID == reviewerID {
			return fmt.Errorf("reviewer %s already voted in this phase: %w", reviewerID, apperrors.ErrValidation)
		}
	}

	if needed := cfg.ReviewersNeeded(); len(existing) >= needed {
		return fmt.Errorf("reviewer quota of %d already satisfied: %w", needed, apperrors.ErrValidation)
	}

	return nil
}
