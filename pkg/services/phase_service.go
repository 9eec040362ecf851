package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/events"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/repositories"
)

// AdvanceResult reports the outcome of a batch phase advancement.
type AdvanceResult struct {
	Advanced  int `json:"advanced"`
	Repaired  int `json:"repaired"`
	Conflicts int `json:"conflicts"`
}

// RepairOutcome reports what an opportunistic repair pass materialized.
type RepairOutcome struct {
	Finalized int
	Conflicts int
}

// PhaseService runs the administrative bulk promotion of consensus-included
// studies into the next phase, plus the repair logic shared with the
// reconciliation sweep.
type PhaseService interface {
	// AdvancePhase promotes every included study of the phase to the next
	// one, all-or-nothing. Returns apperrors.ErrValidation when no next phase
	// exists and a *apperrors.PrerequisiteError when studies without a PDF or
	// source URL block entry into full-text screening.
	AdvancePhase(ctx context.Context, projectID uuid.UUID, current models.Phase, actorID uuid.UUID) (*AdvanceResult, error)

	// RepairPending finalizes studies stuck in pending/screening that already
	// hold a full vote quota. Disagreements open conflicts; studies without a
	// full quota are left untouched.
	RepairPending(ctx context.Context, projectID uuid.UUID, phase models.Phase) (RepairOutcome, error)
}

type phaseService struct {
	works     repositories.WorkRepository
	decisions repositories.DecisionRepository
	conflicts repositories.ConflictRepository
	projects  repositories.ProjectRepository
	publisher events.Publisher
	logger    *zap.Logger
}

// NewPhaseService creates a new PhaseService.
func NewPhaseService(
	works repositories.WorkRepository,
	decisions repositories.DecisionRepository,
	conflicts repositories.ConflictRepository,
	projects repositories.ProjectRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) PhaseService {
	return &phaseService{
		works:     works,
		decisions: decisions,
		conflicts: conflicts,
		projects:  projects,
		publisher: publisher,
		logger:    logger.Named("phase-service"),
	}
}

var _ PhaseService = (*phaseService)(nil)

func (s *phaseService) AdvancePhase(ctx context.Context, projectID uuid.UUID, current models.Phase, actorID uuid.UUID) (*AdvanceResult, error) {
	next, ok := current.Next()
	if !ok {
		return nil, fmt.Errorf("phase %s has no next phase: %w", current, apperrors.ErrValidation)
	}

	repair, err := s.RepairPending(ctx, projectID, current)
	if err != nil {
		return nil, fmt.Errorf("repair pass: %w", err)
	}

	if next == models.PhaseFullText {
		blocking, err := s.works.CountIncludedWithoutDocument(ctx, projectID, current)
		if err != nil {
			return nil, fmt.Errorf("check advancement prerequisites: %w", err)
		}
		if blocking > 0 {
			return nil, &apperrors.PrerequisiteError{
				BlockingCount: blocking,
				TargetPhase:   string(next),
			}
		}
	}

	var advanced int
	err = database.RunInTx(ctx, func(txCtx context.Context) error {
		n, err := s.works.AdvanceIncluded(txCtx, projectID, current, next)
		if err != nil {
			return err
		}
		advanced = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance phase: %w", err)
	}

	s.publisher.Publish(events.PhaseBatchAdvanced{
		ProjectID:   projectID,
		FromPhase:   current,
		ToPhase:     next,
		Advanced:    advanced,
		TriggeredBy: events.TriggerManual,
		ActorID:     actorID,
		OccurredAt:  time.Now(),
	})

	s.logger.Info("Phase advanced",
		zap.String("project_id", projectID.String()),
		zap.String("from", string(current)),
		zap.String("to", string(next)),
		zap.Int("advanced", advanced),
		zap.Int("repaired", repair.Finalized),
		zap.Int("conflicts", repair.Conflicts))

	return &AdvanceResult{
		Advanced:  advanced,
		Repaired:  repair.Finalized,
		Conflicts: repair.Conflicts,
	}, nil
}

func (s *phaseService) RepairPending(ctx context.Context, projectID uuid.UUID, phase models.Phase) (RepairOutcome, error) {
	cfg, found, err := s.projects.GetScreeningConfig(ctx, projectID)
	if err != nil {
		return RepairOutcome{}, fmt.Errorf("get screening config: %w", err)
	}
	if !found {
		return RepairOutcome{}, fmt.Errorf("project %s: %w", projectID, apperrors.ErrNotFound)
	}

	stuck, err := s.works.ListByStatuses(ctx, projectID, phase,
		[]models.WorkStatus{models.StatusPending, models.StatusScreening})
	if err != nil {
		return RepairOutcome{}, fmt.Errorf("list unfinished works: %w", err)
	}

	var outcome RepairOutcome
	for _, work := range stuck {
		recorded, err := s.decisions.ListByWorkPhase(ctx, work.ID, phase)
		if err != nil {
			return outcome, fmt.Errorf("list decisions for %s: %w", work.ID, err)
		}
		if len(recorded) < cfg.ReviewersNeeded() {
			continue
		}

		consensus, ok := consensusDecision(recorded, cfg)
		if !ok {
			// Unresolvable vote set: materialize the conflict so a human
			// breaks the tie. The study is excluded from this advancement.
			err := database.RunInTx(ctx, func(txCtx context.Context) error {
				conflict := &models.Conflict{
					ProjectWorkID: work.ID,
					Phase:         phase,
					Decisions:     voteSnapshot(recorded),
				}
				if err := s.conflicts.Upsert(txCtx, conflict); err != nil {
					return err
				}
				return s.works.UpdateState(txCtx, work.ID, repositories.StateUpdate{
					Status: models.StatusConflict,
					Phase:  phase,
				})
			})
			if err != nil {
				return outcome, fmt.Errorf("materialize conflict for %s: %w", work.ID, err)
			}
			outcome.Conflicts++
			continue
		}

		// Materialize the terminal status the live path never wrote. The
		// bulk advance carries included studies forward, so no auto-advance
		// happens here.
		final := consensus
		err = s.works.UpdateState(ctx, work.ID, repositories.StateUpdate{
			Status:        models.StatusForDecision(consensus),
			Phase:         phase,
			FinalDecision: &final,
		})
		if err != nil {
			return outcome, fmt.Errorf("finalize %s: %w", work.ID, err)
		}
		outcome.Finalized++

		s.logger.Info("Repaired unmaterialized decision state",
			zap.String("project_work_id", work.ID.String()),
			zap.String("phase", string(phase)),
			zap.String("decision", string(consensus)))
	}

	return outcome, nil
}
