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
	"github.com/trialsift/trialsift-engine/pkg/ingestion"
	"github.com/trialsift/trialsift-engine/pkg/models"
	"github.com/trialsift/trialsift-engine/pkg/repositories"
)

// ResolveConflictInput is a human tie-break submitted through the API.
type ResolveConflictInput struct {
	ConflictID    uuid.UUID
	ResolverID    uuid.UUID
	FinalDecision models.Decision
	Reasoning     *string
}

// ConflictService handles the human tie-break path. It deliberately re-derives
// status, phase and ingestion consequences rather than reusing the state
// machine: a resolution starts from a human override, not reviewer consensus.
type ConflictService interface {
	// ResolveConflict applies a tie-break. Returns apperrors.ErrNotFound if
	// the conflict is unknown and apperrors.ErrAlreadyResolved if it was
	// resolved before.
	ResolveConflict(ctx context.Context, input ResolveConflictInput) (*models.StateTransitionResult, error)

	// ListOpen returns the pending conflicts of a project.
	ListOpen(ctx context.Context, projectID uuid.UUID) ([]*models.Conflict, error)
}

type conflictService struct {
	works     repositories.WorkRepository
	conflicts repositories.ConflictRepository
	queue     ingestion.Queue
	publisher events.Publisher
	logger    *zap.Logger
}

// NewConflictService creates a new ConflictService.
func NewConflictService(
	works repositories.WorkRepository,
	conflicts repositories.ConflictRepository,
	queue ingestion.Queue,
	publisher events.Publisher,
	logger *zap.Logger,
) ConflictService {
	return &conflictService{
		works:     works,
		conflicts: conflicts,
		queue:     queue,
		publisher: publisher,
		logger:    logger.Named("conflict-service"),
	}
}

var _ ConflictService = (*conflictService)(nil)

func (s *conflictService) ListOpen(ctx context.Context, projectID uuid.UUID) ([]*models.Conflict, error) {
	conflicts, err := s.conflicts.ListOpenByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	return conflicts, nil
}

func (s *conflictService) ResolveConflict(ctx context.Context, input ResolveConflictInput) (*models.StateTransitionResult, error) {
	if !input.FinalDecision.Valid() {
		return nil, fmt.Errorf("unknown decision %q: %w", input.FinalDecision, apperrors.ErrValidation)
	}

	conflict, err := s.conflicts.GetByID(ctx, input.ConflictID)
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	if conflict == nil {
		return nil, fmt.Errorf("conflict %s: %w", input.ConflictID, apperrors.ErrNotFound)
	}
	if conflict.Status == models.ConflictStatusResolved {
		return nil, fmt.Errorf("conflict %s: %w", input.ConflictID, apperrors.ErrAlreadyResolved)
	}

	work, err := s.works.GetByID(ctx, conflict.ProjectWorkID)
	if err != nil {
		return nil, fmt.Errorf("get project work: %w", err)
	}
	if work == nil {
		return nil, fmt.Errorf("project work %s: %w", conflict.ProjectWorkID, apperrors.ErrNotFound)
	}

	result, heldForPDF := s.deriveResolutionState(conflict, work, input.FinalDecision)

	err = database.RunInTx(ctx, func(txCtx context.Context) error {
		resolution := &models.ConflictResolution{
			ConflictID:    conflict.ID,
			ResolverID:    input.ResolverID,
			FinalDecision: input.FinalDecision,
			Reasoning:     input.Reasoning,
		}
		if err := s.conflicts.Resolve(txCtx, resolution); err != nil {
			return err
		}

		update := repositories.StateUpdate{
			Status:        result.NewStatus,
			Phase:         result.NewPhase,
			FinalDecision: result.FinalDecision,
		}
		return s.works.UpdateState(txCtx, work.ID, update)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}

	if heldForPDF {
		s.requestMissingPDF(ctx, work)
	}
	if result.ShouldTriggerIngestion {
		s.triggerIngestion(ctx, work)
	}

	s.publisher.Publish(events.ConflictResolved{
		ConflictID:    conflict.ID,
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		Phase:         conflict.Phase,
		ResolverID:    input.ResolverID,
		FinalDecision: input.FinalDecision,
		OccurredAt:    time.Now(),
	})
	if result.ShouldAdvancePhase {
		s.publisher.Publish(events.PhaseAdvanced{
			ProjectWorkID: work.ID,
			ProjectID:     work.ProjectID,
			FromPhase:     conflict.Phase,
			ToPhase:       result.NewPhase,
			TriggeredBy:   events.TriggerConflictResolution,
			OccurredAt:    time.Now(),
		})
	}

	s.logger.Info("Conflict resolved",
		zap.String("conflict_id", conflict.ID.String()),
		zap.String("project_work_id", work.ID.String()),
		zap.String("final_decision", string(input.FinalDecision)),
		zap.Bool("advanced", result.ShouldAdvancePhase))

	return &result, nil
}

// deriveResolutionState applies the same advance and ingestion rules as the
// state machine, seeded from the resolver's decision. The full-text PDF gate
// applies here too: an unlocked INCLUDE with no document holds the study in
// place rather than producing an unreviewable full-text task.
func (s *conflictService) deriveResolutionState(conflict *models.Conflict, work *models.ProjectWork, decision models.Decision) (models.StateTransitionResult, bool) {
	shouldAdvance := conflict.Phase == models.PhaseTitleAbstract && decision == models.DecisionInclude

	if shouldAdvance && !work.PDFAvailable {
		s.logger.Info("Holding resolution advancement, no PDF attached",
			zap.String("project_work_id", work.ID.String()))
		return models.StateTransitionResult{
			NewStatus: models.StatusPending,
			NewPhase:  conflict.Phase,
			Metadata:  map[string]any{"held_for_pdf": true, "resolved_by": "human"},
		}, true
	}

	if shouldAdvance {
		next, _ := conflict.Phase.Next()
		return models.StateTransitionResult{
			NewStatus:          models.StatusPending,
			NewPhase:           next,
			ShouldAdvancePhase: true,
			Metadata:           map[string]any{"resolved_by": "human"},
		}, false
	}

	final := decision
	return models.StateTransitionResult{
		NewStatus:              models.StatusForDecision(decision),
		NewPhase:               conflict.Phase,
		FinalDecision:          &final,
		ShouldTriggerIngestion: decision == models.DecisionInclude,
		Metadata:               map[string]any{"resolved_by": "human"},
	}, false
}

func (s *conflictService) triggerIngestion(ctx context.Context, work *models.ProjectWork) {
	if work.IngestionInFlight() {
		s.logger.Debug("Skipping ingestion, already in flight",
			zap.String("project_work_id", work.ID.String()))
		return
	}
	if !work.HasDocumentSource() {
		s.logger.Warn("Skipping ingestion, no PDF or source URL",
			zap.String("project_work_id", work.ID.String()))
		return
	}

	req := ingestion.Request{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		WorkID:        work.WorkID,
		Source:        ingestion.SourceConflictResolution,
		SourceURL:     work.SourceURL,
		PDFUploadedAt: work.PDFUploadedAt,
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.logger.Error("Failed to enqueue ingestion",
			zap.String("project_work_id", work.ID.String()),
			zap.Error(err))
		return
	}

	if err := s.works.SetIngestionStatus(ctx, work.ID, models.IngestionPending); err != nil {
		s.logger.Error("Failed to record ingestion status",
			zap.String("project_work_id", work.ID.String()),
			zap.Error(err))
	}

	s.publisher.Publish(events.IngestionRequested{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		WorkID:        work.WorkID,
		Source:        string(ingestion.SourceConflictResolution),
		OccurredAt:    time.Now(),
	})
}

func (s *conflictService) requestMissingPDF(ctx context.Context, work *models.ProjectWork) {
	req := ingestion.Request{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		WorkID:        work.WorkID,
		Source:        ingestion.SourceMissingPDF,
		SourceURL:     work.SourceURL,
		PDFUploadedAt: work.PDFUploadedAt,
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.logger.Error("Failed to enqueue PDF fetch",
			zap.String("project_work_id", work.ID.String()),
			zap.Error(err))
		return
	}

	s.publisher.Publish(events.IngestionRequested{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		WorkID:        work.WorkID,
		Source:        string(ingestion.SourceMissingPDF),
		OccurredAt:    time.Now(),
	})
}
