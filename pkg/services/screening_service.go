package services

import (
	"context"
	"errors"
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

// ProcessDecisionInput is one reviewer vote submitted through the API.
type ProcessDecisionInput struct {
	ProjectWorkID uuid.UUID
	ReviewerID    uuid.UUID
	Decision      models.Decision
	Reasoning     *string
}

// ScreeningService coordinates multi-reviewer screening: it persists
// decisions, derives conflicts, advances phases and requests ingestion.
type ScreeningService interface {
	// ProcessDecision records a reviewer vote and applies the resulting state
	// transition. Returns apperrors.ErrNotFound if the study is unknown and
	// apperrors.ErrValidation for duplicate or over-quota votes.
	ProcessDecision(ctx context.Context, input ProcessDecisionInput) (*models.StateTransitionResult, error)

	// GetWork returns a study under review, or apperrors.ErrNotFound.
	GetWork(ctx context.Context, id uuid.UUID) (*models.ProjectWork, error)
}

type screeningService struct {
	works     repositories.WorkRepository
	decisions repositories.DecisionRepository
	conflicts repositories.ConflictRepository
	projects  repositories.ProjectRepository
	queue     ingestion.Queue
	publisher events.Publisher
	logger    *zap.Logger
}

// NewScreeningService creates a new ScreeningService.
func NewScreeningService(
	works repositories.WorkRepository,
	decisions repositories.DecisionRepository,
	conflicts repositories.ConflictRepository,
	projects repositories.ProjectRepository,
	queue ingestion.Queue,
	publisher events.Publisher,
	logger *zap.Logger,
) ScreeningService {
	return &screeningService{
		works:     works,
		decisions: decisions,
		conflicts: conflicts,
		projects:  projects,
		queue:     queue,
		publisher: publisher,
		logger:    logger.Named("screening-service"),
	}
}

var _ ScreeningService = (*screeningService)(nil)

func (s *screeningService) GetWork(ctx context.Context, id uuid.UUID) (*models.ProjectWork, error) {
	work, err := s.works.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get project work: %w", err)
	}
	if work == nil {
		return nil, fmt.Errorf("project work %s: %w", id, apperrors.ErrNotFound)
	}
	return work, nil
}

func (s *screeningService) ProcessDecision(ctx context.Context, input ProcessDecisionInput) (*models.StateTransitionResult, error) {
	if !input.Decision.Valid() {
		return nil, fmt.Errorf("unknown decision %q: %w", input.Decision, apperrors.ErrValidation)
	}

	work, err := s.GetWork(ctx, input.ProjectWorkID)
	if err != nil {
		return nil, err
	}

	cfg, found, err := s.projects.GetScreeningConfig(ctx, work.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get screening config: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("project %s: %w", work.ProjectID, apperrors.ErrNotFound)
	}

	existing, err := s.decisions.ListByWorkPhase(ctx, work.ID, work.Phase)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	if err := ValidateDecision(input.ReviewerID, existing, cfg); err != nil {
		return nil, err
	}

	var result models.StateTransitionResult
	var pdfGateHit bool

	err = database.RunInTx(ctx, func(txCtx context.Context) error {
		record := &models.DecisionRecord{
			ProjectWorkID: work.ID,
			ReviewerID:    input.ReviewerID,
			Phase:         work.Phase,
			Decision:      input.Decision,
			Reasoning:     input.Reasoning,
		}
		if err := s.decisions.Create(txCtx, record); err != nil {
			if errors.Is(err, apperrors.ErrConflictingWrite) {
				// Lost a duplicate-vote race; surface the same error the
				// validator would have produced synchronously.
				return fmt.Errorf("reviewer %s already voted in this phase: %w", input.ReviewerID, apperrors.ErrValidation)
			}
			return err
		}

		result = CalculateNextState(models.DecisionContext{
			Phase:     work.Phase,
			Config:    cfg,
			Decisions: append(existing, record),
		})

		result, pdfGateHit = s.gateOnDocument(work, result)

		update := repositories.StateUpdate{
			Status:        result.NewStatus,
			Phase:         result.NewPhase,
			FinalDecision: result.FinalDecision,
		}
		if err := s.works.UpdateState(txCtx, work.ID, update); err != nil {
			return err
		}

		if result.ConflictCreated {
			conflict := &models.Conflict{
				ProjectWorkID: work.ID,
				Phase:         work.Phase,
				Decisions:     result.ConflictVotes,
			}
			if err := s.conflicts.Upsert(txCtx, conflict); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("process decision: %w", err)
	}

	// Side effects after the transaction commits: the recorded decision is
	// the durable fact, enqueue and events are re-playable projections.
	if pdfGateHit {
		s.requestIngestion(ctx, work, ingestion.SourceMissingPDF)
	}
	if result.ShouldTriggerIngestion {
		s.triggerTerminalIngestion(ctx, work)
	}

	s.publisher.Publish(events.DecisionMade{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		ReviewerID:    input.ReviewerID,
		Phase:         work.Phase,
		Decision:      input.Decision,
		Result:        result,
		OccurredAt:    time.Now(),
	})
	if result.ConflictCreated {
		s.publisher.Publish(events.ConflictCreated{
			ProjectWorkID: work.ID,
			ProjectID:     work.ProjectID,
			Phase:         work.Phase,
			Decisions:     result.ConflictVotes,
			OccurredAt:    time.Now(),
		})
	}
	if result.ShouldAdvancePhase {
		s.publisher.Publish(events.PhaseAdvanced{
			ProjectWorkID: work.ID,
			ProjectID:     work.ProjectID,
			FromPhase:     work.Phase,
			ToPhase:       result.NewPhase,
			TriggeredBy:   events.TriggerAuto,
			OccurredAt:    time.Now(),
		})
	}

	return &result, nil
}

// gateOnDocument overrides an advancement into full-text screening when the
// study has no PDF attached. The study stays in its current phase as pending
// and a PDF fetch is requested, so reviewers never see a full-text task with
// nothing to read.
func (s *screeningService) gateOnDocument(work *models.ProjectWork, result models.StateTransitionResult) (models.StateTransitionResult, bool) {
	if !result.ShouldAdvancePhase || result.NewPhase != models.PhaseFullText || work.PDFAvailable {
		return result, false
	}

	s.logger.Info("Holding phase advancement, no PDF attached",
		zap.String("project_work_id", work.ID.String()),
		zap.String("phase", string(work.Phase)))

	result.ShouldAdvancePhase = false
	result.NewPhase = work.Phase
	result.NewStatus = models.StatusPending
	result.FinalDecision = nil
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["held_for_pdf"] = true
	return result, true
}

// triggerTerminalIngestion enqueues ingestion after a terminal INCLUDE,
// honoring the idempotency rules: skip when the pipeline already has the
// document in flight, skip with a log line when there is nothing to fetch.
func (s *screeningService) triggerTerminalIngestion(ctx context.Context, work *models.ProjectWork) {
	if work.IngestionInFlight() {
		s.logger.Debug("Skipping ingestion, already in flight",
			zap.String("project_work_id", work.ID.String()))
		return
	}
	if !work.HasDocumentSource() {
		s.logger.Warn("Skipping ingestion, no PDF or source URL",
			zap.String("project_work_id", work.ID.String()),
			zap.String("work_id", work.WorkID.String()))
		return
	}
	s.requestIngestion(ctx, work, ingestion.SourceScreeningDecision)
}

// requestIngestion enqueues best-effort: a failure is logged and never rolls
// back the screening record, since ingestion is independently retryable.
func (s *screeningService) requestIngestion(ctx context.Context, work *models.ProjectWork, source ingestion.Source) {
	req := ingestion.Request{
		ProjectWorkID: work.ID,
		ProjectID:     work.ProjectID,
		WorkID:        work.WorkID,
		Source:        source,
		SourceURL:     work.SourceURL,
		PDFUploadedAt: work.PDFUploadedAt,
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.logger.Error("Failed to enqueue ingestion",
			zap.String("project_work_id", work.ID.String()),
			zap.String("source", string(source)),
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
		Source:        string(source),
		OccurredAt:    time.Now(),
	})
}
