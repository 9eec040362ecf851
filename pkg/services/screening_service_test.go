package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/ingestion"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

type screeningFixture struct {
	works     *mockWorkRepo
	decisions *mockDecisionRepo
	conflicts *mockConflictRepo
	projects  *mockProjectRepo
	queue     *mockQueue
	publisher *mockPublisher
	service   ScreeningService
}

func newScreeningFixture(work *models.ProjectWork, cfg models.ScreeningConfig, existing ...*models.DecisionRecord) *screeningFixture {
	f := &screeningFixture{
		works:     newMockWorkRepo(work),
		decisions: &mockDecisionRepo{existing: existing},
		conflicts: newMockConflictRepo(),
		projects:  &mockProjectRepo{cfg: cfg, found: true},
		queue:     &mockQueue{},
		publisher: &mockPublisher{},
	}
	f.service = NewScreeningService(
		f.works, f.decisions, f.conflicts, f.projects,
		f.queue, f.publisher, zap.NewNop(),
	)
	return f
}

func pendingWork(phase models.Phase) *models.ProjectWork {
	return &models.ProjectWork{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		WorkID:    uuid.New(),
		Phase:     phase,
		Status:    models.StatusScreening,
	}
}

func TestProcessDecision_UnknownWork(t *testing.T) {
	f := newScreeningFixture(pendingWork(models.PhaseTitleAbstract), dualConfig())

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: uuid.New(),
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestProcessDecision_InvalidDecision(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	f := newScreeningFixture(work, dualConfig())

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.Decision("defer"),
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(f.decisions.created) != 0 {
		t.Error("invalid decision must not be persisted")
	}
}

func TestProcessDecision_FirstVoteStaysScreening(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	f := newScreeningFixture(work, dualConfig())

	result, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NewStatus != models.StatusScreening {
		t.Errorf("expected screening, got %s", result.NewStatus)
	}
	if len(f.decisions.created) != 1 {
		t.Fatalf("expected 1 decision persisted, got %d", len(f.decisions.created))
	}
	if len(f.works.updateCalls) != 1 {
		t.Fatalf("expected 1 state update, got %d", len(f.works.updateCalls))
	}
	if got := f.publisher.byName("screening.decision_made"); len(got) != 1 {
		t.Errorf("expected decision_made event, got %d", len(got))
	}
	if len(f.queue.requests) != 0 {
		t.Error("a non-final vote must not enqueue ingestion")
	}
}

func TestProcessDecision_ConsensusAdvancesWithPDF(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	work.PDFAvailable = true
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	result, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.ShouldAdvancePhase {
		t.Fatal("expected advancement")
	}
	update := f.works.updateCalls[0]
	if update.Phase != models.PhaseFullText || update.Status != models.StatusPending {
		t.Errorf("expected pending/full_text, got %s/%s", update.Status, update.Phase)
	}
	if update.FinalDecision != nil {
		t.Error("final decision must clear for the next phase")
	}
	if got := f.publisher.byName("screening.phase_advanced"); len(got) != 1 {
		t.Errorf("expected phase_advanced event, got %d", len(got))
	}
	if len(f.queue.requests) != 0 {
		t.Error("advancement must not enqueue ingestion")
	}
}

func TestProcessDecision_NoPDFHoldsAdvancementAndRequestsFetch(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	result, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ShouldAdvancePhase {
		t.Error("advancement must be held without a PDF")
	}
	update := f.works.updateCalls[0]
	if update.Phase != models.PhaseTitleAbstract || update.Status != models.StatusPending {
		t.Errorf("expected pending/title_abstract, got %s/%s", update.Status, update.Phase)
	}
	if held, _ := result.Metadata["held_for_pdf"].(bool); !held {
		t.Error("expected held_for_pdf metadata")
	}

	if len(f.queue.requests) != 1 {
		t.Fatalf("expected 1 PDF fetch request, got %d", len(f.queue.requests))
	}
	if f.queue.requests[0].Source != ingestion.SourceMissingPDF {
		t.Errorf("expected missing_pdf_autoadvance source, got %s", f.queue.requests[0].Source)
	}
	if got := f.publisher.byName("screening.phase_advanced"); len(got) != 0 {
		t.Error("held advancement must not publish phase_advanced")
	}
}

func TestProcessDecision_DisagreementOpensConflict(t *testing.T) {
	work := pendingWork(models.PhaseFullText)
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	result, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionExclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.ConflictCreated {
		t.Fatal("expected conflict")
	}
	if len(f.conflicts.upserted) != 1 {
		t.Fatalf("expected 1 conflict upsert, got %d", len(f.conflicts.upserted))
	}
	conflict := f.conflicts.upserted[0]
	if conflict.ProjectWorkID != work.ID || conflict.Phase != models.PhaseFullText {
		t.Errorf("conflict keyed wrong: %s/%s", conflict.ProjectWorkID, conflict.Phase)
	}
	if len(conflict.Decisions) != 2 {
		t.Errorf("expected vote snapshot of 2, got %d", len(conflict.Decisions))
	}
	if got := f.publisher.byName("screening.conflict_created"); len(got) != 1 {
		t.Errorf("expected conflict_created event, got %d", len(got))
	}
}

func TestProcessDecision_TerminalIncludeEnqueuesIngestion(t *testing.T) {
	work := pendingWork(models.PhaseFullText)
	work.PDFAvailable = true
	uploadedAt := time.Now().Add(-time.Hour)
	work.PDFUploadedAt = &uploadedAt
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	result, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NewStatus != models.StatusIncluded {
		t.Errorf("expected included, got %s", result.NewStatus)
	}
	if len(f.queue.requests) != 1 {
		t.Fatalf("expected 1 ingestion request, got %d", len(f.queue.requests))
	}
	req := f.queue.requests[0]
	if req.Source != ingestion.SourceScreeningDecision {
		t.Errorf("expected screening_decision source, got %s", req.Source)
	}
	if req.PDFUploadedAt == nil || !req.PDFUploadedAt.Equal(uploadedAt) {
		t.Error("request must carry the PDF version timestamp")
	}
	if len(f.works.ingestionCalls) != 1 || f.works.ingestionCalls[0] != models.IngestionPending {
		t.Errorf("expected ingestion status set to pending, got %v", f.works.ingestionCalls)
	}
	if got := f.publisher.byName("screening.ingestion_requested"); len(got) != 1 {
		t.Errorf("expected ingestion_requested event, got %d", len(got))
	}
}

func TestProcessDecision_IngestionSkippedWhenInFlight(t *testing.T) {
	work := pendingWork(models.PhaseFullText)
	work.PDFAvailable = true
	processing := models.IngestionProcessing
	work.Ingestion = &processing
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.queue.requests) != 0 {
		t.Error("in-flight ingestion must not be re-enqueued")
	}
}

func TestProcessDecision_IngestionSkippedWithoutSource(t *testing.T) {
	work := pendingWork(models.PhaseFinal)
	firstVote := decisionsOf(models.DecisionInclude)
	f := newScreeningFixture(work, dualConfig(), firstVote...)

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.queue.requests) != 0 {
		t.Error("no PDF and no URL means nothing to ingest")
	}
	if len(f.works.ingestionCalls) != 0 {
		t.Error("ingestion status must not change when nothing was enqueued")
	}
}

func TestProcessDecision_DuplicateReviewerRejected(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	reviewerID := uuid.New()
	existing := []*models.DecisionRecord{
		{ID: uuid.New(), ReviewerID: reviewerID, Decision: models.DecisionInclude},
	}
	f := newScreeningFixture(work, dualConfig(), existing...)

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    reviewerID,
		Decision:      models.DecisionExclude,
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(f.decisions.created) != 0 {
		t.Error("duplicate vote must not be persisted")
	}
}

func TestProcessDecision_LostRaceSurfacesAsValidation(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	f := newScreeningFixture(work, dualConfig())
	f.decisions.createErr = apperrors.ErrConflictingWrite

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("a lost duplicate-vote race must read as validation, got %v", err)
	}
	if len(f.works.updateCalls) != 0 {
		t.Error("state must not change when the insert was rejected")
	}
}

func TestProcessDecision_UnknownProject(t *testing.T) {
	work := pendingWork(models.PhaseTitleAbstract)
	f := newScreeningFixture(work, dualConfig())
	f.projects.found = false

	_, err := f.service.ProcessDecision(context.Background(), ProcessDecisionInput{
		ProjectWorkID: work.ID,
		ReviewerID:    uuid.New(),
		Decision:      models.DecisionInclude,
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
