package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// StateUpdate carries the persisted outcome of a state transition. Phase and
// FinalDecision replace the work's current values even when unchanged, so a
// transition is always written in full.
type StateUpdate struct {
	Status        models.WorkStatus
	Phase         models.Phase
	FinalDecision *models.Decision
}

// WorkRepository provides data access for studies under review.
type WorkRepository interface {
	// GetByID returns a study by its project-work ID, or nil if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProjectWork, error)

	// UpdateState persists a study's status, phase and final decision.
	UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) error

	// SetIngestionStatus updates only the ingestion status column.
	SetIngestionStatus(ctx context.Context, id uuid.UUID, status models.IngestionStatus) error

	// ListByStatuses returns studies of a project sitting in the given phase
	// with one of the given statuses, ordered by creation time.
	ListByStatuses(ctx context.Context, projectID uuid.UUID, phase models.Phase, statuses []models.WorkStatus) ([]*models.ProjectWork, error)

	// CountIncludedWithoutDocument counts included studies in the phase that
	// have neither an uploaded PDF nor a source URL. These block advancement
	// into full-text screening.
	CountIncludedWithoutDocument(ctx context.Context, projectID uuid.UUID, phase models.Phase) (int, error)

	// AdvanceIncluded bulk-moves every included study of the phase to the next
	// phase, resetting status to pending and clearing the final decision.
	// Returns the number of studies moved.
	AdvanceIncluded(ctx context.Context, projectID uuid.UUID, from, to models.Phase) (int, error)
}

type workRepository struct{}

// NewWorkRepository creates a new WorkRepository.
func NewWorkRepository() WorkRepository {
	return &workRepository{}
}

var _ WorkRepository = (*workRepository)(nil)

const workColumns = `
	id, project_id, work_id, phase, status, final_decision,
	pdf_available, pdf_uploaded_at, source_url, ingestion_status,
	created_at, updated_at`

func (r *workRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProjectWork, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `SELECT ` + workColumns + ` FROM project_works WHERE id = $1`

	row := scope.Q().QueryRow(ctx, query, id)
	work, err := scanWork(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project work: %w", err)
	}
	return work, nil
}

func (r *workRepository) UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	query := `
		UPDATE project_works
		SET status = $2, phase = $3, final_decision = $4, updated_at = $5
		WHERE id = $1`

	result, err := scope.Q().Exec(ctx, query, id, update.Status, update.Phase, update.FinalDecision, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update project work state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project work not found")
	}

	return nil
}

func (r *workRepository) SetIngestionStatus(ctx context.Context, id uuid.UUID, status models.IngestionStatus) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	query := `UPDATE project_works SET ingestion_status = $2, updated_at = $3 WHERE id = $1`

	result, err := scope.Q().Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update ingestion status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project work not found")
	}

	return nil
}

func (r *workRepository) ListByStatuses(ctx context.Context, projectID uuid.UUID, phase models.Phase, statuses []models.WorkStatus) ([]*models.ProjectWork, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT ` + workColumns + `
		FROM project_works
		WHERE project_id = $1 AND phase = $2 AND status = ANY($3)
		ORDER BY created_at`

	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}

	rows, err := scope.Q().Query(ctx, query, projectID, phase, statusStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to list project works: %w", err)
	}
	defer rows.Close()

	var works []*models.ProjectWork
	for rows.Next() {
		work, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project work: %w", err)
		}
		works = append(works, work)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project works: %w", err)
	}

	return works, nil
}

func (r *workRepository) CountIncludedWithoutDocument(ctx context.Context, projectID uuid.UUID, phase models.Phase) (int, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT COUNT(*)
		FROM project_works
		WHERE project_id = $1 AND phase = $2 AND status = $3
		  AND pdf_available = false
		  AND (source_url IS NULL OR source_url = '')`

	var count int
	err := scope.Q().QueryRow(ctx, query, projectID, phase, models.StatusIncluded).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count works without document: %w", err)
	}

	return count, nil
}

func (r *workRepository) AdvanceIncluded(ctx context.Context, projectID uuid.UUID, from, to models.Phase) (int, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no project scope in context")
	}

	query := `
		UPDATE project_works
		SET phase = $3, status = $4, final_decision = NULL, updated_at = $5
		WHERE project_id = $1 AND phase = $2 AND status = $6`

	result, err := scope.Q().Exec(ctx, query, projectID, from, to, models.StatusPending, time.Now(), models.StatusIncluded)
	if err != nil {
		return 0, fmt.Errorf("failed to advance included works: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func scanWork(row pgx.Row) (*models.ProjectWork, error) {
	var w models.ProjectWork
	var finalDecision, sourceURL, ingestion *string

	err := row.Scan(
		&w.ID,
		&w.ProjectID,
		&w.WorkID,
		&w.Phase,
		&w.Status,
		&finalDecision,
		&w.PDFAvailable,
		&w.PDFUploadedAt,
		&sourceURL,
		&ingestion,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if finalDecision != nil {
		d := models.Decision(*finalDecision)
		w.FinalDecision = &d
	}
	w.SourceURL = sourceURL
	if ingestion != nil {
		s := models.IngestionStatus(*ingestion)
		w.Ingestion = &s
	}

	return &w, nil
}
