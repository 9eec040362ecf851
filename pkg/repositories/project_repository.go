package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// ProjectRepository provides access to project-level screening settings.
type ProjectRepository interface {
	// GetScreeningConfig returns the screening settings snapshot for a project.
	// Returns (zero, false, nil) if the project does not exist.
	GetScreeningConfig(ctx context.Context, projectID uuid.UUID) (models.ScreeningConfig, bool, error)

	// ListIDs returns the IDs of all projects. Requires a global (unscoped)
	// connection; used by the reconciliation sweep.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type projectRepository struct{}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

func (r *projectRepository) GetScreeningConfig(ctx context.Context, projectID uuid.UUID) (models.ScreeningConfig, bool, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return models.ScreeningConfig{}, false, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT require_dual_screening, blind_screening, consensus_policy, reviewers_needed
		FROM projects
		WHERE id = $1`

	var cfg models.ScreeningConfig
	err := scope.Q().QueryRow(ctx, query, projectID).Scan(
		&cfg.RequireDualScreening,
		&cfg.BlindScreening,
		&cfg.ConsensusPolicy,
		&cfg.Reviewers,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.ScreeningConfig{}, false, nil
		}
		return models.ScreeningConfig{}, false, fmt.Errorf("failed to get screening config: %w", err)
	}

	return cfg, true, nil
}

func (r *projectRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	rows, err := scope.Q().Query(ctx, `SELECT id FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return ids, nil
}
