package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// ConflictRepository provides data access for screening conflicts and their resolutions.
type ConflictRepository interface {
	// Upsert creates the open conflict for a (study, phase) pair, or refreshes
	// its decision snapshot if one is already open.
	Upsert(ctx context.Context, conflict *models.Conflict) error

	// GetByID returns a conflict by ID, or nil if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error)

	// ListOpenByProject returns all pending conflicts for a project's studies.
	ListOpenByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Conflict, error)

	// Resolve inserts the resolution and flips the conflict to resolved in one
	// statement pair. Returns apperrors.ErrAlreadyResolved when the conflict
	// was not pending, so re-resolution fails even under concurrency.
	Resolve(ctx context.Context, resolution *models.ConflictResolution) error
}

type conflictRepository struct{}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository() ConflictRepository {
	return &conflictRepository{}
}

var _ ConflictRepository = (*conflictRepository)(nil)

func (r *conflictRepository) Upsert(ctx context.Context, conflict *models.Conflict) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	snapshot, err := json.Marshal(conflict.Decisions)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict decisions: %w", err)
	}

	// The partial unique index on (project_work_id, phase) WHERE status =
	// 'pending' enforces at most one open conflict per pair.
	query := `
		INSERT INTO conflicts (project_work_id, phase, status, decisions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (project_work_id, phase) WHERE status = 'pending'
		DO UPDATE SET decisions = EXCLUDED.decisions, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	now := time.Now()
	err = scope.Q().QueryRow(ctx, query,
		conflict.ProjectWorkID,
		conflict.Phase,
		models.ConflictStatusPending,
		snapshot,
		now,
	).Scan(&conflict.ID, &conflict.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conflict: %w", err)
	}

	conflict.Status = models.ConflictStatusPending
	conflict.UpdatedAt = now
	return nil
}

func (r *conflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT id, project_work_id, phase, status, decisions, created_at, updated_at
		FROM conflicts
		WHERE id = $1`

	conflict, err := scanConflict(scope.Q().QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return conflict, nil
}

func (r *conflictRepository) ListOpenByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Conflict, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT c.id, c.project_work_id, c.phase, c.status, c.decisions, c.created_at, c.updated_at
		FROM conflicts c
		JOIN project_works w ON w.id = c.project_work_id
		WHERE w.project_id = $1 AND c.status = $2
		ORDER BY c.created_at`

	rows, err := scope.Q().Query(ctx, query, projectID, models.ConflictStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

func (r *conflictRepository) Resolve(ctx context.Context, resolution *models.ConflictResolution) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	// The status guard in the UPDATE makes resolution first-writer-wins: a
	// second resolver sees zero rows affected regardless of interleaving.
	update := `
		UPDATE conflicts
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`

	now := time.Now()
	result, err := scope.Q().Exec(ctx, update,
		resolution.ConflictID,
		models.ConflictStatusResolved,
		now,
		models.ConflictStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrAlreadyResolved
	}

	insert := `
		INSERT INTO conflict_resolutions (conflict_id, resolver_id, final_decision, reasoning, resolved_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, resolved_at`

	err = scope.Q().QueryRow(ctx, insert,
		resolution.ConflictID,
		resolution.ResolverID,
		resolution.FinalDecision,
		resolution.Reasoning,
		now,
	).Scan(&resolution.ID, &resolution.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create conflict resolution: %w", err)
	}

	return nil
}

func scanConflict(row pgx.Row) (*models.Conflict, error) {
	var c models.Conflict
	var snapshot []byte

	err := row.Scan(&c.ID, &c.ProjectWorkID, &c.Phase, &c.Status, &snapshot, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(snapshot) > 0 && string(snapshot) != "null" {
		if err := json.Unmarshal(snapshot, &c.Decisions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict decisions: %w", err)
		}
	}

	return &c, nil
}
