package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trialsift/trialsift-engine/pkg/apperrors"
	"github.com/trialsift/trialsift-engine/pkg/database"
	"github.com/trialsift/trialsift-engine/pkg/models"
)

// DecisionRepository provides data access for reviewer decisions.
type DecisionRepository interface {
	// Create inserts a new decision. A unique index on
	// (project_work_id, phase, reviewer_id) is the real duplicate-vote guard;
	// a violation surfaces as apperrors.ErrConflictingWrite.
	Create(ctx context.Context, decision *models.DecisionRecord) error

	// ListByWorkPhase returns every decision for a (study, phase) pair,
	// ordered by creation time with insertion order breaking ties. This
	// ordering is load-bearing for first/latest decision semantics.
	ListByWorkPhase(ctx context.Context, projectWorkID uuid.UUID, phase models.Phase) ([]*models.DecisionRecord, error)
}

type decisionRepository struct{}

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository() DecisionRepository {
	return &decisionRepository{}
}

var _ DecisionRepository = (*decisionRepository)(nil)

func (r *decisionRepository) Create(ctx context.Context, decision *models.DecisionRecord) error {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return fmt.Errorf("no project scope in context")
	}

	query := `
		INSERT INTO decisions (project_work_id, reviewer_id, phase, decision, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	now := time.Now()
	err := scope.Q().QueryRow(ctx, query,
		decision.ProjectWorkID,
		decision.ReviewerID,
		decision.Phase,
		decision.Decision,
		decision.Reasoning,
		now,
	).Scan(&decision.ID, &decision.CreatedAt)
	if err != nil {
		// Unique constraint violation (PostgreSQL error code 23505) means a
		// concurrent request from the same reviewer won the race.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflictingWrite
		}
		return fmt.Errorf("failed to create decision: %w", err)
	}

	return nil
}

func (r *decisionRepository) ListByWorkPhase(ctx context.Context, projectWorkID uuid.UUID, phase models.Phase) ([]*models.DecisionRecord, error) {
	scope, ok := database.GetProjectScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no project scope in context")
	}

	query := `
		SELECT id, project_work_id, reviewer_id, phase, decision, reasoning, created_at
		FROM decisions
		WHERE project_work_id = $1 AND phase = $2
		ORDER BY created_at, id`

	rows, err := scope.Q().Query(ctx, query, projectWorkID, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.DecisionRecord
	for rows.Next() {
		var d models.DecisionRecord
		if err := rows.Scan(&d.ID, &d.ProjectWorkID, &d.ReviewerID, &d.Phase, &d.Decision, &d.Reasoning, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}
