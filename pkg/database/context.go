package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

// ProjectScopeKey is the context key for the project-scoped database connection.
const ProjectScopeKey contextKey = "projectScope"

// GetProjectScope retrieves the project-scoped connection from context.
// Returns nil and false if not present.
func GetProjectScope(ctx context.Context) (*ProjectScope, bool) {
	scope, ok := ctx.Value(ProjectScopeKey).(*ProjectScope)
	return scope, ok
}

// SetProjectScope stores the project-scoped connection in context.
func SetProjectScope(ctx context.Context, scope *ProjectScope) context.Context {
	return context.WithValue(ctx, ProjectScopeKey, scope)
}

// ScopeProvider creates project-scoped contexts for database operations.
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithProjectScope returns a context with a project scope attached. The
// cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithProjectScope(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return SetProjectScope(ctx, scope), func() { scope.Close() }, nil
}

// WithGlobalScope returns a context with an unscoped connection attached.
func (p *ScopeProvider) WithGlobalScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutProject(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetProjectScope(ctx, scope), func() { scope.Close() }, nil
}

// RunInTx runs fn inside a transaction on the scope attached to ctx. The
// context passed to fn carries a derived scope whose Q() is the transaction,
// so repository calls inside fn join it transparently. Nested calls reuse the
// already-open transaction. A context without a scope runs fn directly: there
// is no connection to make atomic, and any real repository call inside fn
// will fail on the missing scope anyway.
func RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetProjectScope(ctx)
	if !ok {
		return fn(ctx)
	}

	if scope.tx != nil {
		return fn(ctx)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txScope := &ProjectScope{Conn: scope.Conn, tx: tx}
	if err := fn(SetProjectScope(ctx, txScope)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
