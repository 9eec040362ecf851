package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations repositories use. Both a pooled
// connection and an open transaction satisfy it, so repositories are unaware
// of whether they run inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProjectScope wraps a connection bound to one project. The connection has
// app.project_id set so row-level security policies scope every query.
type ProjectScope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Q returns the querier to use: the active transaction if one is open on this
// scope, otherwise the project-bound connection.
func (s *ProjectScope) Q() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// Close resets the project context and releases the connection to the pool.
// This MUST be called so project context cannot leak to the next request.
func (s *ProjectScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.project_id")
	s.Conn.Release()
}

// WithProject acquires a connection and sets the project context for RLS.
// The returned scope MUST be closed with defer scope.Close().
func (db *DB) WithProject(ctx context.Context, projectID uuid.UUID) (*ProjectScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.project_id', $1, false)", projectID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &ProjectScope{Conn: conn}, nil
}

// WithoutProject acquires a connection without project context. Use this for
// cross-project operations such as the reconciliation sweep's project listing.
// The returned scope MUST be closed with defer scope.Close().
func (db *DB) WithoutProject(ctx context.Context) (*ProjectScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &ProjectScope{Conn: conn}, nil
}
