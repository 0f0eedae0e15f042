package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope is a pooled connection pinned to one project, or to none for
// cross-project work. Row-level security on every project-owned table reads
// app.current_project_id from the connection.
type TenantScope struct {
	Conn *pgxpool.Conn

	// ProjectID is uuid.Nil for a global scope.
	ProjectID uuid.UUID
}

// IsGlobal reports whether the scope sees every project's rows.
func (s *TenantScope) IsGlobal() bool {
	return s.ProjectID == uuid.Nil
}

// Close clears the project setting and returns the connection to the pool.
// It must be called so the setting does not leak into the next borrower.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	if !s.IsGlobal() {
		_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	}
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant acquires a connection whose queries only see projectID's rows.
func (db *DB) WithTenant(ctx context.Context, projectID uuid.UUID) (*TenantScope, error) {
	if projectID == uuid.Nil {
		return nil, fmt.Errorf("tenant scope requires a project id")
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_project_id', $1, false)", projectID.String()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set project %s on connection: %w", projectID, err)
	}

	return &TenantScope{Conn: conn, ProjectID: projectID}, nil
}

// WithoutTenant acquires a connection with no project set. The isolation
// policies let it see every row, so it is reserved for project creation and
// the reconciliation sweep.
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &TenantScope{Conn: conn}, nil
}
