package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/database"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

// EndpointRepository defines data access for endpoints under test.
type EndpointRepository interface {
	Upsert(ctx context.Context, endpoint *models.Endpoint) error
	FindByKey(ctx context.Context, key models.EndpointKey) (*models.Endpoint, error)
	// SetArtifact records the relative path of one generated artifact kind.
	SetArtifact(ctx context.Context, id uuid.UUID, kind, relPath string) error
}

type endpointRepository struct{}

func NewEndpointRepository() EndpointRepository {
	return &endpointRepository{}
}

var _ EndpointRepository = (*endpointRepository)(nil)

func (r *endpointRepository) Upsert(ctx context.Context, e *models.Endpoint) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.GeneratedArtifacts == nil {
		e.GeneratedArtifacts = map[string]string{}
	}
	artifacts, err := json.Marshal(e.GeneratedArtifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal generated artifacts: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO endpoints (id, project_id, section, entity_name, method, path, generated_artifacts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (project_id, section, entity_name) DO UPDATE
		SET method = EXCLUDED.method,
		    path = EXCLUDED.path,
		    generated_artifacts = EXCLUDED.generated_artifacts,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		e.ID, e.ProjectID, e.Section, e.EntityName, e.Method, e.Path, string(artifacts), now,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoint: %w", err)
	}

	return nil
}

func (r *endpointRepository) FindByKey(ctx context.Context, key models.EndpointKey) (*models.Endpoint, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, project_id, section, entity_name, method, path, generated_artifacts, created_at, updated_at
		FROM endpoints
		WHERE project_id = $1 AND section = $2 AND entity_name = $3`

	var e models.Endpoint
	var artifacts []byte
	err := scope.Conn.QueryRow(ctx, query, key.ProjectID, key.Section, key.EntityName).Scan(
		&e.ID, &e.ProjectID, &e.Section, &e.EntityName, &e.Method, &e.Path, &artifacts, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find endpoint: %w", err)
	}

	e.GeneratedArtifacts = map[string]string{}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &e.GeneratedArtifacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generated artifacts: %w", err)
		}
	}

	return &e, nil
}

func (r *endpointRepository) SetArtifact(ctx context.Context, id uuid.UUID, kind, relPath string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE endpoints
		SET generated_artifacts = generated_artifacts || jsonb_build_object($2::text, $3::text),
		    updated_at = now()
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, id, kind, relPath)
	if err != nil {
		return fmt.Errorf("failed to set endpoint artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
