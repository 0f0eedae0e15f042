package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/database"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

// ProjectRepository defines the interface for project data access.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	// UpdateAssistantReference sets or clears the project's assistant back-reference.
	UpdateAssistantReference(ctx context.Context, id uuid.UUID, patch models.ProjectAssistantPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type projectRepository struct{}

// NewProjectRepository creates a new project repository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

// Create inserts a project, or renames it if the id already exists.
func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}

	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	query := `
		INSERT INTO projects (id, name, path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    path = EXCLUDED.path,
		    updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		project.ID, project.Name, project.Path, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, name, path, assistant_id, assistant_created_at, created_at, updated_at
		FROM projects
		WHERE id = $1`

	var p models.Project
	err := scope.Conn.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Path, &p.AssistantID, &p.AssistantCreatedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &p, nil
}

func (r *projectRepository) UpdateAssistantReference(ctx context.Context, id uuid.UUID, patch models.ProjectAssistantPatch) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	createdAt := patch.AssistantCreatedAt
	if patch.AssistantID == nil {
		createdAt = nil
	}

	query := `
		UPDATE projects
		SET assistant_id = $2, assistant_created_at = $3, updated_at = now()
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, id, patch.AssistantID, createdAt)
	if err != nil {
		return fmt.Errorf("failed to update project assistant reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
