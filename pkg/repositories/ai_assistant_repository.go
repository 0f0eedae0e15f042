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

// AIAssistantRepository stores the local record of each project's remote assistant.
type AIAssistantRepository interface {
	// Create fails with apperrors.ErrConflict if the project already has a record.
	Create(ctx context.Context, assistant *models.AIAssistant) error
	GetByProject(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error)
	DeleteByProject(ctx context.Context, projectID uuid.UUID) error
	// ListAssistantIDs returns every stored remote assistant id. Requires an unscoped connection.
	ListAssistantIDs(ctx context.Context) (map[string]struct{}, error)
}

type aiAssistantRepository struct{}

func NewAIAssistantRepository() AIAssistantRepository {
	return &aiAssistantRepository{}
}

var _ AIAssistantRepository = (*aiAssistantRepository)(nil)

func (r *aiAssistantRepository) Create(ctx context.Context, a *models.AIAssistant) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AssistantStatusActive
	}
	if a.Tools == nil {
		a.Tools = []string{}
	}
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO ai_assistants (id, project_id, assistant_id, name, instructions, model, tools, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		a.ID, a.ProjectID, a.AssistantID, a.Name, a.Instructions, a.Model, string(tools), a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assistant record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}

	return nil
}

func (r *aiAssistantRepository) GetByProject(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, project_id, assistant_id, name, instructions, model, tools, status, created_at, updated_at
		FROM ai_assistants
		WHERE project_id = $1`

	var a models.AIAssistant
	var tools []byte
	err := scope.Conn.QueryRow(ctx, query, projectID).Scan(
		&a.ID, &a.ProjectID, &a.AssistantID, &a.Name, &a.Instructions, &a.Model, &tools, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assistant record: %w", err)
	}

	if err := json.Unmarshal(tools, &a.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
	}

	return &a, nil
}

func (r *aiAssistantRepository) DeleteByProject(ctx context.Context, projectID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `DELETE FROM ai_assistants WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete assistant record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *aiAssistantRepository) ListAssistantIDs(ctx context.Context) (map[string]struct{}, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT assistant_id FROM ai_assistants`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistant ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan assistant id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assistant ids: %w", err)
	}

	return ids, nil
}
