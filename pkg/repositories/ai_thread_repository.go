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

// AIThreadRepository stores the local record of remote conversation threads.
// List methods return threads most recently used first.
type AIThreadRepository interface {
	Create(ctx context.Context, thread *models.AIThread) error
	GetByThreadID(ctx context.Context, threadID string) (*models.AIThread, error)
	ListByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error)
	ListActiveByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AIThread, error)
	// Update persists status, message_count and last_used_at.
	Update(ctx context.Context, thread *models.AIThread) error
	Delete(ctx context.Context, threadID string) error
}

type aiThreadRepository struct{}

func NewAIThreadRepository() AIThreadRepository {
	return &aiThreadRepository{}
}

var _ AIThreadRepository = (*aiThreadRepository)(nil)

const threadColumns = `id, project_id, thread_id, assistant_id, status, message_count, max_messages, last_used_at, created_at, updated_at`

func (r *aiThreadRepository) Create(ctx context.Context, t *models.AIThread) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.LastUsedAt.IsZero() {
		t.LastUsedAt = now
	}

	query := `
		INSERT INTO ai_threads (` + threadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := scope.Conn.Exec(ctx, query,
		t.ID, t.ProjectID, t.ThreadID, t.AssistantID, t.Status, t.MessageCount, t.MaxMessages, t.LastUsedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create thread record: %w", err)
	}

	return nil
}

func (r *aiThreadRepository) GetByThreadID(ctx context.Context, threadID string) (*models.AIThread, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+threadColumns+` FROM ai_threads WHERE thread_id = $1`, threadID)
	t, err := scanThread(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread record: %w", err)
	}

	return t, nil
}

func (r *aiThreadRepository) ListByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error) {
	return r.list(ctx, `
		SELECT `+threadColumns+` FROM ai_threads
		WHERE project_id = $1 AND assistant_id = $2
		ORDER BY last_used_at DESC, created_at DESC`, projectID, assistantID)
}

func (r *aiThreadRepository) ListActiveByPair(ctx context.Context, projectID uuid.UUID, assistantID string) ([]*models.AIThread, error) {
	return r.list(ctx, `
		SELECT `+threadColumns+` FROM ai_threads
		WHERE project_id = $1 AND assistant_id = $2 AND status = 'active'
		ORDER BY last_used_at DESC, created_at DESC`, projectID, assistantID)
}

func (r *aiThreadRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AIThread, error) {
	return r.list(ctx, `
		SELECT `+threadColumns+` FROM ai_threads
		WHERE project_id = $1
		ORDER BY last_used_at DESC, created_at DESC`, projectID)
}

func (r *aiThreadRepository) list(ctx context.Context, query string, args ...any) ([]*models.AIThread, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread records: %w", err)
	}
	defer rows.Close()

	var threads []*models.AIThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread record: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread records: %w", err)
	}

	return threads, nil
}

func (r *aiThreadRepository) Update(ctx context.Context, t *models.AIThread) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	t.UpdatedAt = time.Now()
	query := `
		UPDATE ai_threads
		SET status = $2, message_count = $3, last_used_at = $4, updated_at = $5
		WHERE thread_id = $1`

	tag, err := scope.Conn.Exec(ctx, query, t.ThreadID, t.Status, t.MessageCount, t.LastUsedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update thread record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *aiThreadRepository) Delete(ctx context.Context, threadID string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM ai_threads WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread record: %w", err)
	}

	return nil
}

func scanThread(row pgx.Row) (*models.AIThread, error) {
	var t models.AIThread
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.ThreadID, &t.AssistantID, &t.Status, &t.MessageCount, &t.MaxMessages,
		&t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
