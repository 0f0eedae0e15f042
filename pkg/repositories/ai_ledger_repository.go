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

// LedgerUpdate describes one status transition of an audit record.
// The update only applies while the stored status is one of From.
type LedgerUpdate struct {
	Status        models.GenerationStatus
	From          []models.GenerationStatus
	Result        json.RawMessage
	ErrorMessage  *string
	MetadataPatch models.Metadata
}

// AILedgerRepository is the append/update-only store behind one audit ledger.
type AILedgerRepository interface {
	Kind() models.LedgerKind
	Create(ctx context.Context, record *models.AIGenerationRecord) error
	GetByGenerationID(ctx context.Context, generationID string) (*models.AIGenerationRecord, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error)
	// Update applies a transition and shallow-merges the metadata patch in one statement.
	// Returns apperrors.ErrInvalidTransition if the stored status is not in update.From.
	Update(ctx context.Context, generationID string, update LedgerUpdate) (*models.AIGenerationRecord, error)
	Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error)
}

type aiLedgerRepository struct {
	kind  models.LedgerKind
	table string
}

// NewAILedgerRepository returns the repository for one ledger table.
func NewAILedgerRepository(kind models.LedgerKind) AILedgerRepository {
	table := "ai_generations"
	if kind == models.LedgerSuggestions {
		table = "ai_suggestions"
	}
	return &aiLedgerRepository{kind: kind, table: table}
}

var _ AILedgerRepository = (*aiLedgerRepository)(nil)

const ledgerColumns = `id, generation_id, project_id, entity_name, section, operation, requirements,
	request_payload, result, status, error_message, metadata, created_at, updated_at`

func (r *aiLedgerRepository) Kind() models.LedgerKind {
	return r.kind
}

func (r *aiLedgerRepository) Create(ctx context.Context, rec *models.AIGenerationRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = models.GenerationStatusPending
	}
	if rec.Metadata == nil {
		rec.Metadata = models.Metadata{}
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO ` + r.table + ` (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = scope.Conn.Exec(ctx, query,
		rec.ID, rec.GenerationID, rec.ProjectID, rec.EntityName, rec.Section, rec.Operation, rec.Requirements,
		nullableJSON(rec.RequestPayload), nullableJSON(rec.Result), rec.Status, rec.ErrorMessage, string(metadata),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s record: %w", r.kind, err)
	}

	return nil
}

func (r *aiLedgerRepository) GetByGenerationID(ctx context.Context, generationID string) (*models.AIGenerationRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM `+r.table+` WHERE generation_id = $1`, generationID)
	rec, err := scanLedgerRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s record: %w", r.kind, err)
	}

	return rec, nil
}

func (r *aiLedgerRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+ledgerColumns+` FROM `+r.table+`
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", r.kind, err)
	}
	defer rows.Close()

	var records []*models.AIGenerationRecord
	for rows.Next() {
		rec, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", r.kind, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", r.kind, err)
	}

	return records, nil
}

func (r *aiLedgerRepository) Update(ctx context.Context, generationID string, u LedgerUpdate) (*models.AIGenerationRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	patch := u.MetadataPatch
	if patch == nil {
		patch = models.Metadata{}
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	from := make([]string, len(u.From))
	for i, s := range u.From {
		from[i] = string(s)
	}

	query := `
		UPDATE ` + r.table + `
		SET status = $2,
		    result = COALESCE($3::jsonb, result),
		    error_message = COALESCE($4, error_message),
		    metadata = metadata || $5::jsonb,
		    updated_at = now()
		WHERE generation_id = $1 AND status = ANY($6::text[])
		RETURNING ` + ledgerColumns

	row := scope.Conn.QueryRow(ctx, query,
		generationID, u.Status, nullableJSON(u.Result), u.ErrorMessage, string(patchJSON), from)
	rec, err := scanLedgerRecord(row)
	if err == nil {
		return rec, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to update %s record: %w", r.kind, err)
	}

	// Distinguish a missing record from a rejected transition.
	if _, getErr := r.GetByGenerationID(ctx, generationID); getErr != nil {
		return nil, getErr
	}
	return nil, apperrors.ErrInvalidTransition
}

func (r *aiLedgerRepository) Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT status,
		       COUNT(*),
		       COALESCE(SUM((metadata->>'tokens_used')::bigint), 0),
		       COALESCE(SUM((metadata->>'processing_time_ms')::float8), 0),
		       COUNT(metadata->'processing_time_ms')
		FROM `+r.table+`
		WHERE project_id = $1
		GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s stats: %w", r.kind, err)
	}
	defer rows.Close()

	stats := &models.SuggestionStats{ByStatus: map[models.GenerationStatus]int{}}
	for _, s := range models.ValidGenerationStatuses {
		stats.ByStatus[s] = 0
	}

	var totalMs float64
	var timed int64
	for rows.Next() {
		var status string
		var count, tokens, timedRows int64
		var ms float64
		if err := rows.Scan(&status, &count, &tokens, &ms, &timedRows); err != nil {
			return nil, fmt.Errorf("failed to scan %s stats: %w", r.kind, err)
		}
		stats.ByStatus[models.GenerationStatus(status)] = int(count)
		stats.Total += int(count)
		stats.TotalTokens += int(tokens)
		totalMs += ms
		timed += timedRows
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s stats: %w", r.kind, err)
	}

	if timed > 0 {
		stats.AvgProcessingTimeMs = totalMs / float64(timed)
	}

	return stats, nil
}

func scanLedgerRecord(row pgx.Row) (*models.AIGenerationRecord, error) {
	var rec models.AIGenerationRecord
	var status string
	var requestPayload, result, metadata []byte
	err := row.Scan(
		&rec.ID, &rec.GenerationID, &rec.ProjectID, &rec.EntityName, &rec.Section, &rec.Operation, &rec.Requirements,
		&requestPayload, &result, &status, &rec.ErrorMessage, &metadata, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.GenerationStatus(status)
	if len(requestPayload) > 0 {
		rec.RequestPayload = json.RawMessage(requestPayload)
	}
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	rec.Metadata = models.Metadata{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
