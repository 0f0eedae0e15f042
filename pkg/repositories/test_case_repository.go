package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testdeck/testdeck-engine/pkg/database"
	"github.com/testdeck/testdeck-engine/pkg/models"
)

// TestCaseRepository persists test case rows derived from generated scenarios.
type TestCaseRepository interface {
	CreateBatch(ctx context.Context, testCases []*models.TestCase) error
	ListByGeneration(ctx context.Context, generationID string) ([]*models.TestCase, error)
}

type testCaseRepository struct{}

func NewTestCaseRepository() TestCaseRepository {
	return &testCaseRepository{}
}

var _ TestCaseRepository = (*testCaseRepository)(nil)

// CreateBatch inserts all rows in a single round trip.
func (r *testCaseRepository) CreateBatch(ctx context.Context, testCases []*models.TestCase) error {
	if len(testCases) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, tc := range testCases {
		if tc.ID == uuid.Nil {
			tc.ID = uuid.New()
		}
		tc.CreatedAt = now
		batch.Queue(`
			INSERT INTO test_cases (id, project_id, name, section, entity_name, source, generation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tc.ID, tc.ProjectID, tc.Name, tc.Section, tc.EntityName, tc.Source, tc.GenerationID, tc.CreatedAt)
	}

	results := scope.Conn.SendBatch(ctx, batch)
	defer results.Close()

	for range testCases {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert test case: %w", err)
		}
	}

	return nil
}

func (r *testCaseRepository) ListByGeneration(ctx context.Context, generationID string) ([]*models.TestCase, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, project_id, name, section, entity_name, source, COALESCE(generation_id, ''), created_at
		FROM test_cases
		WHERE generation_id = $1
		ORDER BY created_at, name`, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	var out []*models.TestCase
	for rows.Next() {
		var tc models.TestCase
		if err := rows.Scan(&tc.ID, &tc.ProjectID, &tc.Name, &tc.Section, &tc.EntityName, &tc.Source, &tc.GenerationID, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		out = append(out, &tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate test cases: %w", err)
	}

	return out, nil
}
