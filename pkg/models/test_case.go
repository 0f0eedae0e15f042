package models

import (
	"time"

	"github.com/google/uuid"
)

// TestCaseSourceAI marks rows derived from generated scenarios.
const TestCaseSourceAI = "ai"

// TestCase is a test case row. Only AI-derived rows are written here;
// manual test-case management lives elsewhere.
type TestCase struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Name         string    `json:"name"`
	Section      string    `json:"section"`
	EntityName   string    `json:"entity_name"`
	Source       string    `json:"source"`
	GenerationID string    `json:"generation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
