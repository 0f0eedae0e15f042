// Package models contains domain types for testdeck-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a test-management project.
// Path locates the project's generated artifacts on disk.
type Project struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Path               string     `json:"path"`
	AssistantID        *string    `json:"assistant_id,omitempty"`
	AssistantCreatedAt *time.Time `json:"assistant_created_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ProjectAssistantPatch updates the assistant back-reference on a project.
// A nil AssistantID clears both fields.
type ProjectAssistantPatch struct {
	AssistantID        *string
	AssistantCreatedAt *time.Time
}
