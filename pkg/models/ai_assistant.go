package models

import (
	"time"

	"github.com/google/uuid"
)

// AssistantStatusActive is the only status an assistant record holds.
const AssistantStatusActive = "active"

// AIAssistant is the local record of a remote assistant bound to one project.
// AssistantID is the provider identifier and never changes for the record's lifetime.
type AIAssistant struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	AssistantID  string    `json:"assistant_id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Model        string    `json:"model"`
	Tools        []string  `json:"tools"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
