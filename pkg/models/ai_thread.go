package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread status values.
const (
	ThreadStatusActive   = "active"
	ThreadStatusInactive = "inactive"
)

// DefaultMaxMessagesPerThread is the message ceiling applied to new threads.
const DefaultMaxMessagesPerThread = 1000

// AIThread is the local record of a remote conversation thread scoped to a
// (project, assistant) pair. Once MessageCount reaches MaxMessages the thread
// is inactive and must not receive further messages.
type AIThread struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	ThreadID     string    `json:"thread_id"`
	AssistantID  string    `json:"assistant_id"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	MaxMessages  int       `json:"max_messages"`
	LastUsedAt   time.Time `json:"last_used_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive reports whether the thread may still be used.
func (t *AIThread) IsActive() bool {
	return t.Status == ThreadStatusActive
}

// HasCapacity reports whether another message fits under the ceiling.
func (t *AIThread) HasCapacity() bool {
	return t.MessageCount < t.MaxMessages
}
