package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerationStatus is the lifecycle state of an audit record.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// ValidGenerationStatuses lists every status, in lifecycle order.
var ValidGenerationStatuses = []GenerationStatus{
	GenerationStatusPending,
	GenerationStatusProcessing,
	GenerationStatusCompleted,
	GenerationStatusFailed,
}

// IsTerminal reports whether no further transition is allowed.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// CanTransitionTo reports whether moving from s to next goes strictly forward.
// pending may jump straight to failed when the attempt dies before processing starts.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	switch s {
	case GenerationStatusPending:
		return next == GenerationStatusProcessing || next == GenerationStatusFailed
	case GenerationStatusProcessing:
		return next == GenerationStatusCompleted || next == GenerationStatusFailed
	default:
		return false
	}
}

// LedgerKind selects one of the two audit ledgers.
type LedgerKind string

const (
	LedgerGenerations LedgerKind = "generations"
	LedgerSuggestions LedgerKind = "suggestions"
)

// AIGenerationRecord is one attempt in a generation or suggestion audit ledger.
// Records are append-only: they are created before any remote call and never deleted.
type AIGenerationRecord struct {
	ID             uuid.UUID        `json:"id"`
	GenerationID   string           `json:"generation_id"`
	ProjectID      uuid.UUID        `json:"project_id"`
	EntityName     string           `json:"entity_name"`
	Section        string           `json:"section"`
	Operation      string           `json:"operation"`
	Requirements   string           `json:"requirements,omitempty"`
	RequestPayload json.RawMessage  `json:"request_payload,omitempty"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Status         GenerationStatus `json:"status"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	Metadata       Metadata         `json:"metadata"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SuggestionStats aggregates a project's suggestion ledger.
type SuggestionStats struct {
	Total               int                      `json:"total"`
	ByStatus            map[GenerationStatus]int `json:"by_status"`
	TotalTokens         int                      `json:"total_tokens"`
	AvgProcessingTimeMs float64                  `json:"avg_processing_time_ms"`
}

// AllowedPredecessors returns the statuses from which target may be reached.
func AllowedPredecessors(target GenerationStatus) []GenerationStatus {
	var from []GenerationStatus
	for _, s := range ValidGenerationStatuses {
		if s.CanTransitionTo(target) {
			from = append(from, s)
		}
	}
	return from
}
