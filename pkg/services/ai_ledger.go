package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// AILedgerService records every generation or suggestion attempt.
// Records are never deleted; metadata patches are shallow-merged and status
// only moves forward (pending -> processing -> completed|failed).
type AILedgerService interface {
	Kind() models.LedgerKind
	Create(ctx context.Context, record *models.AIGenerationRecord) (*models.AIGenerationRecord, error)
	UpdateStatus(ctx context.Context, generationID string, status models.GenerationStatus, patch models.Metadata) (*models.AIGenerationRecord, error)
	MarkCompleted(ctx context.Context, generationID string, result json.RawMessage, patch models.Metadata) (*models.AIGenerationRecord, error)
	MarkFailed(ctx context.Context, generationID string, errorMessage string, patch models.Metadata) (*models.AIGenerationRecord, error)
	FindByID(ctx context.Context, generationID string) (*models.AIGenerationRecord, error)
	FindByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error)
	Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error)
}

type aiLedgerService struct {
	repo   repositories.AILedgerRepository
	logger *zap.Logger
}

// NewAILedgerService creates a ledger service over one ledger table.
func NewAILedgerService(repo repositories.AILedgerRepository, logger *zap.Logger) AILedgerService {
	return &aiLedgerService{
		repo:   repo,
		logger: logger.Named("ai-ledger").With(zap.String("ledger", string(repo.Kind()))),
	}
}

var _ AILedgerService = (*aiLedgerService)(nil)

func (s *aiLedgerService) Kind() models.LedgerKind {
	return s.repo.Kind()
}

func (s *aiLedgerService) Create(ctx context.Context, rec *models.AIGenerationRecord) (*models.AIGenerationRecord, error) {
	if rec.GenerationID == "" {
		return nil, fmt.Errorf("generation id is required")
	}
	rec.Status = models.GenerationStatusPending
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *aiLedgerService) UpdateStatus(ctx context.Context, generationID string, status models.GenerationStatus, patch models.Metadata) (*models.AIGenerationRecord, error) {
	return s.transition(ctx, generationID, repositories.LedgerUpdate{
		Status:        status,
		MetadataPatch: patch,
	})
}

func (s *aiLedgerService) MarkCompleted(ctx context.Context, generationID string, result json.RawMessage, patch models.Metadata) (*models.AIGenerationRecord, error) {
	return s.transition(ctx, generationID, repositories.LedgerUpdate{
		Status:        models.GenerationStatusCompleted,
		Result:        result,
		MetadataPatch: patch,
	})
}

func (s *aiLedgerService) MarkFailed(ctx context.Context, generationID string, errorMessage string, patch models.Metadata) (*models.AIGenerationRecord, error) {
	msg := logging.SanitizeText(errorMessage)
	return s.transition(ctx, generationID, repositories.LedgerUpdate{
		Status:        models.GenerationStatusFailed,
		ErrorMessage:  &msg,
		MetadataPatch: patch,
	})
}

func (s *aiLedgerService) transition(ctx context.Context, generationID string, u repositories.LedgerUpdate) (*models.AIGenerationRecord, error) {
	u.From = models.AllowedPredecessors(u.Status)
	if len(u.From) == 0 {
		return nil, fmt.Errorf("status %q cannot be entered by an update", u.Status)
	}

	rec, err := s.repo.Update(ctx, generationID, u)
	if err != nil {
		s.logger.Warn("Ledger update rejected",
			zap.String("generation_id", generationID),
			zap.String("status", string(u.Status)),
			zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (s *aiLedgerService) FindByID(ctx context.Context, generationID string) (*models.AIGenerationRecord, error) {
	return s.repo.GetByGenerationID(ctx, generationID)
}

func (s *aiLedgerService) FindByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AIGenerationRecord, error) {
	return s.repo.ListByProject(ctx, projectID, limit)
}

func (s *aiLedgerService) Stats(ctx context.Context, projectID uuid.UUID) (*models.SuggestionStats, error) {
	return s.repo.Stats(ctx, projectID)
}
