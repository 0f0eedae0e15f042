package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/metrics"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/prompts"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// Teardown step names, in execution order.
const (
	StepDeleteThreads         = "delete_threads"
	StepClearProjectReference = "clear_project_reference"
	StepDeleteRemoteAssistant = "delete_remote_assistant"
	StepDeleteLocalRecord     = "delete_local_record"
)

// AIAssistantService owns the one-assistant-per-project invariant.
type AIAssistantService interface {
	// GetAssistant returns the project's assistant, or nil if there is none.
	// A record whose remote assistant is gone is purged and reported as absent.
	GetAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error)

	// CreateAssistant creates the remote assistant and its local record.
	// Returns apperrors.ErrConflict if a live assistant already exists.
	CreateAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error)

	// DeleteAssistant tears the assistant down. Only failure to delete the
	// local record is returned as an error; other failures are in the report.
	DeleteAssistant(ctx context.Context, projectID uuid.UUID) (*TeardownReport, error)
}

type aiAssistantService struct {
	assistantRepo repositories.AIAssistantRepository
	projectRepo   repositories.ProjectRepository
	threads       AIThreadService
	resolver      providerResolver
	locks         ProjectLocker
	model         string
	logger        *zap.Logger
}

// NewAIAssistantService creates an assistant registry. model is the fixed
// model every assistant is created with.
func NewAIAssistantService(
	assistantRepo repositories.AIAssistantRepository,
	projectRepo repositories.ProjectRepository,
	threads AIThreadService,
	creds credentials.Store,
	factory llm.ProviderFactory,
	locks ProjectLocker,
	model string,
	logger *zap.Logger,
) AIAssistantService {
	return &aiAssistantService{
		assistantRepo: assistantRepo,
		projectRepo:   projectRepo,
		threads:       threads,
		resolver:      providerResolver{creds: creds, factory: factory},
		locks:         locks,
		model:         model,
		logger:        logger.Named("ai-assistants"),
	}
}

var _ AIAssistantService = (*aiAssistantService)(nil)

func (s *aiAssistantService) GetAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	record, err := s.assistantRepo.GetByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := provider.RetrieveAssistant(ctx, record.AssistantID); err != nil {
		if !llm.IsResourceGone(err) {
			return nil, fmt.Errorf("failed to verify assistant: %w", err)
		}

		s.logger.Warn("Assistant no longer exists remotely, purging local record",
			zap.String("project_id", projectID.String()),
			zap.String("assistant_id", record.AssistantID))

		if err := s.assistantRepo.DeleteByProject(ctx, projectID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if err := s.projectRepo.UpdateAssistantReference(ctx, projectID, models.ProjectAssistantPatch{}); err != nil {
			s.logger.Warn("Failed to clear project assistant reference",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
		metrics.RecordStalePurge("assistant")
		return nil, nil
	}

	return record, nil
}

func (s *aiAssistantService) CreateAssistant(ctx context.Context, projectID uuid.UUID) (*models.AIAssistant, error) {
	unlock, err := s.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.GetAssistant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: assistant already exists for this project, use GetAssistant", apperrors.ErrConflict)
	}

	project, err := s.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	provider, err := s.resolver.provider(ctx)
	if err != nil {
		return nil, err
	}

	instructions, err := prompts.BuildAssistantInstructions(project.Name)
	if err != nil {
		return nil, err
	}

	remote, err := provider.CreateAssistant(ctx, llm.AssistantSpec{
		Name:         prompts.AssistantName(project.Name),
		Instructions: instructions,
		Model:        s.model,
		Metadata:     map[string]string{"project_id": projectID.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote assistant: %w", err)
	}

	record := &models.AIAssistant{
		ProjectID:    projectID,
		AssistantID:  remote.ID,
		Name:         remote.Name,
		Instructions: instructions,
		Model:        s.model,
		Tools:        []string{},
		Status:       models.AssistantStatusActive,
	}
	if err := s.assistantRepo.Create(ctx, record); err != nil {
		// Best-effort rollback; the reconciliation sweep reclaims anything left behind.
		if delErr := provider.DeleteAssistant(ctx, remote.ID); delErr != nil && !llm.IsResourceGone(delErr) {
			s.logger.Error("Orphaned remote assistant after local save failed",
				zap.String("project_id", projectID.String()),
				zap.String("assistant_id", remote.ID),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to save assistant record: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if err := s.projectRepo.UpdateAssistantReference(ctx, projectID, models.ProjectAssistantPatch{
		AssistantID:        &record.AssistantID,
		AssistantCreatedAt: &createdAt,
	}); err != nil {
		s.logger.Warn("Failed to write assistant reference onto project",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
	}

	s.logger.Info("Created assistant",
		zap.String("project_id", projectID.String()),
		zap.String("assistant_id", record.AssistantID),
		zap.String("model", record.Model))

	return record, nil
}

func (s *aiAssistantService) DeleteAssistant(ctx context.Context, projectID uuid.UUID) (*TeardownReport, error) {
	unlock, err := s.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &TeardownReport{ProjectID: projectID.String()}

	record, err := s.assistantRepo.GetByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Info("No assistant to delete", zap.String("project_id", projectID.String()))
			return report, nil
		}
		return nil, err
	}
	report.AssistantID = record.AssistantID

	steps := []teardownStep{
		{name: StepDeleteThreads, run: func(ctx context.Context) error {
			return s.threads.DeleteAllProjectThreads(ctx, projectID)
		}},
		{name: StepClearProjectReference, run: func(ctx context.Context) error {
			return s.projectRepo.UpdateAssistantReference(ctx, projectID, models.ProjectAssistantPatch{})
		}},
		{name: StepDeleteRemoteAssistant, run: func(ctx context.Context) error {
			provider, err := s.resolver.provider(ctx)
			if err != nil {
				return err
			}
			if err := provider.DeleteAssistant(ctx, record.AssistantID); err != nil && !llm.IsResourceGone(err) {
				return err
			}
			return nil
		}},
		{name: StepDeleteLocalRecord, fatal: true, run: func(ctx context.Context) error {
			return s.assistantRepo.DeleteByProject(ctx, projectID)
		}},
	}

	if err := runTeardown(ctx, steps, report, s.logger.With(zap.String("project_id", projectID.String()))); err != nil {
		return report, err
	}
	report.Deleted = true

	s.logger.Info("Deleted assistant",
		zap.String("project_id", projectID.String()),
		zap.String("assistant_id", record.AssistantID),
		zap.Int("non_fatal_errors", len(report.NonFatalErrors())))

	return report, nil
}
