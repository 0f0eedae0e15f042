package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
)

// ProjectService manages the projects and endpoints the AI features work on.
type ProjectService interface {
	Create(ctx context.Context, project *models.Project) (*models.Project, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)

	// Delete tears down the project's assistant before removing the project.
	// The project is kept if the teardown fails.
	Delete(ctx context.Context, id uuid.UUID) (*TeardownReport, error)

	// RegisterEndpoint records an endpoint under test so generated artifact
	// paths can be tracked for it.
	RegisterEndpoint(ctx context.Context, endpoint *models.Endpoint) error
}

type projectService struct {
	projectRepo  repositories.ProjectRepository
	endpointRepo repositories.EndpointRepository
	assistants   AIAssistantService
	logger       *zap.Logger
}

// NewProjectService creates a new project service.
func NewProjectService(
	projectRepo repositories.ProjectRepository,
	endpointRepo repositories.EndpointRepository,
	assistants AIAssistantService,
	logger *zap.Logger,
) ProjectService {
	return &projectService{
		projectRepo:  projectRepo,
		endpointRepo: endpointRepo,
		assistants:   assistants,
		logger:       logger.Named("projects"),
	}
}

// Ensure projectService implements ProjectService at compile time.
var _ ProjectService = (*projectService)(nil)

func (s *projectService) Create(ctx context.Context, project *models.Project) (*models.Project, error) {
	project.Name = strings.TrimSpace(project.Name)
	if project.Name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("Created project",
		zap.String("project_id", project.ID.String()),
		zap.String("name", project.Name))
	return project, nil
}

func (s *projectService) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return s.projectRepo.Get(ctx, id)
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID) (*TeardownReport, error) {
	if _, err := s.projectRepo.Get(ctx, id); err != nil {
		return nil, err
	}

	report, err := s.assistants.DeleteAssistant(ctx, id)
	if err != nil {
		return report, fmt.Errorf("failed to tear down assistant: %w", err)
	}

	if err := s.projectRepo.Delete(ctx, id); err != nil {
		return report, err
	}

	s.logger.Info("Deleted project", zap.String("project_id", id.String()))
	return report, nil
}

func (s *projectService) RegisterEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	if strings.TrimSpace(endpoint.Section) == "" || strings.TrimSpace(endpoint.EntityName) == "" {
		return fmt.Errorf("section and entity_name are required")
	}
	if _, err := s.projectRepo.Get(ctx, endpoint.ProjectID); err != nil {
		return err
	}
	return s.endpointRepo.Upsert(ctx, endpoint)
}
