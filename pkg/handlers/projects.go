package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// CreateProjectRequest is the POST body for a new project.
type CreateProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// RegisterEndpointRequest is the PUT body for an endpoint under test.
type RegisterEndpointRequest struct {
	Section    string `json:"section"`
	EntityName string `json:"entity_name"`
	Method     string `json:"method"`
	Path       string `json:"path"`
}

// ProjectsHandler handles project-related HTTP requests.
type ProjectsHandler struct {
	projectService services.ProjectService
	logger         *zap.Logger
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(projectService services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		projectService: projectService,
		logger:         logger.Named("projects-handler"),
	}
}

// RegisterRoutes registers the project routes. Creation has no project yet and
// runs under the global middleware.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware, globalMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/projects", globalMiddleware(h.Create))
	mux.HandleFunc("GET /api/projects/{pid}", tenantMiddleware(h.Get))
	mux.HandleFunc("DELETE /api/projects/{pid}", tenantMiddleware(h.Delete))
	mux.HandleFunc("PUT /api/projects/{pid}/endpoints", tenantMiddleware(h.RegisterEndpoint))
}

// Create handles POST /api/projects.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.badRequest(w, "name is required")
		return
	}

	project, err := h.projectService.Create(r.Context(), &models.Project{Name: req.Name, Path: req.Path})
	if err != nil {
		writeServiceError(w, err, "Failed to create project", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: project}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projectService.GetByID(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "Failed to get project", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: project}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/projects/{pid}.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.projectService.Delete(r.Context(), projectID)
	if err != nil {
		if report == nil {
			writeServiceError(w, err, "Failed to delete project", h.logger)
			return
		}
		h.logger.Error("Project deletion failed",
			zap.String("project_id", projectID.String()),
			zap.String("error", logging.SanitizeError(err)))
		if err := WriteJSON(w, http.StatusInternalServerError, ApiResponse{
			Success: false,
			Data:    report,
			Error:   "teardown_failed",
			Message: logging.SanitizeError(err),
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report, Message: "Project deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RegisterEndpoint handles PUT /api/projects/{pid}/endpoints.
func (h *ProjectsHandler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req RegisterEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Section) == "" || strings.TrimSpace(req.EntityName) == "" {
		h.badRequest(w, "section and entity_name are required")
		return
	}

	endpoint := &models.Endpoint{
		ProjectID:  projectID,
		Section:    req.Section,
		EntityName: req.EntityName,
		Method:     strings.ToUpper(req.Method),
		Path:       req.Path,
	}
	if err := h.projectService.RegisterEndpoint(r.Context(), endpoint); err != nil {
		writeServiceError(w, err, "Failed to register endpoint", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: endpoint}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ProjectsHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
