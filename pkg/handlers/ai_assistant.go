package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

// AIAssistantHandler exposes a project's assistant lifecycle.
type AIAssistantHandler struct {
	assistants services.AIAssistantService
	logger     *zap.Logger
}

// NewAIAssistantHandler creates a new assistant handler.
func NewAIAssistantHandler(assistants services.AIAssistantService, logger *zap.Logger) *AIAssistantHandler {
	return &AIAssistantHandler{
		assistants: assistants,
		logger:     logger.Named("assistant-handler"),
	}
}

// RegisterRoutes registers the assistant routes.
func (h *AIAssistantHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/ai/assistant", tenantMiddleware(h.Get))
	mux.HandleFunc("POST /api/projects/{pid}/ai/assistant", tenantMiddleware(h.Create))
	mux.HandleFunc("DELETE /api/projects/{pid}/ai/assistant", tenantMiddleware(h.Delete))
}

// Get returns the project's assistant, or 404 when none exists.
func (h *AIAssistantHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	assistant, err := h.assistants.GetAssistant(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "Failed to get assistant", h.logger)
		return
	}
	if assistant == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "No assistant created for the project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: assistant}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create initializes the project's assistant.
func (h *AIAssistantHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	assistant, err := h.assistants.CreateAssistant(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "Failed to create assistant", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: assistant, Message: "Assistant created"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete tears down the project's assistant and returns the teardown report.
func (h *AIAssistantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.assistants.DeleteAssistant(r.Context(), projectID)
	if err != nil {
		if report == nil {
			writeServiceError(w, err, "Failed to delete assistant", h.logger)
			return
		}
		h.logger.Error("Assistant teardown failed",
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

	message := "No assistant to delete"
	if report.Deleted {
		message = "Assistant deleted"
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report, Message: message}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
