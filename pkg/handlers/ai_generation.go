package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

// AIGenerationHandler exposes generation, suggestions and their audit records.
type AIGenerationHandler struct {
	generator   services.AIGenerationService
	generations services.AILedgerService
	suggestions services.AILedgerService
	logger      *zap.Logger
}

// NewAIGenerationHandler creates a new generation handler.
func NewAIGenerationHandler(
	generator services.AIGenerationService,
	generations services.AILedgerService,
	suggestions services.AILedgerService,
	logger *zap.Logger,
) *AIGenerationHandler {
	return &AIGenerationHandler{
		generator:   generator,
		generations: generations,
		suggestions: suggestions,
		logger:      logger.Named("generation-handler"),
	}
}

// RegisterRoutes registers the generation and suggestion routes.
func (h *AIGenerationHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/projects/{pid}/ai/generate", tenantMiddleware(h.Generate))
	mux.HandleFunc("POST /api/projects/{pid}/ai/suggestions", tenantMiddleware(h.Suggest))
	mux.HandleFunc("GET /api/projects/{pid}/ai/suggestions", tenantMiddleware(h.ListSuggestions))
	mux.HandleFunc("GET /api/projects/{pid}/ai/suggestions/stats", tenantMiddleware(h.SuggestionStats))
	mux.HandleFunc("GET /api/projects/{pid}/ai/suggestions/{sid}", tenantMiddleware(h.GetSuggestion))
	mux.HandleFunc("GET /api/projects/{pid}/ai/generations/{gid}", tenantMiddleware(h.GetGeneration))
}

// Generate handles POST /api/projects/{pid}/ai/generate.
func (h *AIGenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Section) == "" || strings.TrimSpace(req.EntityName) == "" || strings.TrimSpace(req.Operation) == "" {
		h.badRequest(w, "section, entity_name and operation are required")
		return
	}
	req.ProjectID = projectID

	h.writeResult(w, h.generator.GenerateTestCases(r.Context(), req))
}

// Suggest handles POST /api/projects/{pid}/ai/suggestions.
func (h *AIGenerationHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.SuggestionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Section) == "" || strings.TrimSpace(req.EntityName) == "" {
		h.badRequest(w, "section and entity_name are required")
		return
	}
	req.ProjectID = projectID

	h.writeResult(w, h.generator.GenerateSuggestions(r.Context(), req))
}

// ListSuggestions handles GET /api/projects/{pid}/ai/suggestions.
func (h *AIGenerationHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := ParseLimit(w, r, h.logger)
	if !ok {
		return
	}

	records, err := h.suggestions.FindByProject(r.Context(), projectID, limit)
	if err != nil {
		writeServiceError(w, err, "Failed to list suggestions", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: records}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SuggestionStats handles GET /api/projects/{pid}/ai/suggestions/stats.
func (h *AIGenerationHandler) SuggestionStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.suggestions.Stats(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "Failed to load suggestion stats", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetSuggestion handles GET /api/projects/{pid}/ai/suggestions/{sid}.
func (h *AIGenerationHandler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	h.getRecord(w, r, h.suggestions, "sid")
}

// GetGeneration handles GET /api/projects/{pid}/ai/generations/{gid}.
func (h *AIGenerationHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	h.getRecord(w, r, h.generations, "gid")
}

func (h *AIGenerationHandler) getRecord(w http.ResponseWriter, r *http.Request, ledger services.AILedgerService, pathParam string) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := ledger.FindByID(r.Context(), r.PathValue(pathParam))
	if err != nil {
		writeServiceError(w, err, "Failed to load record", h.logger)
		return
	}
	// Records of other projects are reported as missing.
	if rec.ProjectID != projectID {
		writeServiceError(w, apperrors.ErrNotFound, "Failed to load record", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeResult writes an orchestration result. Failed results keep their
// metadata so callers can look up the audit record.
func (h *AIGenerationHandler) writeResult(w http.ResponseWriter, result *services.GenerationResult) {
	status := http.StatusOK
	if !result.Success {
		status, _ = statusForError(result.Err())
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AIGenerationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}

func (h *AIGenerationHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
