package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
)

// OpenAISettingsRequest is the PUT body for the provider credential.
type OpenAISettingsRequest struct {
	APIKey string `json:"api_key"`
}

// OpenAISettingsResponse reports the credential without revealing it.
type OpenAISettingsResponse struct {
	Configured bool   `json:"configured"`
	MaskedKey  string `json:"masked_key,omitempty"`
}

// SettingsHandler manages the provider credential.
type SettingsHandler struct {
	store  credentials.Store
	tester llm.CredentialTester
	logger *zap.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(store credentials.Store, tester llm.CredentialTester, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, tester: tester, logger: logger.Named("settings-handler")}
}

// RegisterRoutes registers the settings routes.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings/openai", h.GetOpenAI)
	mux.HandleFunc("PUT /api/settings/openai", h.PutOpenAI)
	mux.HandleFunc("POST /api/settings/openai/test", h.TestOpenAI)
}

// GetOpenAI handles GET /api/settings/openai.
func (h *SettingsHandler) GetOpenAI(w http.ResponseWriter, r *http.Request) {
	key, ok, err := h.store.Get(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to read credential", h.logger)
		return
	}

	resp := OpenAISettingsResponse{Configured: ok}
	if ok {
		resp.MaskedKey = credentials.Mask(key)
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// PutOpenAI handles PUT /api/settings/openai.
func (h *SettingsHandler) PutOpenAI(w http.ResponseWriter, r *http.Request) {
	var req OpenAISettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_api_key", "api_key must be a non-empty single token"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.store.Set(r.Context(), key); err != nil {
		writeServiceError(w, err, "Failed to save credential", h.logger)
		return
	}
	h.logger.Info("Provider credential updated")

	resp := OpenAISettingsResponse{Configured: true, MaskedKey: credentials.Mask(key)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp, Message: "API key saved"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestOpenAI handles POST /api/settings/openai/test. The body may carry a key
// to try before saving it; otherwise the stored key is tested.
func (h *SettingsHandler) TestOpenAI(w http.ResponseWriter, r *http.Request) {
	var req OpenAISettingsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		stored, ok, err := h.store.Get(r.Context())
		if err != nil {
			writeServiceError(w, err, "Failed to read credential", h.logger)
			return
		}
		if !ok {
			writeServiceError(w, apperrors.ErrCredentialMissing, "No API key configured", h.logger)
			return
		}
		key = stored
	}

	result := h.tester.Test(r.Context(), key)
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: result.Success, Data: result, Message: result.Message}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
