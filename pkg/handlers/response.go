package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/logging"
)

// ApiResponse is the standard envelope for API responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// statusForError maps a service error onto an HTTP status and error code.
func statusForError(err error) (int, string) {
	var llmErr *llm.Error
	switch {
	case errors.Is(err, apperrors.ErrCredentialMissing):
		return http.StatusPreconditionFailed, "credential_missing"
	case errors.Is(err, apperrors.ErrAssistantNotInitialized):
		return http.StatusConflict, "assistant_not_initialized"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, llm.ErrRunTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, llm.ErrRunFailed), errors.Is(err, llm.ErrEmptyResponse), errors.As(err, &llmErr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError writes err as an error response. Internal errors get the
// fallback message; everything else gets the sanitized error text.
func writeServiceError(w http.ResponseWriter, err error, fallback string, logger *zap.Logger) {
	status, code := statusForError(err)
	message := fallback
	if status != http.StatusInternalServerError {
		message = logging.SanitizeError(err)
	}
	if status >= http.StatusInternalServerError {
		logger.Error(fallback, zap.String("error", logging.SanitizeError(err)))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
