package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithTenantContext sets up a project-scoped DB connection for routes that
// carry a {pid} path value. The connection is released after the handler returns.
func WithTenantContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			projectID, err := uuid.Parse(r.PathValue("pid"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
				return
			}

			scope, err := db.WithTenant(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

// WithGlobalContext sets up an unscoped DB connection for routes without a project.
func WithGlobalContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			scope, err := db.WithoutTenant(r.Context())
			if err != nil {
				logger.Error("Failed to acquire connection", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
