package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/config"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/logging"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports liveness, database reachability and the provider
// circuit breaker state.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Pinger checks a dependency. *database.DB satisfies it through its pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState reports the provider circuit breaker. *llm.CircuitBreaker satisfies it.
type BreakerState interface {
	State() llm.CircuitState
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	db      Pinger
	breaker BreakerState
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and breaker may be nil.
func NewHealthHandler(cfg *config.Config, db Pinger, breaker BreakerState, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, breaker: breaker, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "not_configured"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			resp.Error = logging.SanitizeError(err)
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	// An open breaker degrades the service but does not fail the probe:
	// project reads and deletes still work.
	if h.breaker != nil {
		state := h.breaker.State()
		resp.Provider = state.String()
		if state != llm.CircuitClosed && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "testdeck-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
