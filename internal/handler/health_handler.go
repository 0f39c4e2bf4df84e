package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/boffins/usermgmt/internal/database"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/session"
)

// HealthHandler serves liveness, readiness, and service info endpoints.
type HealthHandler struct {
	db           *database.Postgres
	redis        *database.Redis
	sessions     *session.Manager
	oauthEnabled bool
	version      string
	startedAt    time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(
	db *database.Postgres,
	redis *database.Redis,
	sessions *session.Manager,
	oauthEnabled bool,
	version string,
) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redis,
		sessions:     sessions,
		oauthEnabled: oauthEnabled,
		version:      version,
		startedAt:    time.Now(),
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"session": h.sessions.Info(r).Status,
	})
}

// Info handles GET /info
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"service": "usermgmt",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
		"features": map[string]bool{
			"google_oauth": h.oauthEnabled,
		},
		"session": h.sessions.Info(r),
	})
}

// Ready handles GET /ready and checks backing stores.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
	}
	ready := true

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if err := h.redis.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		ready = false
	}

	if !ready {
		response.Error(w, apierrors.ErrServiceUnavailable.WithDetails(checks))
		return
	}
	response.OK(w, map[string]any{
		"status": "ready",
		"checks": checks,
	})
}

// Routes mounts the health routes on the given router.
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/ready", h.Ready)
}
