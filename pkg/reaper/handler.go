package reaper

import (
	"net/http"
	"time"

	"github.com/wisbric/aegis/internal/httpserver"
)

// Handler exposes the reaper's health/status/config surface. HandleHealth
// and StatusDetail are wired directly onto the shared server's router by the
// caller — at "/health" and as the /status endpoint's "detail" payload —
// since the shared server already owns "/healthz" and "/status" for every
// mode. HandleConfig is likewise wired by the caller, at "/config".
type Handler struct {
	state       *State
	sessionOK   func() bool
	idleTimeout time.Duration
	gracePeriod time.Duration
	dryRun      bool
	excluded    []string
}

// NewHandler builds a reaper Handler. sessionOK reports whether the
// workspace-host session token was present at startup; its absence means
// the reaper refuses to run, but the health endpoint must still report it.
func NewHandler(state *State, sessionOK func() bool, idleTimeout, gracePeriod time.Duration, dryRun bool, excluded []string) *Handler {
	return &Handler{
		state:       state,
		sessionOK:   sessionOK,
		idleTimeout: idleTimeout,
		gracePeriod: gracePeriod,
		dryRun:      dryRun,
		excluded:    excluded,
	}
}

// HandleHealth reports unhealthy when the workspace-host session token was
// missing at startup; the reaper still runs its HTTP surface in that case so
// the failure is observable.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.sessionOK() {
		httpserver.Respond(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"reason": "workspace host session token missing",
		})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "healthy", "dry_run": h.dryRun})
}

// StatusDetail returns the current reaper Snapshot for embedding in the
// shared server's /status response.
func (h *Handler) StatusDetail() any {
	return h.state.Snapshot()
}

// HandleConfig reports the reaper's effective tuning parameters.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"idle_timeout_minutes": h.idleTimeout.Minutes(),
		"grace_period_minutes": h.gracePeriod.Minutes(),
		"dry_run":              h.dryRun,
		"excluded_owners":      h.excluded,
	})
}
