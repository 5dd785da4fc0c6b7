package provisioner

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/aegis/internal/httpserver"
	"github.com/wisbric/aegis/pkg/upstream"
	"github.com/wisbric/aegis/pkg/workspacehost"
)

// Handler exposes the Key Provisioner's HTTP surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	upstream upstream.Client
	host     workspacehost.Client
	secret   string
	limiter  *RateLimiter
}

// NewHandler builds a provisioner Handler. limiter may be nil, in which case
// self-service key issuance is not rate limited (e.g. Redis is not
// configured).
func NewHandler(logger *slog.Logger, service *Service, upstreamClient upstream.Client, host workspacehost.Client, provisionerSecret string, limiter *RateLimiter) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		upstream: upstreamClient,
		host:     host,
		secret:   provisionerSecret,
		limiter:  limiter,
	}
}

// Mount registers every provisioner endpoint directly on r, at its final
// absolute path — the shared server's router, not a prefixed sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireProvisionerSecret(h.secret))
		r.Post("/api/v1/keys/workspace", h.handleWorkspaceKey)
		r.Post("/api/v1/keys/reset-user", h.handleResetUser)
		r.Get("/api/v1/keys/list", h.handleListKeys)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSessionToken(h.host, h.limiter))
		r.Post("/api/v1/keys/self-service", h.handleSelfServiceKey)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireUpstreamKey)
		r.Get("/api/v1/keys/info", h.handleKeyInfo)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok := h.upstream.Ping(r.Context()) == nil
	status := "ok"
	code := http.StatusOK
	if !ok {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	httpserver.Respond(w, code, map[string]any{"status": status, "litellm": ok})
}

type workspaceKeyRequest struct {
	WorkspaceID   string `json:"workspace_id" validate:"required"`
	Username      string `json:"username" validate:"required"`
	WorkspaceName string `json:"workspace_name"`
}

func (h *Handler) handleWorkspaceKey(w http.ResponseWriter, r *http.Request) {
	var req workspaceKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	username := strings.TrimSpace(req.Username)
	if workspaceID == "" || username == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "workspace_id and username are required")
		return
	}

	result, err := h.service.IssueWorkspaceKey(r.Context(), workspaceID, username, req.WorkspaceName)
	if err != nil {
		h.logger.Error("issuing workspace key", "error", err, "workspace_id", workspaceID)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to generate key")
		return
	}

	status := http.StatusOK
	if !result.Reused {
		status = http.StatusCreated
	}
	httpserver.Respond(w, status, map[string]any{"key": result.Key, "reused": result.Reused})
}

type selfServiceKeyRequest struct {
	Purpose string `json:"purpose"`
}

func (h *Handler) handleSelfServiceKey(w http.ResponseWriter, r *http.Request) {
	var req selfServiceKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	username := sessionUserFromContext(r.Context())
	result, err := h.service.IssueSelfServiceKey(r.Context(), username, req.Purpose)
	if err != nil {
		h.logger.Error("issuing self-service key", "error", err, "username", username)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to generate key")
		return
	}

	status := http.StatusOK
	if !result.Reused {
		status = http.StatusCreated
	}
	httpserver.Respond(w, status, map[string]any{"key": result.Key, "reused": result.Reused})
}

func (h *Handler) handleKeyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.upstream.GetKeyInfo(r.Context(), bearerFromContext(r.Context()))
	if err != nil {
		h.logger.Error("getting key info", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to get key info")
		return
	}
	httpserver.Respond(w, http.StatusOK, info)
}

type resetUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *Handler) handleResetUser(w http.ResponseWriter, r *http.Request) {
	var req resetUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "user_id required")
		return
	}

	if err := h.service.ResetUserSpend(r.Context(), userID); err != nil {
		h.logger.Error("resetting user spend", "error", err, "user_id", userID)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to reset spend")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"user_id":     userID,
		"spend_reset": true,
	})
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.upstream.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("listing keys", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to list keys")
		return
	}
	httpserver.Respond(w, http.StatusOK, keys)
}
