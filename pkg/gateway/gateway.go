// Package gateway hosts the pre-call hook pipeline in front of the upstream
// model router. The multi-provider forwarding itself is a deliberately thin
// pass-through; what this package owns is authenticating the caller's
// virtual key, running Guardrails then Enforcement in order, and recording
// usage without blocking the response to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/aegis/internal/httpserver"
	"github.com/wisbric/aegis/pkg/keymeta"
	"github.com/wisbric/aegis/pkg/pipeline"
	"github.com/wisbric/aegis/pkg/upstream"
	"github.com/wisbric/aegis/pkg/usage"
)

// chatCompletionTimeout bounds the forwarded upstream call, per the
// resource model's "upstream chat completion" budget.
const chatCompletionTimeout = 120 * time.Second

// Handler authenticates, scans, enforces, forwards, and records a single
// chat completion call.
type Handler struct {
	logger     *slog.Logger
	pipeline   *pipeline.Pipeline
	upstream   upstream.Client
	recorder   *usage.Recorder
	upstreamURL string
	http       *http.Client
}

// NewHandler builds a gateway Handler.
func NewHandler(logger *slog.Logger, pl *pipeline.Pipeline, upstreamClient upstream.Client, recorder *usage.Recorder, upstreamURL string) *Handler {
	return &Handler{
		logger:      logger,
		pipeline:    pl,
		upstream:    upstreamClient,
		recorder:    recorder,
		upstreamURL: upstreamURL,
		http:        &http.Client{},
	}
}

// Mount registers the chat-completion pass-through on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/v1/chat/completions", h.handleChatCompletion)
	r.Post("/chat/completions", h.handleChatCompletion)
}

func bearerFrom(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

func (h *Handler) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	bearer, ok := bearerFrom(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	var payload pipeline.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object")
		return
	}

	meta, requestMeta := h.keyMetadata(r.Context(), bearer)

	out, err := h.pipeline.Run(r.Context(), meta, payload, pipeline.CallTypeCompletion)
	if err != nil {
		var blockErr *pipeline.PolicyBlockError
		if errors.As(err, &blockErr) {
			httpserver.RespondError(w, http.StatusBadRequest, "policy_block", blockErr.Error())
			return
		}
		h.logger.Error("pre-call pipeline failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "pre-call pipeline failed")
		return
	}

	status, respBody, err := h.forward(r.Context(), bearer, out)
	if err != nil {
		h.logger.Error("forwarding to upstream router", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to reach upstream model router")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)

	if r.Context().Err() != nil {
		// Caller cancelled — do not write a usage record for an aborted call.
		return
	}

	requestID := httpserver.RequestIDFromContext(r.Context())
	h.recordUsage(requestID, requestMeta, status, respBody, time.Since(start))
}

// keyMetadata resolves the bearer's metadata via the upstream key-info
// endpoint. A lookup failure degrades to empty metadata (hook defaults
// apply) rather than blocking the call — only the upstream call itself is
// authoritative for budget/rate enforcement.
func (h *Handler) keyMetadata(ctx context.Context, bearer string) (map[string]any, keymeta.VirtualKey) {
	doc, err := h.upstream.GetKeyInfo(ctx, bearer)
	if err != nil {
		h.logger.Warn("failed to resolve key metadata, using hook defaults", "error", err)
		return nil, keymeta.VirtualKey{}
	}

	var vk keymeta.VirtualKey
	if err := json.Unmarshal(doc, &vk); err != nil {
		h.logger.Warn("failed to decode key-info document", "error", err)
		return nil, keymeta.VirtualKey{}
	}
	return vk.Metadata, vk
}

func (h *Handler) forward(ctx context.Context, bearer string, payload pipeline.Payload) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, chatCompletionTimeout)
	defer cancel()

	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.upstreamURL+"/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := h.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// recordUsage issues a fire-and-forget usage record; it never blocks the
// response already written to the caller.
func (h *Handler) recordUsage(requestID string, vk keymeta.VirtualKey, status int, respBody []byte, latency time.Duration) {
	var doc struct {
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	_ = json.Unmarshal(respBody, &doc)

	workspaceID := keymeta.StringMeta(vk.Metadata, keymeta.MetaWorkspaceID)
	if workspaceID == "" {
		workspaceID = "anonymous"
	}

	h.recorder.Record(usage.Record{
		RequestID:   requestID,
		WorkspaceID: workspaceID,
		UserID:      vk.UserID,
		Provider:    "litellm",
		Model:       doc.Model,
		TokensIn:    doc.Usage.PromptTokens,
		TokensOut:   doc.Usage.CompletionTokens,
		LatencyMS:   latency.Milliseconds(),
		StatusCode:  status,
		Endpoint:    "/v1/chat/completions",
		Timestamp:   time.Now().UTC(),
	})
}
