package provisioner

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wisbric/aegis/internal/httpserver"
	"github.com/wisbric/aegis/pkg/workspacehost"
)

type contextKey string

const (
	bearerKey       contextKey = "provisioner_bearer"
	sessionUserKey  contextKey = "provisioner_session_user"
)

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// requireProvisionerSecret authenticates admin/workspace-provisioning calls
// with the shared PROVISIONER_SECRET, never the upstream master credential.
func requireProvisionerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || token != secret || secret == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid provisioner secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireUpstreamKey authenticates key-info lookups with any valid upstream
// virtual key, stashing the bearer in the request context for the handler.
func requireUpstreamKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), bearerKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(bearerKey).(string)
	return v
}

// requireSessionToken authenticates self-service key issuance with a
// workspace-host session token, resolving it to a username before the
// handler runs. limiter may be nil, in which case no rate limiting is
// applied (e.g. Redis is not configured).
func requireSessionToken(host workspacehost.Client, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			ip := clientIP(r)
			if limiter != nil {
				result, err := limiter.Check(r.Context(), ip)
				if err != nil {
					httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to check rate limit")
					return
				}
				if !result.Allowed {
					httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many failed self-service auth attempts, try again later")
					return
				}
			}

			info, err := host.UserInfo(r.Context(), token)
			if err != nil {
				var hostErr *workspacehost.HostError
				if errors.As(err, &hostErr) {
					if limiter != nil {
						if recErr := limiter.Record(r.Context(), ip); recErr != nil {
							httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to record rate limit")
							return
						}
					}
					httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid workspace host session token")
					return
				}
				httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to reach workspace host")
				return
			}
			username := normalizeUsername(info.Username)
			if username == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "could not determine username")
				return
			}

			if limiter != nil {
				if err := limiter.Reset(r.Context(), ip); err != nil {
					httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "failed to reset rate limit")
					return
				}
			}

			ctx := context.WithValue(r.Context(), sessionUserKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionUserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionUserKey).(string)
	return v
}
