// Package provisioner implements the Key Provisioner: it issues scoped
// upstream virtual keys on behalf of workspaces and interactive users so
// that the upstream master credential never reaches a workspace container.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wisbric/aegis/internal/telemetry"
	"github.com/wisbric/aegis/pkg/keymeta"
	"github.com/wisbric/aegis/pkg/upstream"
)

// IssueResult is the outcome of an idempotent key-issuance call.
type IssueResult struct {
	Key    string
	Reused bool
}

// Service implements the provisioning algorithm shared by the workspace and
// self-service endpoints: look up by alias, generate on miss, collapse
// concurrent callers for the same alias into one upstream round trip.
type Service struct {
	upstream upstream.Client
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService builds a Service backed by the given upstream client.
func NewService(client upstream.Client, logger *slog.Logger) *Service {
	return &Service{upstream: client, logger: logger}
}

// IssueWorkspaceKey auto-provisions (or reuses) a key for a Coder workspace.
func (s *Service) IssueWorkspaceKey(ctx context.Context, workspaceID, username, workspaceName string) (*IssueResult, error) {
	alias := "workspace-" + workspaceID
	metadata := map[string]any{
		keymeta.MetaScope:          "workspace:" + workspaceID,
		keymeta.MetaKeyType:        keymeta.KeyTypeWorkspace,
		keymeta.MetaCreatedBy:      "key-provisioner",
		keymeta.MetaCreatedAt:      time.Now().UTC().Format(time.RFC3339),
		keymeta.MetaWorkspaceID:    workspaceID,
		keymeta.MetaWorkspaceOwner: username,
		keymeta.MetaWorkspaceName:  workspaceName,
		keymeta.MetaPurpose:        "auto-provisioned workspace key",
	}
	defaults := keymeta.DefaultsFor(keymeta.KeyTypeWorkspace)
	return s.issue(ctx, alias, username, keymeta.KeyTypeWorkspace, defaults, metadata)
}

// IssueSelfServiceKey generates (or reuses) a personal key for an
// interactive user authenticated through the workspace host session token.
func (s *Service) IssueSelfServiceKey(ctx context.Context, username, purpose string) (*IssueResult, error) {
	if purpose == "" {
		purpose = "personal experimentation"
	}
	alias := "user-" + username
	metadata := map[string]any{
		keymeta.MetaScope:     "user:" + username,
		keymeta.MetaKeyType:   keymeta.KeyTypeUser,
		keymeta.MetaCreatedBy: "key-provisioner",
		keymeta.MetaCreatedAt: time.Now().UTC().Format(time.RFC3339),
		keymeta.MetaUsername:  username,
		keymeta.MetaPurpose:   purpose,
	}
	defaults := keymeta.DefaultsFor(keymeta.KeyTypeUser)
	return s.issue(ctx, alias, username, keymeta.KeyTypeUser, defaults, metadata)
}

// issue collapses concurrent callers for the same alias into a single
// find-then-generate round trip via singleflight, so a storm of simultaneous
// workspace-start requests for one workspace never races two upstream
// /key/generate calls for the same alias.
func (s *Service) issue(ctx context.Context, alias, userID, scope string, defaults keymeta.ScopeDefaults, metadata map[string]any) (*IssueResult, error) {
	v, err, _ := s.group.Do(alias, func() (any, error) {
		existing, err := s.upstream.FindKey(ctx, alias)
		if err == nil {
			s.logger.Info("reusing existing key", "alias", alias, "user_id", userID)
			return &IssueResult{Key: existing, Reused: true}, nil
		}
		if !errors.Is(err, upstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("checking existing key alias=%s: %w", alias, err)
		}

		key, err := s.upstream.GenerateKey(ctx, upstream.GenerateKeyRequest{
			Alias:     alias,
			UserID:    userID,
			MaxBudget: defaults.Budget,
			RPMLimit:  defaults.RPMLimit,
			Metadata:  metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("generating key alias=%s: %w", alias, err)
		}

		telemetry.KeysIssuedTotal.WithLabelValues(scope).Inc()
		s.logger.Info("generated key", "alias", alias, "user_id", userID, "scope", scope)
		return &IssueResult{Key: key, Reused: false}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*IssueResult), nil
}

// ResetUserSpend zeroes a user's accumulated spend.
func (s *Service) ResetUserSpend(ctx context.Context, userID string) error {
	if err := s.upstream.ResetUserSpend(ctx, userID); err != nil {
		return err
	}
	telemetry.KeysResetTotal.Inc()
	s.logger.Info("reset user spend", "user_id", userID)
	return nil
}

// normalizeUsername trims and lower-cases a workspace-host username so it is
// safe to embed directly in an upstream key alias.
func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
