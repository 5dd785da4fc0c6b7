// Package workspacehost implements a thin typed client over the developer
// workspace host (the "Workspace Host" collaborator named in spec), shared
// by the Key Provisioner's self-service session-token validation and the
// Idle Reaper's workspace listing/stop control.
package workspacehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Timeouts per operation, per the resource model's call budgets.
const (
	userInfoTimeout = 10 * time.Second
	listTimeout     = 30 * time.Second
	stopTimeout     = 30 * time.Second
)

// UserInfo is the subset of the host's /users/me document this system needs.
type UserInfo struct {
	Username string `json:"username"`
}

// LatestBuild is the build status embedded in a WorkspaceSnapshot.
type LatestBuild struct {
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkspaceSnapshot is the ephemeral per-workspace document fetched for
// idle classification.
type WorkspaceSnapshot struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	OwnerName   string       `json:"owner_name"`
	LatestBuild LatestBuild  `json:"latest_build"`
	LastUsedAt  *time.Time   `json:"last_used_at"`
}

// WorkspacePage is one page of an offset-paginated workspace listing.
type WorkspacePage struct {
	Workspaces []WorkspaceSnapshot
	Total      int
}

// HostError wraps a non-2xx response from the workspace host.
type HostError struct {
	StatusCode int
	Body       string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("workspace host error (status %d): %s", e.StatusCode, e.Body)
}

// Client is the set of operations the provisioner and reaper need against
// the workspace host.
type Client interface {
	// UserInfo validates a session token and returns the authenticated user.
	UserInfo(ctx context.Context, sessionToken string) (*UserInfo, error)
	// ListWorkspaces returns one offset-paginated page of running workspaces.
	ListWorkspaces(ctx context.Context, offset, limit int) (*WorkspacePage, error)
	// StopWorkspace issues a stop transition build for the given workspace.
	StopWorkspace(ctx context.Context, id string) error
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL.
func New(baseURL string) Client {
	return &httpClient{baseURL: baseURL, http: &http.Client{}}
}

func (c *httpClient) do(ctx context.Context, timeout time.Duration, method, path string, headers map[string]string) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("calling workspace host: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("reading workspace host response: %w", err)
	}
	return resp, body, nil
}

func (c *httpClient) UserInfo(ctx context.Context, sessionToken string) (*UserInfo, error) {
	resp, body, err := c.do(ctx, userInfoTimeout, http.MethodGet, "/api/v2/users/me",
		map[string]string{"Coder-Session-Token": sessionToken})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HostError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding user-info response: %w", err)
	}
	return &info, nil
}

func (c *httpClient) ListWorkspaces(ctx context.Context, offset, limit int) (*WorkspacePage, error) {
	path := "/api/v2/workspaces?q=" + url.QueryEscape("status:running") +
		"&offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(limit)
	resp, body, err := c.do(ctx, listTimeout, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HostError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var doc struct {
		Workspaces []WorkspaceSnapshot `json:"workspaces"`
		Count      int                 `json:"count"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding workspace list response: %w", err)
	}
	return &WorkspacePage{Workspaces: doc.Workspaces, Total: doc.Count}, nil
}

func (c *httpClient) StopWorkspace(ctx context.Context, id string) error {
	resp, body, err := c.do(ctx, stopTimeout, http.MethodPost, "/api/v2/workspaces/"+id+"/builds?transition=stop", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &HostError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
