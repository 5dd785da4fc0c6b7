package workspacehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfo_SendsSessionTokenHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Coder-Session-Token")
		assert.Equal(t, "/api/v2/users/me", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"alice"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	info, err := c.UserInfo(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "tok-123", gotHeader)
}

func TestUserInfo_PropagatesHostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid session token"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.UserInfo(context.Background(), "bad-token")
	require.Error(t, err)

	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, http.StatusUnauthorized, hostErr.StatusCode)
}

func TestListWorkspaces_PassesOffsetAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/workspaces", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"workspaces": [
				{"id": "ws-1", "name": "dev", "owner_name": "alice",
				 "latest_build": {"status": "running", "created_at": "2026-07-01T00:00:00Z"}}
			],
			"count": 42
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	page, err := c.ListWorkspaces(context.Background(), 20, 10)
	require.NoError(t, err)
	assert.Equal(t, 42, page.Total)
	require.Len(t, page.Workspaces, 1)
	assert.Equal(t, "ws-1", page.Workspaces[0].ID)
	assert.Equal(t, "running", page.Workspaces[0].LatestBuild.Status)
}

func TestStopWorkspace_PostsStopTransition(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("transition")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.StopWorkspace(context.Background(), "ws-9")
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/workspaces/ws-9/builds", gotPath)
	assert.Equal(t, "stop", gotQuery)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestStopWorkspace_ReturnsHostErrorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"build already in progress"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.StopWorkspace(context.Background(), "ws-1")
	require.Error(t, err)

	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, http.StatusConflict, hostErr.StatusCode)
}

func TestTimeoutsAreBounded(t *testing.T) {
	assert.Equal(t, 10*time.Second, userInfoTimeout)
	assert.Equal(t, 30*time.Second, listTimeout)
	assert.Equal(t, 30*time.Second, stopTimeout)
}
