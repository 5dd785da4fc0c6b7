package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/aegis/pkg/workspacehost"
)

type fakeHost struct {
	userInfoErr error
}

func (f *fakeHost) UserInfo(ctx context.Context, sessionToken string) (*workspacehost.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	return &workspacehost.UserInfo{Username: "Alice"}, nil
}
func (f *fakeHost) ListWorkspaces(ctx context.Context, offset, limit int) (*workspacehost.WorkspacePage, error) {
	return nil, nil
}
func (f *fakeHost) StopWorkspace(ctx context.Context, id string) error { return nil }

func newTestHandler(t *testing.T) (*Handler, chi.Router, *fakeUpstream, *fakeHost) {
	t.Helper()
	up := &fakeUpstream{existing: map[string]string{}}
	host := &fakeHost{}
	svc := NewService(up, testLogger())
	h := NewHandler(testLogger(), svc, up, host, "shared-secret", nil)

	r := chi.NewRouter()
	h.Mount(r)
	return h, r, up, host
}

func TestHandleWorkspaceKey_MissingSecret(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/workspace", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleWorkspaceKey_MissingFields(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/workspace", strings.NewReader(`{}`))
	r.Header.Set("Authorization", "Bearer shared-secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestHandleWorkspaceKey_Success(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	body := `{"workspace_id":"ws-1","username":"alice"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/workspace", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer shared-secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["reused"] != false {
		t.Errorf("reused = %v, want false", resp["reused"])
	}
}

func TestHandleSelfServiceKey_UsesSessionUsername(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/self-service", strings.NewReader(`{}`))
	r.Header.Set("Authorization", "Bearer any-session-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["key"] != "sk-generated-user-alice" {
		t.Errorf("key = %v, want %q", resp["key"], "sk-generated-user-alice")
	}
}

func TestHandleSelfServiceKey_HostRejectsToken(t *testing.T) {
	_, router, _, host := newTestHandler(t)
	host.userInfoErr = &workspacehost.HostError{StatusCode: http.StatusUnauthorized, Body: "bad session"}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/self-service", strings.NewReader(`{}`))
	r.Header.Set("Authorization", "Bearer stale-session-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestHandleSelfServiceKey_HostUnreachable(t *testing.T) {
	_, router, _, host := newTestHandler(t)
	host.userInfoErr = errors.New("dial tcp: connection refused")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/self-service", strings.NewReader(`{}`))
	r.Header.Set("Authorization", "Bearer any-session-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusBadGateway, w.Body.String())
	}
}

func TestHandleResetUser_RequiresUserID(t *testing.T) {
	_, router, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/keys/reset-user", strings.NewReader(`{}`))
	r.Header.Set("Authorization", "Bearer shared-secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}
