package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/aegis/pkg/enforcement"
	"github.com/wisbric/aegis/pkg/guardrails"
	"github.com/wisbric/aegis/pkg/patterns"
	"github.com/wisbric/aegis/pkg/pipeline"
	"github.com/wisbric/aegis/pkg/upstream"
	"github.com/wisbric/aegis/pkg/usage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUpstream struct {
	keyInfo json.RawMessage
}

func (f *fakeUpstream) FindKey(ctx context.Context, alias string) (string, error) { return "", nil }
func (f *fakeUpstream) GenerateKey(ctx context.Context, req upstream.GenerateKeyRequest) (string, error) {
	return "", nil
}
func (f *fakeUpstream) ResetUserSpend(ctx context.Context, userID string) error { return nil }
func (f *fakeUpstream) ListKeys(ctx context.Context) (json.RawMessage, error)   { return nil, nil }
func (f *fakeUpstream) GetKeyInfo(ctx context.Context, bearer string) (json.RawMessage, error) {
	return f.keyInfo, nil
}
func (f *fakeUpstream) Ping(ctx context.Context) error { return nil }

func newTestHandler(t *testing.T, keyInfo string, upstreamURL string) (*Handler, chi.Router) {
	t.Helper()
	lib := patterns.NewLibrary(nil)
	gr := guardrails.New(lib, testLogger(), guardrails.Config{
		Enabled:       true,
		DefaultLevel:  patterns.LevelStandard,
		DefaultAction: "block",
	})
	ef := enforcement.New(t.TempDir(), enforcement.LevelUnrestricted, testLogger())
	pl := pipeline.New(gr, ef)

	up := &fakeUpstream{keyInfo: json.RawMessage(keyInfo)}
	rec := usage.NewRecorder(nil, testLogger())

	h := NewHandler(testLogger(), pl, up, rec, upstreamURL)
	r := chi.NewRouter()
	h.Mount(r)
	return h, r
}

func TestHandleChatCompletion_MissingBearer(t *testing.T) {
	_, router := newTestHandler(t, `{}`, "http://unused")

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleChatCompletion_BlocksSensitiveData(t *testing.T) {
	_, router := newTestHandler(t, `{"metadata":{"guardrail_level":"standard"}}`, "http://unused")

	body := `{"messages":[{"role":"user","content":"my card is 4111-1111-1111-1111"}]}`
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer sk-test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "policy_block")
}

func TestHandleChatCompletion_ForwardsAllowedRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"model":"claude","usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer upstream.Close()

	_, router := newTestHandler(t, `{"metadata":{"guardrail_level":"standard"}}`, upstream.URL)

	body := `{"messages":[{"role":"user","content":"hello there"}]}`
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer sk-test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "claude")
}
