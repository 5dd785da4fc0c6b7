// Package upstream implements a thin typed client over the upstream model
// router's key-management API (the "LiteLLM" collaborator named in spec).
// No generated SDK exists for it, so this is a hand-written net/http
// client in the style of the teacher's other external HTTP collaborators.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Timeouts per operation, per the resource model's call budgets.
const (
	keyOpTimeout     = 15 * time.Second
	listTimeout      = 15 * time.Second
	userInfoTimeout  = 10 * time.Second
	pingTimeout      = 5 * time.Second
)

// ErrKeyNotFound is returned by FindKey when no active key exists for the alias.
var ErrKeyNotFound = fmt.Errorf("upstream: key not found")

// UpstreamError wraps a non-2xx response from the upstream router, carrying
// its raw message. The provisioner's HTTP handlers log it and respond with
// a generic "failed to ..." message; the upstream body is not included in
// the response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// GenerateKeyRequest is the payload for Client.GenerateKey.
type GenerateKeyRequest struct {
	Alias     string         `json:"key_alias"`
	UserID    string         `json:"user_id"`
	MaxBudget float64        `json:"max_budget"`
	RPMLimit  int            `json:"rpm_limit"`
	TPMLimit  *int           `json:"tpm_limit"`
	Metadata  map[string]any `json:"metadata"`
	Models    []string       `json:"models,omitempty"`
}

// Client is the set of operations the provisioner and gateway need against
// the upstream model router. Key-management requests carry the process-wide
// master credential; GetKeyInfo uses the caller's bearer instead and Ping
// sends no credential. An empty master credential is logged as a warning at
// startup, never a fatal error.
type Client interface {
	// FindKey looks up a key by alias. Returns ErrKeyNotFound if no active
	// record exists — callers must treat a null/empty token as "not found"
	// and not rely on HTTP status alone, since upstream shapes vary by version.
	FindKey(ctx context.Context, alias string) (string, error)
	// GenerateKey creates a new virtual key. On upstream rejection the
	// returned error is an *UpstreamError carrying the upstream message.
	GenerateKey(ctx context.Context, req GenerateKeyRequest) (string, error)
	// ResetUserSpend zeroes a user's accumulated spend.
	ResetUserSpend(ctx context.Context, userID string) error
	// ListKeys returns the upstream key list document as-is.
	ListKeys(ctx context.Context) (json.RawMessage, error)
	// GetKeyInfo authenticates by bearer (the virtual key itself, not the
	// master credential) and returns the upstream key-info document as-is.
	GetKeyInfo(ctx context.Context, bearer string) (json.RawMessage, error)
	// Ping verifies upstream connectivity for health/readiness checks.
	Ping(ctx context.Context) error
}

// httpClient is the default Client implementation.
type httpClient struct {
	baseURL   string
	masterKey string
	http      *http.Client
}

// New builds a Client against baseURL, authenticating with masterKey.
func New(baseURL, masterKey string) Client {
	return &httpClient{
		baseURL:   baseURL,
		masterKey: masterKey,
		http:      &http.Client{},
	}
}

func (c *httpClient) do(ctx context.Context, timeout time.Duration, method, path string, body any, headers map[string]string) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("calling upstream: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("reading upstream response: %w", err)
	}

	return resp, respBody, nil
}

func (c *httpClient) masterHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.masterKey}
}

func (c *httpClient) FindKey(ctx context.Context, alias string) (string, error) {
	resp, body, err := c.do(ctx, keyOpTimeout, http.MethodPost, "/key/info",
		map[string]string{"key_alias": alias}, c.masterHeaders())
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", ErrKeyNotFound
	}

	var doc struct {
		Info    *keyInfo `json:"info"`
		KeyInfo *keyInfo `json:"key_info"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", ErrKeyNotFound
	}

	info := doc.Info
	if info == nil {
		info = doc.KeyInfo
	}
	if info == nil || info.Token == "" {
		return "", ErrKeyNotFound
	}
	return info.Token, nil
}

type keyInfo struct {
	Token string `json:"token"`
}

func (c *httpClient) GenerateKey(ctx context.Context, req GenerateKeyRequest) (string, error) {
	resp, body, err := c.do(ctx, keyOpTimeout, http.MethodPost, "/key/generate", req, c.masterHeaders())
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var doc struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decoding generate-key response: %w", err)
	}
	return doc.Key, nil
}

func (c *httpClient) ResetUserSpend(ctx context.Context, userID string) error {
	resp, body, err := c.do(ctx, keyOpTimeout, http.MethodPost, "/user/update",
		map[string]any{"user_id": userID, "spend": 0}, c.masterHeaders())
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *httpClient) ListKeys(ctx context.Context) (json.RawMessage, error) {
	resp, body, err := c.do(ctx, listTimeout, http.MethodGet, "/key/list", nil, c.masterHeaders())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

func (c *httpClient) GetKeyInfo(ctx context.Context, bearer string) (json.RawMessage, error) {
	resp, body, err := c.do(ctx, userInfoTimeout, http.MethodGet, "/user/info", nil,
		map[string]string{"Authorization": "Bearer " + bearer})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

func (c *httpClient) Ping(ctx context.Context) error {
	resp, body, err := c.do(ctx, pingTimeout, http.MethodGet, "/health/readiness", nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
