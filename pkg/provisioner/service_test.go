package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/aegis/pkg/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUpstream struct {
	mu           sync.Mutex
	existing     map[string]string
	generated    int32
	generateFunc func(req upstream.GenerateKeyRequest) (string, error)
}

func (f *fakeUpstream) FindKey(ctx context.Context, alias string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok, ok := f.existing[alias]; ok {
		return tok, nil
	}
	return "", upstream.ErrKeyNotFound
}

func (f *fakeUpstream) GenerateKey(ctx context.Context, req upstream.GenerateKeyRequest) (string, error) {
	atomic.AddInt32(&f.generated, 1)
	tok := "sk-generated-" + req.Alias
	if f.generateFunc != nil {
		var err error
		if tok, err = f.generateFunc(req); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	f.existing[req.Alias] = tok
	f.mu.Unlock()
	return tok, nil
}

func (f *fakeUpstream) ResetUserSpend(ctx context.Context, userID string) error { return nil }
func (f *fakeUpstream) ListKeys(ctx context.Context) (json.RawMessage, error)  { return nil, nil }
func (f *fakeUpstream) GetKeyInfo(ctx context.Context, bearer string) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeUpstream) Ping(ctx context.Context) error { return nil }

func TestIssueWorkspaceKey_GeneratesWhenAbsent(t *testing.T) {
	up := &fakeUpstream{existing: map[string]string{}}
	svc := NewService(up, testLogger())

	result, err := svc.IssueWorkspaceKey(context.Background(), "ws-1", "alice", "my-workspace")
	require.NoError(t, err)
	assert.False(t, result.Reused)
	assert.Equal(t, "sk-generated-workspace-ws-1", result.Key)
}

func TestIssueWorkspaceKey_ReusesExisting(t *testing.T) {
	up := &fakeUpstream{existing: map[string]string{"workspace-ws-1": "sk-existing"}}
	svc := NewService(up, testLogger())

	result, err := svc.IssueWorkspaceKey(context.Background(), "ws-1", "alice", "my-workspace")
	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, "sk-existing", result.Key)
	assert.EqualValues(t, 0, up.generated)
}

func TestIssue_CollapsesConcurrentCallers(t *testing.T) {
	up := &fakeUpstream{existing: map[string]string{}}
	svc := NewService(up, testLogger())

	var wg sync.WaitGroup
	results := make([]*IssueResult, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.IssueWorkspaceKey(context.Background(), "ws-shared", "bob", "shared")
			require.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(up.generated), 1)
	for _, r := range results {
		assert.Equal(t, "sk-generated-workspace-ws-shared", r.Key)
	}
}

func TestIssueSelfServiceKey_DefaultsPurpose(t *testing.T) {
	var captured upstream.GenerateKeyRequest
	up := &fakeUpstream{
		existing: map[string]string{},
		generateFunc: func(req upstream.GenerateKeyRequest) (string, error) {
			captured = req
			return "sk-personal", nil
		},
	}
	svc := NewService(up, testLogger())

	result, err := svc.IssueSelfServiceKey(context.Background(), "carol", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-personal", result.Key)
	assert.Equal(t, "personal experimentation", captured.Metadata["purpose"])
}

func TestIssue_PropagatesGenerateError(t *testing.T) {
	up := &fakeUpstream{
		existing: map[string]string{},
		generateFunc: func(req upstream.GenerateKeyRequest) (string, error) {
			return "", &upstream.UpstreamError{StatusCode: 502, Body: "boom"}
		},
	}
	svc := NewService(up, testLogger())

	_, err := svc.IssueWorkspaceKey(context.Background(), "ws-err", "dave", "")
	require.Error(t, err)
	var upErr *upstream.UpstreamError
	assert.True(t, errors.As(err, &upErr))
}
