package enforcement

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/aegis/pkg/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePrompt(t *testing.T, dir, level, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, level+".md"), []byte(content), 0o644))
}

func TestPreCall_PrependsPrompt(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "design-first", "Think first.")

	h := New(dir, LevelStandard, testLogger())
	payload := pipeline.Payload{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}

	out, err := h.PreCall(context.Background(), map[string]any{"enforcement_level": "design-first"}, payload, pipeline.CallTypeCompletion)
	require.NoError(t, err)

	msgs := pipeline.Messages(out)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "Think first.", first["content"])
}

func TestPreCall_UnrestrictedPassesThrough(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, LevelStandard, testLogger())
	payload := pipeline.Payload{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}

	out, err := h.PreCall(context.Background(), map[string]any{"enforcement_level": "unrestricted"}, payload, pipeline.CallTypeCompletion)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestPreCall_MissingPromptPassesThrough(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, LevelStandard, testLogger())
	payload := pipeline.Payload{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}

	out, err := h.PreCall(context.Background(), map[string]any{"enforcement_level": "standard"}, payload, pipeline.CallTypeCompletion)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestPreCall_NonChatPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "standard", "Be careful.")
	h := New(dir, LevelStandard, testLogger())
	payload := pipeline.Payload{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}

	out, err := h.PreCall(context.Background(), nil, payload, "embedding")
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}
