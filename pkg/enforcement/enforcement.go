// Package enforcement implements the Enforcement pre-call hook: it prepends
// a policy system message chosen by the key's enforcement_level metadata.
package enforcement

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wisbric/aegis/internal/filecache"
	"github.com/wisbric/aegis/internal/telemetry"
	"github.com/wisbric/aegis/pkg/keymeta"
	"github.com/wisbric/aegis/pkg/pipeline"
)

// Levels.
const (
	LevelUnrestricted = "unrestricted"
	LevelStandard     = "standard"
	LevelDesignFirst  = "design-first"
)

var validLevels = map[string]bool{
	LevelUnrestricted: true,
	LevelStandard:     true,
	LevelDesignFirst:  true,
}

// Hook implements pipeline.Hook. It never blocks a request: on any
// prompt-load failure the payload passes through unchanged. A missing prompt
// file is warned about once per level; other read errors are logged on
// every call.
type Hook struct {
	promptsDir   string
	defaultLevel string
	logger       *slog.Logger

	cachesMu sync.Mutex
	caches   map[string]*filecache.Cache[string]
	warned   map[string]bool
}

// New builds an Enforcement Hook reading prompt files from promptsDir.
func New(promptsDir, defaultLevel string, logger *slog.Logger) *Hook {
	return &Hook{
		promptsDir:   promptsDir,
		defaultLevel: defaultLevel,
		logger:       logger,
		caches:       make(map[string]*filecache.Cache[string]),
		warned:       make(map[string]bool),
	}
}

// Name implements pipeline.Hook.
func (h *Hook) Name() string { return "enforcement" }

// PreCall implements pipeline.Hook.
func (h *Hook) PreCall(ctx context.Context, meta map[string]any, payload pipeline.Payload, callType string) (pipeline.Payload, error) {
	if !pipeline.IsChatCompletion(callType) {
		return payload, nil
	}

	level := keymeta.StringMeta(meta, keymeta.MetaEnforcementLevel)
	if level == "" {
		level = h.defaultLevel
	}
	if !validLevels[level] {
		h.logger.Warn("invalid enforcement_level, using default", "level", level, "default", h.defaultLevel)
		level = h.defaultLevel
	}

	if level == LevelUnrestricted {
		return payload, nil
	}

	prompt := h.loadPrompt(level)
	if prompt == "" {
		return payload, nil
	}

	messages := pipeline.Messages(payload)
	system := map[string]any{"role": "system", "content": prompt}
	payload["messages"] = append([]any{system}, messages...)

	telemetry.EnforcementInjectionsTotal.WithLabelValues(level).Inc()
	return payload, nil
}

func (h *Hook) cacheFor(level string) *filecache.Cache[string] {
	h.cachesMu.Lock()
	defer h.cachesMu.Unlock()
	c, ok := h.caches[level]
	if !ok {
		c = &filecache.Cache[string]{}
		h.caches[level] = c
	}
	return c
}

func (h *Hook) loadPrompt(level string) string {
	path := filepath.Join(h.promptsDir, level+".md")
	cache := h.cacheFor(level)

	return cache.Get(
		path,
		func(p string) (string, error) {
			raw, err := os.ReadFile(p)
			if err != nil {
				return "", err
			}
			text := strings.TrimSpace(string(raw))
			h.logger.Info("loaded enforcement prompt", "level", level, "length", len(text))
			return text, nil
		},
		func() string {
			h.warnOnce(level, path)
			return ""
		},
		func(err error) string {
			h.logger.Error("failed to read enforcement prompt", "level", level, "path", path, "error", err)
			return ""
		},
	)
}

func (h *Hook) warnOnce(level, path string) {
	h.cachesMu.Lock()
	defer h.cachesMu.Unlock()
	if h.warned[level] {
		return
	}
	h.warned[level] = true
	h.logger.Warn("enforcement prompt file not found", "level", level, "path", path)
}
