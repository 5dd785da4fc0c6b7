// Package guardrails implements the Guardrails pre-call hook: scans chat
// messages for PII, financial data, and secrets, then blocks or masks the
// request per the key's guardrail_level and guardrail_action metadata.
package guardrails

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wisbric/aegis/internal/telemetry"
	"github.com/wisbric/aegis/pkg/keymeta"
	"github.com/wisbric/aegis/pkg/patterns"
	"github.com/wisbric/aegis/pkg/pipeline"
)

var validLevels = map[string]bool{
	patterns.LevelOff:      true,
	patterns.LevelStandard: true,
	patterns.LevelStrict:   true,
}

const (
	actionBlock = "block"
	actionMask  = "mask"
)

var validActions = map[string]bool{
	actionBlock: true,
	actionMask:  true,
}

// Hook implements pipeline.Hook.
type Hook struct {
	library        *patterns.Library
	logger         *slog.Logger
	enabled        bool
	defaultLevel   string
	defaultAction  string
}

// Config configures a Hook.
type Config struct {
	Enabled       bool
	DefaultLevel  string
	DefaultAction string
}

// New builds a guardrails Hook backed by library.
func New(library *patterns.Library, logger *slog.Logger, cfg Config) *Hook {
	return &Hook{
		library:       library,
		logger:        logger,
		enabled:       cfg.Enabled,
		defaultLevel:  cfg.DefaultLevel,
		defaultAction: cfg.DefaultAction,
	}
}

// Name implements pipeline.Hook.
func (h *Hook) Name() string { return "guardrails" }

// PreCall implements pipeline.Hook.
func (h *Hook) PreCall(ctx context.Context, meta map[string]any, payload pipeline.Payload, callType string) (pipeline.Payload, error) {
	if !pipeline.IsChatCompletion(callType) {
		return payload, nil
	}
	if !h.enabled {
		return payload, nil
	}

	level := keymeta.StringMeta(meta, keymeta.MetaGuardrailLevel)
	if level == "" {
		level = h.defaultLevel
	}
	if !validLevels[level] {
		h.logger.Warn("invalid guardrail_level, using default", "level", level, "default", h.defaultLevel)
		level = h.defaultLevel
	}

	action := keymeta.StringMeta(meta, keymeta.MetaGuardrailAction)
	if action == "" {
		action = h.defaultAction
	}
	if !validActions[action] {
		h.logger.Warn("invalid guardrail_action, using default", "action", action, "default", h.defaultAction)
		action = h.defaultAction
	}

	if level == patterns.LevelOff {
		return payload, nil
	}

	text := pipeline.ExtractText(payload)
	if strings.TrimSpace(text) == "" {
		return payload, nil
	}

	start := time.Now()
	findings := h.library.Scan(text, level)
	telemetry.GuardrailScanDuration.Observe(time.Since(start).Seconds())

	if len(findings) == 0 {
		return payload, nil
	}

	var blocks, warnings []patterns.Finding
	for _, f := range findings {
		telemetry.GuardrailFindingsTotal.WithLabelValues(f.Category, f.Severity, f.EffectiveAction).Inc()
		if f.EffectiveAction == patterns.ActionBlock {
			blocks = append(blocks, f)
		} else {
			warnings = append(warnings, f)
		}
	}

	for _, w := range warnings {
		h.logger.Warn("guardrail warning",
			"label", w.Label, "category", w.Category, "severity", w.Severity, "sample", w.RedactedSample)
	}

	if len(blocks) == 0 {
		return payload, nil
	}

	labels := uniqueSorted(blocks, func(f patterns.Finding) string { return f.Label })
	categories := uniqueSorted(blocks, func(f patterns.Finding) string { return f.Category })

	if action == actionMask {
		masked := h.applyMasking(payload, blocks)
		h.logger.Warn("guardrail masked occurrences", "count", masked, "labels", strings.Join(labels, ", "))
		return payload, nil
	}

	telemetry.GuardrailBlockedTotal.WithLabelValues(level).Inc()
	h.logger.Warn("guardrail blocked request", "count", len(blocks), "labels", strings.Join(labels, ", "))
	return nil, &pipeline.PolicyBlockError{Labels: labels, Categories: categories, Level: level}
}

// applyMasking replaces every occurrence of each unique blocked pattern with
// [REDACTED:<label>] across all message content, mutating payload in
// place (the pipeline does not copy it; the same map is passed on to later
// hooks). Patterns are applied in insertion order of their first appearance
// among blocks, i.e. built-ins before overlay since the built-in table is
// merged first.
func (h *Hook) applyMasking(payload pipeline.Payload, blocks []patterns.Finding) int {
	type maskRule struct {
		name  string
		label string
	}

	seen := make(map[string]bool)
	var rules []maskRule
	for _, f := range blocks {
		if seen[f.PatternName] {
			continue
		}
		seen[f.PatternName] = true
		rules = append(rules, maskRule{name: f.PatternName, label: f.Label})
	}

	total := 0
	for _, m := range pipeline.Messages(payload) {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}

		switch content := msg["content"].(type) {
		case string:
			masked := content
			for _, rule := range rules {
				rl, ok := h.library.Rule(rule.name)
				if !ok {
					continue
				}
				re, ok := patterns.Regexp(rl.Pattern)
				if !ok {
					continue
				}
				before := masked
				masked = re.ReplaceAllString(masked, "[REDACTED:"+rule.label+"]")
				total += countReplacements(before, masked, rule.label)
			}
			msg["content"] = masked

		case []any:
			for _, item := range content {
				part, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if t, _ := part["type"].(string); t != "text" {
					continue
				}
				text, _ := part["text"].(string)
				for _, rule := range rules {
					rl, ok := h.library.Rule(rule.name)
					if !ok {
						continue
					}
					re, ok := patterns.Regexp(rl.Pattern)
					if !ok {
						continue
					}
					before := text
					text = re.ReplaceAllString(text, "[REDACTED:"+rule.label+"]")
					total += countReplacements(before, text, rule.label)
				}
				part["text"] = text
			}
		}
	}

	return total
}

// countReplacements approximates the number of substitutions made by
// comparing the count of the redaction tag before and after; used only for
// the log line's occurrence count.
func countReplacements(before, after, label string) int {
	tag := "[REDACTED:" + label + "]"
	return strings.Count(after, tag) - strings.Count(before, tag)
}

func uniqueSorted(findings []patterns.Finding, key func(patterns.Finding) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range findings {
		k := key(f)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
