// Package pipeline composes the gateway's pre-call hooks: Guardrails then
// Enforcement, applied to every chat-completion request before it reaches
// the upstream model.
//
// The source hooks communicate a block decision by raising an exception.
// The idiomatic Go rendering of that sum type — PipelineResult = Passed(payload)
// | Blocked(reason) — is a plain (Payload, error) return, where a non-nil
// error of type *PolicyBlockError IS the Blocked variant; any other error is
// an unexpected failure. Callers distinguish the two with errors.As.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the chat-completion request body. It is kept as a generic map
// rather than a fixed struct because hooks must preserve every field a
// caller sent (model, temperature, arbitrary provider-specific options)
// untouched — the roundtrip-neutrality property requires that a payload
// with no findings comes back byte-for-byte equal to what went in.
type Payload map[string]any

// Call types the pipeline applies to; every other call type passes through
// untouched, per both hooks' "non-chat call types return unchanged" rule.
const (
	CallTypeCompletion  = "completion"
	CallTypeACompletion = "acompletion"
)

// IsChatCompletion reports whether callType is one the hook pipeline applies to.
func IsChatCompletion(callType string) bool {
	return callType == CallTypeCompletion || callType == CallTypeACompletion
}

// PolicyBlockError is the Blocked variant of PipelineResult: the guardrails
// hook detected findings and the key's guardrail_action is "block". It
// renders to the caller as an HTTP 400 listing the blocked labels and
// categories, but never the raw matched content.
type PolicyBlockError struct {
	Labels     []string
	Categories []string
	Level      string
}

func (e *PolicyBlockError) Error() string {
	return fmt.Sprintf(
		"request blocked by content guardrails. Detected sensitive data: %s. Categories: %s. Remove sensitive information before sending to AI. Guardrail level: %s",
		strings.Join(e.Labels, ", "), strings.Join(e.Categories, ", "), e.Level,
	)
}

// Hook is one composable pre-call step. Implementations must be safe to
// call concurrently; any per-call mutable state belongs in the Payload, not
// the Hook.
type Hook interface {
	Name() string
	PreCall(ctx context.Context, meta map[string]any, payload Payload, callType string) (Payload, error)
}

// Pipeline runs an ordered sequence of hooks. Guardrails must be supplied
// before Enforcement: the enforcement prompt is trusted and must never be
// scanned, and a masked payload must still receive policy framing.
type Pipeline struct {
	hooks []Hook
}

// New builds a Pipeline that runs hooks in the given order.
func New(hooks ...Hook) *Pipeline {
	return &Pipeline{hooks: hooks}
}

// Run executes every hook in order, short-circuiting on the first error.
func (p *Pipeline) Run(ctx context.Context, meta map[string]any, payload Payload, callType string) (Payload, error) {
	current := payload
	for _, h := range p.hooks {
		next, err := h.PreCall(ctx, meta, current, callType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h.Name(), err)
		}
		current = next
	}
	return current, nil
}

// Clone deep-copies a payload via a JSON round trip so each hook can mutate
// its working copy without aliasing the caller's original.
func Clone(payload Payload) (Payload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	var out Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return out, nil
}

// Messages returns payload["messages"] as a slice, or nil if absent or of
// the wrong shape.
func Messages(payload Payload) []any {
	raw, ok := payload["messages"]
	if !ok {
		return nil
	}
	msgs, _ := raw.([]any)
	return msgs
}

// ExtractText concatenates every user-visible text fragment from the
// payload's messages: string content as-is, and every "type":"text" element
// of a multi-modal content array.
func ExtractText(payload Payload) string {
	var parts []string
	for _, m := range Messages(payload) {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			parts = append(parts, content)
		case []any:
			for _, item := range content {
				part, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if t, _ := part["type"].(string); t == "text" {
					if text, ok := part["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}
