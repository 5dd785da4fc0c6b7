// Package keymeta describes the virtual-key metadata shape shared by the
// Key Provisioner, the Upstream Client, and the gateway hook pipeline.
package keymeta

import "strings"

// VirtualKey mirrors the credential record owned by the upstream model
// router. The provisioner and gateway only ever read or request it; they
// never hold authoritative state for it.
type VirtualKey struct {
	Token      string         `json:"token"`
	Alias      string         `json:"key_alias"`
	UserID     string         `json:"user_id"`
	MaxBudget  float64        `json:"max_budget"`
	RPMLimit   int            `json:"rpm_limit"`
	TPMLimit   *int           `json:"tpm_limit,omitempty"`
	Spend      float64        `json:"spend"`
	Models     []string       `json:"models,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Recognized metadata keys, per the data model's VirtualKey.metadata table.
const (
	MetaScope            = "scope"
	MetaKeyType          = "key_type"
	MetaEnforcementLevel = "enforcement_level"
	MetaGuardrailLevel   = "guardrail_level"
	MetaGuardrailAction  = "guardrail_action"
	MetaWorkspaceID      = "workspace_id"
	MetaWorkspaceOwner   = "workspace_owner"
	MetaWorkspaceName    = "workspace_name"
	MetaUsername         = "username"
	MetaPurpose          = "purpose"
	MetaCreatedBy        = "created_by"
	MetaCreatedAt        = "created_at"
)

// Key types.
const (
	KeyTypeWorkspace = "workspace"
	KeyTypeUser      = "user"
	KeyTypeCI        = "ci"
	KeyTypeAgent     = "agent"
)

// StringMeta returns metadata[key] as a string, or "" if absent or not a string.
func StringMeta(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ScopeDefaults holds the compile-time initial-quota table for a scope.
// Edits to this table apply only to keys issued after the change; existing
// keys are unaffected (per the data model's ScopeDefaults contract).
type ScopeDefaults struct {
	Budget       float64
	RPMLimit     int
	DurationDays int
}

// scopeDefaults is keyed by the scope prefix before any ":<id>" suffix,
// except for the two named agent roles which are kept as concrete entries
// distinct from the generic "agent" fallback (ported from the original
// key-provisioner's SCOPE_DEFAULTS table, which lists agent:review and
// agent:write separately from a generic agent entry).
var scopeDefaults = map[string]ScopeDefaults{
	KeyTypeWorkspace: {Budget: 10.0, RPMLimit: 60, DurationDays: 30},
	KeyTypeUser:      {Budget: 20.0, RPMLimit: 100, DurationDays: 90},
	KeyTypeCI:        {Budget: 5.0, RPMLimit: 30, DurationDays: 365},
	"agent:review":   {Budget: 15.0, RPMLimit: 40, DurationDays: 365},
	"agent:write":    {Budget: 30.0, RPMLimit: 60, DurationDays: 365},
	KeyTypeAgent:     {Budget: 10.0, RPMLimit: 30, DurationDays: 365},
}

// DefaultsFor returns the ScopeDefaults for a scope name. Agent scopes use
// the "agent:<role>" form; unrecognized roles fall back to the generic
// "agent" entry. Unknown non-agent scopes fall back to the workspace defaults.
func DefaultsFor(keyType string) ScopeDefaults {
	if strings.HasPrefix(keyType, "agent:") {
		if d, ok := scopeDefaults[keyType]; ok {
			return d
		}
		return scopeDefaults[KeyTypeAgent]
	}
	if d, ok := scopeDefaults[keyType]; ok {
		return d
	}
	return scopeDefaults[KeyTypeWorkspace]
}
