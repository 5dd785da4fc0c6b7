// Package patterns implements the curated regex pattern library: a
// non-empty, always-available built-in rule table plus an optional overlay,
// scanned against request text under a severity/action/level policy.
package patterns

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Levels.
const (
	LevelOff      = "off"
	LevelStandard = "standard"
	LevelStrict   = "strict"
)

// Finding effective actions (distinct from a Rule's raw action).
const (
	ActionBlock = "block"
	ActionWarn  = "warn"
)

// Finding is one detected occurrence of a pattern within scanned text.
type Finding struct {
	PatternName    string
	Label          string
	Category       string
	Severity       string
	EffectiveAction string
	RedactedSample string
}

var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}
)

// compile returns a cached, case-insensitive compiled regex for pattern.
// Invalid patterns return (nil, false) rather than panicking, since overlay
// entries are user-supplied.
func compile(pattern string) (*regexp.Regexp, bool) {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()

	if re, ok := regexCache[pattern]; ok {
		return re, re != nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		regexCache[pattern] = nil
		return nil, false
	}
	regexCache[pattern] = re
	return re, true
}

// Library scans text against the built-in table merged with an optional
// overlay. Overlay entries with the same name as a built-in replace it.
type Library struct {
	overlay *Overlay
}

// NewLibrary builds a Library. overlay may be nil, in which case only the
// built-in table is used.
func NewLibrary(overlay *Overlay) *Library {
	return &Library{overlay: overlay}
}

// allRules merges the built-in table with the current overlay snapshot.
func (l *Library) allRules() map[string]Rule {
	if l.overlay == nil {
		return Builtin
	}
	custom := l.overlay.Rules()
	if len(custom) == 0 {
		return Builtin
	}

	merged := make(map[string]Rule, len(Builtin)+len(custom))
	for k, v := range Builtin {
		merged[k] = v
	}
	for k, v := range custom {
		merged[k] = v
	}
	return merged
}

// orderedNames returns the keys of rules in a stable order: BuiltinOrder's
// entries first (skipping any a nil overlay or merge dropped, which cannot
// happen today but keeps this safe if that ever changes), followed by any
// remaining (overlay-only) names sorted alphabetically. Both Scan and
// applyMasking rely on this instead of ranging over the map directly.
func orderedNames(rules map[string]Rule) []string {
	seen := make(map[string]bool, len(rules))
	names := make([]string, 0, len(rules))

	for _, name := range BuiltinOrder {
		if _, ok := rules[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range rules {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append(names, rest...)
}

// Rule returns the merged rule definition for name, used by the guardrails
// hook to recover the compiled regex for a blocked finding when masking.
func (l *Library) Rule(name string) (Rule, bool) {
	r, ok := l.allRules()[name]
	return r, ok
}

// Regexp returns the cached, case-insensitive compiled regex for pattern,
// reusing the same cache Scan populates.
func Regexp(pattern string) (*regexp.Regexp, bool) {
	return compile(pattern)
}

// hasFinancialContext reports whether text contains any financial context
// keyword as a case-insensitive substring.
func hasFinancialContext(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range FinancialContextKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Scan applies every rule in the merged table to text and returns one
// Finding per raw regex match, with level policy already applied. level=off
// always yields no findings.
func (l *Library) Scan(text string, level string) []Finding {
	if level == LevelOff {
		return nil
	}

	financialContext := hasFinancialContext(text)
	rules := l.allRules()

	var findings []Finding
	for _, name := range orderedNames(rules) {
		rule := rules[name]
		if rule.ContextRequired && !financialContext {
			continue
		}

		re, ok := compile(rule.Pattern)
		if !ok {
			continue
		}

		matches := re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}

		effective, ok := effectiveAction(rule.Action, rule.Severity, level)
		if !ok {
			continue
		}

		for _, m := range matches {
			findings = append(findings, Finding{
				PatternName:     name,
				Label:           rule.Label,
				Category:        rule.Category,
				Severity:        rule.Severity,
				EffectiveAction: effective,
				RedactedSample:  redact(m),
			})
		}
	}

	return findings
}

// effectiveAction implements the level policy table from §4.A: ok is false
// when the combination should be skipped entirely (never reached for
// level != off here, since every remaining combination maps to block or
// warn, but kept for clarity and future rule actions).
func effectiveAction(action, severity, level string) (string, bool) {
	if action == RuleActionBlock {
		return ActionBlock, true
	}

	// action == flag
	switch severity {
	case SeverityHigh:
		return ActionBlock, true
	case SeverityMedium, SeverityLow:
		if level == LevelStrict {
			return ActionBlock, true
		}
		return ActionWarn, true
	default:
		return ActionWarn, true
	}
}

// redact partially obscures a matched value for safe logging: matches of 6
// characters or fewer become "***"; longer matches keep their first and
// last two characters.
func redact(match string) string {
	if len(match) <= 6 {
		return "***"
	}
	return match[:2] + "***" + match[len(match)-2:]
}
