package patterns

// Categories.
const (
	CategoryPII       = "pii"
	CategoryFinancial = "financial"
	CategorySecret    = "secret"
)

// Severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Raw pattern actions, as authored in a Rule (distinct from a Finding's
// effective action, which is block or warn after level policy is applied).
const (
	RuleActionBlock = "block"
	RuleActionFlag  = "flag"
)

// Rule is one entry in the pattern table, static (built-in) or loaded from
// the overlay file.
type Rule struct {
	Pattern         string `json:"pattern"`
	Label           string `json:"label"`
	Category        string `json:"category"`
	Severity        string `json:"severity"`
	Action          string `json:"action"`
	ContextRequired bool   `json:"context_required"`
}

// Builtin is the always-available pattern table; it cannot be disabled and
// is never empty. Ported 1:1 from the original hook's BUILTIN_PATTERNS.
var Builtin = map[string]Rule{
	// --- PII ---
	"us_ssn": {
		Pattern:  `\b\d{3}-\d{2}-\d{4}\b`,
		Label:    "US Social Security Number",
		Category: CategoryPII,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"email_address": {
		Pattern:  `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		Label:    "Email address",
		Category: CategoryPII,
		Severity: SeverityMedium,
		Action:   RuleActionFlag,
	},
	"phone_us": {
		Pattern:  `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
		Label:    "US phone number",
		Category: CategoryPII,
		Severity: SeverityMedium,
		Action:   RuleActionFlag,
	},
	"passport_us": {
		Pattern:  `\b[A-Z]\d{8}\b`,
		Label:    "US passport number",
		Category: CategoryPII,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},

	// --- Financial ---
	"credit_card_visa": {
		Pattern:  `\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`,
		Label:    "Visa credit card number",
		Category: CategoryFinancial,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"credit_card_mastercard": {
		Pattern:  `\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`,
		Label:    "Mastercard credit card number",
		Category: CategoryFinancial,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"credit_card_amex": {
		Pattern:  `\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`,
		Label:    "Amex credit card number",
		Category: CategoryFinancial,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"iban": {
		Pattern:  `\b[A-Z]{2}\d{2}[A-Z0-9]{4}\d{7}([A-Z0-9]?){0,16}\b`,
		Label:    "IBAN",
		Category: CategoryFinancial,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"bank_routing_aba": {
		Pattern:         `\b[0-9]{9}\b`,
		Label:           "Bank routing number (ABA)",
		Category:        CategoryFinancial,
		Severity:        SeverityMedium,
		Action:          RuleActionFlag,
		ContextRequired: true,
	},
	"swift_bic": {
		Pattern:         `\b[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?\b`,
		Label:           "SWIFT/BIC code",
		Category:        CategoryFinancial,
		Severity:        SeverityMedium,
		Action:          RuleActionFlag,
		ContextRequired: true,
	},

	// --- Secrets & credentials ---
	"aws_access_key": {
		Pattern:  `\bAKIA[0-9A-Z]{16}\b`,
		Label:    "AWS access key",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"aws_secret_key": {
		Pattern:         `\b[A-Za-z0-9/+=]{40}\b`,
		Label:           "AWS secret key (candidate)",
		Category:        CategorySecret,
		Severity:        SeverityMedium,
		Action:          RuleActionFlag,
		ContextRequired: true,
	},
	"github_token": {
		Pattern:  `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9_]{36,}\b`,
		Label:    "GitHub token",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"generic_api_key": {
		Pattern:  `\b(?:sk|pk|api|token|secret|key)[-_][A-Za-z0-9]{20,}\b`,
		Label:    "Generic API key/token",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"private_key_pem": {
		Pattern:  `-----BEGIN\s+(?:RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`,
		Label:    "Private key (PEM)",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"jwt_token": {
		Pattern:  `\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`,
		Label:    "JWT token",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"slack_token": {
		Pattern:  `\bxox[bporas]-[A-Za-z0-9-]{10,}\b`,
		Label:    "Slack token",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
	"connection_string": {
		Pattern:  `\b(?:postgres|mysql|mongodb|redis)://\S+:\S+@\S+`,
		Label:    "Database connection string with credentials",
		Category: CategorySecret,
		Severity: SeverityHigh,
		Action:   RuleActionBlock,
	},
}

// BuiltinOrder lists Builtin's keys in authoring order. Scan and masking
// walk rules in this order (built-ins then overlay, sorted) rather than Go's
// randomized map iteration, so that overlapping findings are masked in a
// stable, reproducible order matching the original hook's dict-ordered
// BUILTIN_PATTERNS.
var BuiltinOrder = []string{
	"us_ssn",
	"email_address",
	"phone_us",
	"passport_us",
	"credit_card_visa",
	"credit_card_mastercard",
	"credit_card_amex",
	"iban",
	"bank_routing_aba",
	"swift_bic",
	"aws_access_key",
	"aws_secret_key",
	"github_token",
	"generic_api_key",
	"private_key_pem",
	"jwt_token",
	"slack_token",
	"connection_string",
}

// FinancialContextKeywords gates context_required patterns: they fire only
// when the scanned text also contains one of these tokens (case-insensitive
// substring match).
var FinancialContextKeywords = []string{
	"routing", "aba", "swift", "bic", "wire", "transfer",
	"bank", "account", "iban", "sort code", "payment",
}
