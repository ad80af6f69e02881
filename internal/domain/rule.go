package domain

// RuleConfig defines a custom CEL detection rule. Custom rules run as an
// overlay on top of the built-in detectors: each matching record produces an
// extra indicator, grouped into one pattern per rule. Core detector output is
// never affected.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Target selects the record kind the expression evaluates against:
	// "contract", "invoice" or "transaction".
	Target string `json:"target"`

	// CEL expression; must return bool (match), or int/double treated as
	// a match when > 0.
	Expression string `json:"expression"`

	// FraudType assigned to the emitted pattern. Must be a known type.
	FraudType FraudType `json:"fraudType"`

	// Confidence assigned to each emitted indicator (0..1].
	Confidence float64 `json:"confidence"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// Valid rule targets.
const (
	RuleTargetContract    = "contract"
	RuleTargetInvoice     = "invoice"
	RuleTargetTransaction = "transaction"
)
