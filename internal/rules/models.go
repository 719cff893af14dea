package rules

import "github.com/rakunlabs/ingestcore/internal/model"

// Context carries everything a rule function needs to evaluate one claim:
// the canonical record itself, supporting reference datasets keyed by name
// (NCCI edits, LCD coverage, fee schedules, exclusion lists, ...), and the
// raw job config the rule may consult for payer-specific overrides.
type Context struct {
	Claim    model.CanonicalRecord
	Datasets map[string]any
	Config   map[string]any
}

// RuleFunc evaluates a Context and returns zero or more hits. A rule that
// does not fire returns a nil slice and a nil error.
type RuleFunc func(ctx Context) ([]model.RuleFinding, error)

// Rule pairs a stable identifier with the function that evaluates it. A
// rule's hits may carry a "category" metadata key (ncci/coverage/provider)
// that the engine uses to bucket flags in the resulting Outcome.
type Rule struct {
	ID string
	Fn RuleFunc
}

// Override adjusts a hit produced by one rule ID for this evaluation run
// only, without mutating the registry: disable it outright, replace its
// weight, or force a different severity.
type Override struct {
	Enabled  *bool
	Weight   *float64
	Severity *model.Severity
}

// Outcome is the aggregate result of evaluating every active rule against
// one claim: every finding that fired, the clamped composite score, the
// decision the score maps to, and findings bucketed by category for
// downstream flag rendering.
type Outcome struct {
	Findings      []model.RuleFinding
	Score         float64
	Confidence    float64
	Decision      model.DecisionMode
	NCCIFlags     []string
	CoverageFlags []string
	ProviderFlags []string
	ROIEstimate   float64
}
