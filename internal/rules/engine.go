package rules

import (
	"log/slog"

	"github.com/rakunlabs/ingestcore/internal/model"
)

// EvaluateBaseline runs every active rule in registry against claim,
// applying config["rule_overrides"] (keyed by rule_id) to disable a rule or
// replace the weight/severity of the hits it produces, then aggregates the
// surviving findings into a clamped score and threshold-driven decision.
//
// config["base_score"] seeds the aggregate (default 0.5); thresholds
// defaults to DefaultThresholds when nil.
func EvaluateBaseline(registry *Registry, claim model.CanonicalRecord, datasets map[string]any, config map[string]any, thresholds *ThresholdConfig) (Outcome, error) {
	if config == nil {
		config = map[string]any{}
	}
	th := DefaultThresholds()
	if thresholds != nil {
		th = *thresholds
	}

	rc := Context{Claim: claim, Datasets: datasets, Config: config}
	overrides, _ := config["rule_overrides"].(map[string]Override)

	var findings []model.RuleFinding
	var roiEstimate float64
	var hasROI bool
	ncciFlags := orderedSet{}
	coverageFlags := orderedSet{}
	providerFlags := orderedSet{}
	scoreDelta := 0.0

	for _, rule := range registry.ActiveRules() {
		hits, err := rule.Fn(rc)
		if err != nil {
			slog.Warn("rules: rule failed, treating as zero findings", "rule_id", rule.ID, "error", err)
			continue
		}
		for _, hit := range hits {
			adjusted := hit
			if override, ok := overrides[hit.RuleID]; ok {
				if override.Enabled != nil && !*override.Enabled {
					continue
				}
				if override.Weight != nil {
					adjusted.Weight = *override.Weight
				}
				if override.Severity != nil {
					adjusted.Severity = *override.Severity
				}
			}

			findings = append(findings, adjusted)
			scoreDelta += adjusted.Weight

			if roi, ok := adjusted.Metadata["estimated_roi"]; ok {
				roiEstimate += asFloat(roi)
				hasROI = true
			}

			switch adjusted.Metadata["category"] {
			case "ncci":
				ncciFlags.add(adjusted.Flag)
			case "coverage":
				coverageFlags.add(adjusted.Flag)
			case "provider":
				providerFlags.add(adjusted.Flag)
			}
		}
	}

	baseScore := 0.5
	if v, ok := config["base_score"].(float64); ok {
		baseScore = v
	}
	score := ClampScore(baseScore + scoreDelta)

	outcome := Outcome{
		Findings:      findings,
		Score:         score,
		Confidence:    score,
		Decision:      th.DecisionMode(score),
		NCCIFlags:     ncciFlags.values,
		CoverageFlags: coverageFlags.values,
		ProviderFlags: providerFlags.values,
	}
	if hasROI {
		outcome.ROIEstimate = roiEstimate
	}
	return outcome, nil
}

// orderedSet collects unique strings in first-seen order, mirroring
// Python's dict.fromkeys dedup idiom.
type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}
