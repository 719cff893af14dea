package rules

import (
	"errors"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/model"
)

func claimWithItems(items ...map[string]any) model.CanonicalRecord {
	return model.CanonicalRecord{
		"items":    items,
		"member":   map[string]any{},
		"provider": map[string]any{},
	}
}

func TestHighDollarRuleTiers(t *testing.T) {
	claim := claimWithItems(map[string]any{"line_charge": 30000.0})
	hits, err := highDollarRule(Context{Claim: claim, Config: map[string]any{}})
	if err != nil {
		t.Fatalf("highDollarRule: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both tiers to fire, got %d hits", len(hits))
	}
}

func TestHighDollarRuleBelowThreshold(t *testing.T) {
	claim := claimWithItems(map[string]any{"line_charge": 500.0})
	hits, err := highDollarRule(Context{Claim: claim, Config: map[string]any{}})
	if err != nil {
		t.Fatalf("highDollarRule: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits below threshold, got %d", len(hits))
	}
}

func TestOIGExclusionRule(t *testing.T) {
	claim := model.CanonicalRecord{
		"items":    []map[string]any{},
		"provider": map[string]any{"npi": "1234567893"},
	}
	datasets := map[string]any{"oig_exclusions": []string{"1234567893"}}

	hits, err := oigExclusionRule(Context{Claim: claim, Datasets: datasets})
	if err != nil {
		t.Fatalf("oigExclusionRule: %v", err)
	}
	if len(hits) != 1 || hits[0].RuleID != "OIG_EXCLUSION" {
		t.Fatalf("expected OIG_EXCLUSION hit, got %+v", hits)
	}
	if hits[0].Severity != model.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", hits[0].Severity)
	}
}

func TestOIGExclusionRuleClean(t *testing.T) {
	claim := model.CanonicalRecord{
		"items":    []map[string]any{},
		"provider": map[string]any{"npi": "9999999999"},
	}
	datasets := map[string]any{"oig_exclusions": []string{"1234567893"}}

	hits, err := oigExclusionRule(Context{Claim: claim, Datasets: datasets})
	if err != nil {
		t.Fatalf("oigExclusionRule: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for clean NPI, got %d", len(hits))
	}
}

func TestDuplicateLineRule(t *testing.T) {
	claim := claimWithItems(
		map[string]any{"procedure_source_value": "99213", "modifier_source_value": ""},
		map[string]any{"procedure_source_value": "99213", "modifier_source_value": ""},
		map[string]any{"procedure_source_value": "71020", "modifier_source_value": ""},
	)
	hits, err := duplicateLineRule(Context{Claim: claim})
	if err != nil {
		t.Fatalf("duplicateLineRule: %v", err)
	}
	if len(hits) != 1 || hits[0].Metadata["count"] != 2 {
		t.Fatalf("expected a single duplicate hit with count 2, got %+v", hits)
	}
}

func TestMiscCodeRule(t *testing.T) {
	claim := claimWithItems(
		map[string]any{"procedure_source_value": "99499"},
		map[string]any{"procedure_source_value": "71020"},
	)
	hits, err := miscCodeRule(Context{Claim: claim})
	if err != nil {
		t.Fatalf("miscCodeRule: %v", err)
	}
	if len(hits) != 1 || hits[0].Flag != "misc_code" {
		t.Fatalf("expected one misc_code hit, got %+v", hits)
	}
}

func TestEvaluateBaselineDecisionModes(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Rule{ID: "NOOP", Fn: func(Context) ([]model.RuleFinding, error) { return nil, nil }})

	claim := claimWithItems()
	outcome, err := EvaluateBaseline(registry, claim, nil, nil, nil)
	if err != nil {
		t.Fatalf("EvaluateBaseline: %v", err)
	}
	if outcome.Score != 0.5 {
		t.Fatalf("expected default base score 0.5, got %v", outcome.Score)
	}
	if outcome.Decision != model.DecisionInformational {
		t.Fatalf("expected informational decision at score 0.5, got %v", outcome.Decision)
	}
}

func TestEvaluateBaselineAppliesOverrides(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Rule{ID: "ALWAYS_HITS", Fn: func(Context) ([]model.RuleFinding, error) {
		return []model.RuleFinding{{RuleID: "ALWAYS_HITS", Weight: 0.3, Severity: model.SeverityHigh, Flag: "test"}}, nil
	}})

	disabled := false
	config := map[string]any{
		"rule_overrides": map[string]Override{"ALWAYS_HITS": {Enabled: &disabled}},
	}

	outcome, err := EvaluateBaseline(registry, claimWithItems(), nil, config, nil)
	if err != nil {
		t.Fatalf("EvaluateBaseline: %v", err)
	}
	if len(outcome.Findings) != 0 {
		t.Fatalf("expected disabled override to suppress the hit, got %+v", outcome.Findings)
	}
	if outcome.Score != 0.5 {
		t.Fatalf("expected base score unaffected by suppressed hit, got %v", outcome.Score)
	}
}

func TestEvaluateBaselineAccumulatesROI(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Rule{ID: "ROI_HIT", Fn: func(Context) ([]model.RuleFinding, error) {
		return []model.RuleFinding{{
			RuleID: "ROI_HIT", Weight: 0.1, Severity: model.SeverityMedium, Flag: "f",
			Metadata: map[string]any{"category": "financial", "estimated_roi": 42.5},
		}}, nil
	}})

	outcome, err := EvaluateBaseline(registry, claimWithItems(), nil, nil, nil)
	if err != nil {
		t.Fatalf("EvaluateBaseline: %v", err)
	}
	if outcome.ROIEstimate != 42.5 {
		t.Fatalf("expected ROI estimate 42.5, got %v", outcome.ROIEstimate)
	}
}

func TestEvaluateBaselineIsolatesRuleErrors(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Rule{ID: "BROKEN", Fn: func(Context) ([]model.RuleFinding, error) {
		return nil, errors.New("boom")
	}})
	registry.Register(Rule{ID: "HEALTHY", Fn: func(Context) ([]model.RuleFinding, error) {
		return []model.RuleFinding{{RuleID: "HEALTHY", Weight: 0.2, Severity: model.SeverityLow, Flag: "ok"}}, nil
	}})

	outcome, err := EvaluateBaseline(registry, claimWithItems(), nil, nil, nil)
	if err != nil {
		t.Fatalf("EvaluateBaseline: %v", err)
	}
	if len(outcome.Findings) != 1 || outcome.Findings[0].RuleID != "HEALTHY" {
		t.Fatalf("expected the healthy rule's finding to survive the broken rule's error, got %+v", outcome.Findings)
	}
	if outcome.Score != 0.7 {
		t.Fatalf("expected score to reflect only the healthy rule's weight, got %v", outcome.Score)
	}
}

func TestNCCIPTP(t *testing.T) {
	claim := claimWithItems(
		map[string]any{"procedure_source_value": "11042"},
		map[string]any{"procedure_source_value": "97597"},
	)
	datasets := map[string]any{
		"ncci_ptp": map[[2]string]map[string]any{
			pairKey("11042", "97597"): {"citation": "CMS NCCI PTP", "modifier": "59"},
		},
	}

	hits, err := ncciPTPRule(Context{Claim: claim, Datasets: datasets})
	if err != nil {
		t.Fatalf("ncciPTPRule: %v", err)
	}
	if len(hits) != 1 || hits[0].RuleID != "NCCI_PTP" {
		t.Fatalf("expected one NCCI_PTP hit, got %+v", hits)
	}
	if hits[0].Severity != model.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", hits[0].Severity)
	}
	if hits[0].Metadata["modifier"] != "59" {
		t.Fatalf("expected modifier metadata carried through from the dataset, got %+v", hits[0].Metadata)
	}
}

func TestNCCIPTPNoDataset(t *testing.T) {
	claim := claimWithItems(
		map[string]any{"procedure_source_value": "11042"},
		map[string]any{"procedure_source_value": "97597"},
	)

	hits, err := ncciPTPRule(Context{Claim: claim})
	if err != nil {
		t.Fatalf("ncciPTPRule: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits with no PTP dataset loaded, got %+v", hits)
	}
}

func TestInvalidNPIRule(t *testing.T) {
	claim := model.CanonicalRecord{
		"items":    []map[string]any{},
		"provider": map[string]any{"npi": "1234567890"},
	}
	hits, err := invalidNPIRule(Context{Claim: claim})
	if err != nil {
		t.Fatalf("invalidNPIRule: %v", err)
	}
	if len(hits) != 1 || hits[0].RuleID != "INVALID_NPI" {
		t.Fatalf("expected INVALID_NPI hit, got %+v", hits)
	}
}

func TestInvalidNPIRuleValid(t *testing.T) {
	claim := model.CanonicalRecord{
		"items":    []map[string]any{},
		"provider": map[string]any{"npi": "1982968830"},
	}
	hits, err := invalidNPIRule(Context{Claim: claim})
	if err != nil {
		t.Fatalf("invalidNPIRule: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hit for a valid NPI, got %+v", hits)
	}
}

func TestThresholdConfigDecisionMode(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  model.DecisionMode
	}{
		{0.96, model.DecisionAutoApproveFast},
		{0.92, model.DecisionAutoApprove},
		{0.85, model.DecisionSoftHold},
		{0.65, model.DecisionRecommendation},
		{0.2, model.DecisionInformational},
	}
	for _, tc := range cases {
		if got := th.DecisionMode(tc.score); got != tc.want {
			t.Fatalf("DecisionMode(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}
