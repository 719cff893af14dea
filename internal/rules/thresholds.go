// Package rules evaluates canonical claim records against a registry of
// fraud/waste/abuse and coverage rules, aggregating their weighted hits
// into a score and a threshold-driven decision.
package rules

import "github.com/rakunlabs/ingestcore/internal/model"

// ThresholdConfig maps an aggregate score onto a decision mode.
type ThresholdConfig struct {
	RecommendationMin float64
	SoftHoldMin       float64
	AutoApproveMin    float64
	FastPathMin       float64
	GuardrailMin      float64
}

// DefaultThresholds mirrors the baseline tier boundaries.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		RecommendationMin: 0.6,
		SoftHoldMin:       0.8,
		AutoApproveMin:    0.9,
		FastPathMin:       0.95,
		GuardrailMin:      0.7,
	}
}

// DecisionMode returns the routing outcome for score.
func (t ThresholdConfig) DecisionMode(score float64) model.DecisionMode {
	if score >= t.AutoApproveMin {
		if score >= t.FastPathMin {
			return model.DecisionAutoApproveFast
		}
		return model.DecisionAutoApprove
	}
	if score >= t.SoftHoldMin {
		return model.DecisionSoftHold
	}
	if score >= t.RecommendationMin {
		return model.DecisionRecommendation
	}
	return model.DecisionInformational
}

// ClampScore restricts score to [0, 1].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
