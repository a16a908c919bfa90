package model

import "time"

// RiskTier is the discrete classification of a confidence score.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Factor is one contribution to a confidence score.
type Factor struct {
	Name   string  `json:"name"`
	Delta  float64 `json:"delta"`
	Detail string  `json:"detail,omitempty"`
}

// ConfidenceAssessment is the derived authenticity estimate for a product.
// It is computed on every query and never stored.
type ConfidenceAssessment struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Score       float64   `json:"score"`
	RiskTier    RiskTier  `json:"risk_tier"`
	Factors     []Factor  `json:"contributing_factors"`
	DataQuality []string  `json:"data_quality,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	ConfigHash  string    `json:"config_hash,omitempty"`
	AssessedAt  time.Time `json:"assessed_at"`
}

// Resolved reports whether a score could be computed at all.
func (a *ConfidenceAssessment) Resolved() bool {
	return a != nil && a.Failure == ""
}

// Factor returns the named factor and whether it is present.
func (a *ConfidenceAssessment) Factor(name string) (Factor, bool) {
	if a == nil {
		return Factor{}, false
	}
	for _, f := range a.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// RecommendationAction is the buyer-facing advice derived from a risk tier.
type RecommendationAction string

const (
	ActionSafeToProceed      RecommendationAction = "safe_to_proceed"
	ActionProceedWithCaution RecommendationAction = "proceed_with_caution"
	ActionNotRecommended     RecommendationAction = "not_recommended"
	ActionDoNotProceed       RecommendationAction = "do_not_proceed"
)

// Recommendation is what the presentation layer shows a prospective buyer.
type Recommendation struct {
	Action     RecommendationAction `json:"action"`
	Tier       RiskTier             `json:"tier"`
	Summary    string               `json:"summary"`
	Rationale  []string             `json:"rationale"`
	Disclaimer string               `json:"disclaimer"`
}
