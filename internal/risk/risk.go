// Package risk maps confidence assessments to risk tiers and buyer-facing
// recommendations.
package risk

import (
	"fmt"

	"github.com/sells-group/provenance-cli/internal/model"
)

// Tier boundaries on the 0-100 score scale.
const (
	LowThreshold    = 80.0
	MediumThreshold = 50.0
)

// Disclaimer accompanies every recommendation.
const Disclaimer = "This score is a point-in-time heuristic derived from ledger records. " +
	"It is not a cryptographic proof of authenticity."

// TierForScore maps a computed score to a tier. Any score below the medium
// threshold, zero included, is high risk; critical is reserved for
// assessments that could not be computed.
func TierForScore(score float64) model.RiskTier {
	switch {
	case score >= LowThreshold:
		return model.RiskLow
	case score >= MediumThreshold:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

var actions = map[model.RiskTier]model.RecommendationAction{
	model.RiskLow:      model.ActionSafeToProceed,
	model.RiskMedium:   model.ActionProceedWithCaution,
	model.RiskHigh:     model.ActionNotRecommended,
	model.RiskCritical: model.ActionDoNotProceed,
}

var summaries = map[model.RecommendationAction]string{
	model.ActionSafeToProceed:      "Provenance record is strong. Safe to proceed.",
	model.ActionProceedWithCaution: "Provenance record is partial. Proceed with caution.",
	model.ActionNotRecommended:     "Provenance record is weak. Purchase not recommended.",
	model.ActionDoNotProceed:       "Provenance could not be established. Do not proceed.",
}

// Classify turns an assessment into a recommendation. Rationale lists the
// factors that moved the score first, then the ones that did not, each group
// in scoring order, followed by any data-quality issues. A nil or unknown
// tier is treated as critical.
func Classify(a *model.ConfidenceAssessment) model.Recommendation {
	tier := model.RiskCritical
	if a != nil {
		if _, ok := actions[a.RiskTier]; ok {
			tier = a.RiskTier
		}
	}
	action := actions[tier]

	rec := model.Recommendation{
		Action:     action,
		Tier:       tier,
		Summary:    summaries[action],
		Rationale:  []string{},
		Disclaimer: Disclaimer,
	}
	if a == nil {
		rec.Rationale = append(rec.Rationale, "no assessment available")
		return rec
	}

	if a.Failure != "" {
		rec.Rationale = append(rec.Rationale, "assessment failed: "+a.Failure)
	}
	for _, f := range a.Factors {
		if f.Delta != 0 {
			rec.Rationale = append(rec.Rationale, factorLine(f))
		}
	}
	for _, f := range a.Factors {
		if f.Delta == 0 {
			rec.Rationale = append(rec.Rationale, factorLine(f))
		}
	}
	for _, issue := range a.DataQuality {
		rec.Rationale = append(rec.Rationale, "data quality: "+issue)
	}
	return rec
}

func factorLine(f model.Factor) string {
	line := fmt.Sprintf("%s %+.2f", f.Name, f.Delta)
	if f.Detail != "" {
		line += " (" + f.Detail + ")"
	}
	return line
}
