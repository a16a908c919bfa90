// Package scorer computes authenticity confidence scores from merged
// provenance timelines.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/config"
)

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	// Points, caps and the penalty are magnitudes; the sign comes from the factor.
	values := []struct {
		name string
		v    float64
	}{
		{"verification_points", c.VerificationPoints},
		{"transfer_points", c.TransferPoints},
		{"transfer_cap", c.TransferCap},
		{"age_points_per_day", c.AgePointsPerDay},
		{"age_cap", c.AgeCap},
		{"status_bonus", c.StatusBonus},
		{"dispute_penalty", c.DisputePenalty},
		{"reputation_cap", c.ReputationCap},
		{"attestation_weight", c.AttestationWeight},
		{"attestation_floor", c.AttestationFloor},
	}
	for _, v := range values {
		if v.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", v.name))
		}
	}

	if c.AttestationWeight > 0 && c.AttestationHalfLifeDays <= 0 {
		errs = append(errs, "attestation_half_life_days must be > 0 when attestation_weight is set")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the scoring config for reproducibility.
// The weights file path is not part of the hash; only the weights are.
func ConfigHash(cfg config.ScoringConfig) string {
	cfg.WeightsFile = ""
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
