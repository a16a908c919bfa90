package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provenance-cli/internal/config"
)

func TestValidateConfig_Defaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(config.DefaultScoringConfig()))
}

func TestValidateConfig_Negative(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	cfg.TransferCap = -1
	cfg.DisputePenalty = -30

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transfer_cap must be >= 0")
	assert.Contains(t, err.Error(), "dispute_penalty must be >= 0")
}

func TestValidateConfig_NegativeAttestationFloor(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	cfg.AttestationFloor = -0.1

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attestation_floor must be >= 0")
}

func TestValidateConfig_AttestationHalfLife(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	cfg.AttestationWeight = 5
	cfg.AttestationHalfLifeDays = 0

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attestation_half_life_days")

	cfg.AttestationWeight = 0
	assert.NoError(t, ValidateConfig(cfg))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultScoringConfig()
	cfg.AgeCap = -5
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestConfigHash(t *testing.T) {
	a := config.DefaultScoringConfig()
	b := config.DefaultScoringConfig()

	assert.Len(t, ConfigHash(a), 32)
	assert.Equal(t, ConfigHash(a), ConfigHash(b))

	b.WeightsFile = "/etc/provenance/weights.yaml"
	assert.Equal(t, ConfigHash(a), ConfigHash(b), "file path does not change the weights")

	b.StatusBonus = 12
	assert.NotEqual(t, ConfigHash(a), ConfigHash(b))
}
