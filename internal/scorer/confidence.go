package scorer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/risk"
)

// Factor names, listed on every assessment in this order.
const (
	FactorVerification   = "verification"
	FactorTransfers      = "transfers"
	FactorAge            = "age"
	FactorStatusBonus    = "status_bonus"
	FactorDisputePenalty = "dispute_penalty"
	FactorReputation     = "counterparty_reputation"
	FactorAttestation    = "oracle_attestation"
)

// Scorer produces confidence assessments with a fixed set of weights.
type Scorer struct {
	cfg  config.ScoringConfig
	hash string
	now  func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock sets the time source used for AssessedAt and attestation decay.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// New validates cfg and returns a Scorer.
func New(cfg config.ScoringConfig, opts ...Option) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := &Scorer{
		cfg:  cfg,
		hash: ConfigHash(cfg),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the weights in use.
func (s *Scorer) Config() config.ScoringConfig { return s.cfg }

// Score computes the additive confidence model. Each factor is bounded on
// its own, the sum is clamped to [0, 100] and rounded to two decimals. rep
// may be nil when no reputation is available. A nil timeline yields the
// critical failure assessment.
func (s *Scorer) Score(tl *model.Timeline, snap *model.ProductSnapshot, rep *model.ReputationScore) *model.ConfidenceAssessment {
	if tl == nil {
		var id string
		if snap != nil {
			id = snap.ProductID
		}
		return s.ScoreFailure(id, model.ErrDataIncomplete)
	}
	now := s.now().UTC()
	agg := tl.Aggregates
	var status model.ProductStatus
	if snap != nil {
		status = snap.Status
	}

	var issues []string
	factors := []model.Factor{
		s.verification(agg),
		s.transfers(agg),
		s.age(agg),
		s.statusBonus(status),
		s.disputePenalty(status),
	}
	repFactor, repIssue := s.reputation(status, rep)
	factors = append(factors, repFactor)
	if repIssue != "" {
		issues = append(issues, repIssue)
	}
	if s.cfg.AttestationWeight > 0 {
		factors = append(factors, s.attestation(tl, now))
	}

	var total float64
	for _, f := range factors {
		total += f.Delta
	}
	score := math.Round(clamp(total, 0, 100)*100) / 100 // 2 decimal places

	a := &model.ConfidenceAssessment{
		ID:          uuid.NewString(),
		ProductID:   tl.ProductID,
		Score:       score,
		RiskTier:    risk.TierForScore(score),
		Factors:     factors,
		DataQuality: issues,
		ConfigHash:  s.hash,
		AssessedAt:  now,
	}

	zap.L().Debug("scorer: assessment computed",
		zap.String("product_id", a.ProductID),
		zap.Float64("score", a.Score),
		zap.String("risk_tier", string(a.RiskTier)),
	)
	return a
}

// ScoreFailure builds the assessment for a product whose score could not be
// computed. It is always critical, regardless of any partial signal.
func (s *Scorer) ScoreFailure(productID string, err error) *model.ConfidenceAssessment {
	cause := "unknown failure"
	if err != nil {
		cause = err.Error()
	}
	kind := model.KindOf(err)
	return &model.ConfidenceAssessment{
		ID:          uuid.NewString(),
		ProductID:   productID,
		Score:       0,
		RiskTier:    model.RiskCritical,
		Factors:     []model.Factor{},
		DataQuality: []string{fmt.Sprintf("score not computed (%s): %s", kind, cause)},
		Failure:     cause,
		ConfigHash:  s.hash,
		AssessedAt:  s.now().UTC(),
	}
}

func (s *Scorer) verification(agg model.Aggregates) model.Factor {
	f := model.Factor{Name: FactorVerification, Detail: fmt.Sprintf("%d successful verification(s)", agg.VerificationCount)}
	if agg.VerificationCount > 0 {
		f.Delta = s.cfg.VerificationPoints
	}
	return f
}

func (s *Scorer) transfers(agg model.Aggregates) model.Factor {
	return model.Factor{
		Name:   FactorTransfers,
		Delta:  math.Min(float64(agg.TransferCount)*s.cfg.TransferPoints, s.cfg.TransferCap),
		Detail: fmt.Sprintf("%d custody transfer(s)", agg.TransferCount),
	}
}

func (s *Scorer) age(agg model.Aggregates) model.Factor {
	days := math.Max(agg.AgeInDays, 0)
	return model.Factor{
		Name:   FactorAge,
		Delta:  math.Min(days*s.cfg.AgePointsPerDay, s.cfg.AgeCap),
		Detail: fmt.Sprintf("%.1f day(s) since registration", days),
	}
}

func (s *Scorer) statusBonus(status model.ProductStatus) model.Factor {
	f := model.Factor{Name: FactorStatusBonus, Detail: "status " + string(status)}
	if status == model.StatusAtRetailer || status == model.StatusSold {
		f.Delta = s.cfg.StatusBonus
	}
	return f
}

func (s *Scorer) disputePenalty(status model.ProductStatus) model.Factor {
	f := model.Factor{Name: FactorDisputePenalty}
	if status == model.StatusDisputed {
		f.Delta = -s.cfg.DisputePenalty
		f.Detail = "product is disputed"
	}
	return f
}

// reputation is linear in rep/1000 and only applies at a retailer. Values
// outside the scale are clamped and reported.
func (s *Scorer) reputation(status model.ProductStatus, rep *model.ReputationScore) (model.Factor, string) {
	f := model.Factor{Name: FactorReputation}
	if rep == nil {
		f.Detail = "no reputation available"
		return f, ""
	}
	if status != model.StatusAtRetailer {
		f.Detail = "not at retailer"
		return f, ""
	}

	var issue string
	value := rep.Value
	if value < 0 || value > model.MaxReputation {
		issue = fmt.Sprintf("reputation %.0f for %s outside 0-%.0f, clamped", value, rep.Identity, model.MaxReputation)
		value = clamp(value, 0, model.MaxReputation)
	}
	f.Delta = s.cfg.ReputationCap * value / model.MaxReputation
	f.Detail = fmt.Sprintf("%s reputation %.0f/%.0f", rep.Identity, value, model.MaxReputation)
	return f, issue
}

// attestation is the weighted mean of oracle verdicts (+1 authentic, -1
// not), each weight decayed by its age, scaled by the configured weight.
func (s *Scorer) attestation(tl *model.Timeline, now time.Time) model.Factor {
	f := model.Factor{Name: FactorAttestation}
	decay := DecayConfig{HalfLifeDays: s.cfg.AttestationHalfLifeDays, Floor: s.cfg.AttestationFloor}

	var signal, rawTotal float64
	n := 0
	for _, e := range tl.OfKind(model.EventOracleAttestation) {
		if e.Attestation == nil {
			continue
		}
		raw := e.Attestation.Weight
		if raw <= 0 {
			raw = 1
		}
		w := EffectiveWeight(raw, e.Timestamp, now, decay)
		if e.Attestation.Verdict {
			signal += w
		} else {
			signal -= w
		}
		rawTotal += raw
		n++
	}
	if n == 0 {
		f.Detail = "no oracle attestations"
		return f
	}
	f.Delta = s.cfg.AttestationWeight * signal / rawTotal
	f.Detail = fmt.Sprintf("%d oracle attestation(s)", n)
	return f
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
