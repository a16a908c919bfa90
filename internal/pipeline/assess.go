// Package pipeline turns ledger reads into a scored, classified product
// assessment.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provenance-cli/internal/ledger"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/normalize"
	"github.com/sells-group/provenance-cli/internal/risk"
	"github.com/sells-group/provenance-cli/internal/scorer"
	"github.com/sells-group/provenance-cli/internal/timeline"
)

// Result is everything the presentation layer needs for one product. When
// the timeline could not be built, Timeline is nil, Assessment is the
// critical failure assessment and Err holds the cause.
type Result struct {
	Snapshot       *model.ProductSnapshot      `json:"snapshot"`
	Timeline       *model.Timeline             `json:"timeline,omitempty"`
	Assessment     *model.ConfidenceAssessment `json:"assessment"`
	Recommendation model.Recommendation        `json:"recommendation"`
	Dropped        []normalize.Report          `json:"dropped,omitempty"`
	ErrorKind      model.ErrorKind             `json:"error_kind,omitempty"`
	Err            error                       `json:"-"`
}

// Assessor runs the normalize, merge, score and classify steps against a
// ledger source.
type Assessor struct {
	source     ledger.Source
	reputation ledger.ReputationSource
	scorer     *scorer.Scorer
	now        func() time.Time
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithClock sets the time the timeline age is measured against. It should
// match the scorer's clock.
func WithClock(now func() time.Time) Option {
	return func(a *Assessor) { a.now = now }
}

// New creates an Assessor. rep may be nil, in which case no reputation
// factor is ever applied.
func New(src ledger.Source, rep ledger.ReputationSource, sc *scorer.Scorer, opts ...Option) *Assessor {
	a := &Assessor{
		source:     src,
		reputation: rep,
		scorer:     sc,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// fetched holds the raw reads for one product.
type fetched struct {
	product       *model.ProductRecord
	history       []model.CustodyTransferRecord
	verifications []model.VerificationRecord
	disputes      []model.DisputeRecord
	attestations  []model.AttestationRecord
}

// AssessProduct reads the product and its event logs, then scores them. An
// unknown product is returned as an error wrapping model.ErrNotFound. A
// product whose timeline is incomplete is not an error: the Result carries
// a critical assessment and Err.
func (a *Assessor) AssessProduct(ctx context.Context, productID string) (*Result, error) {
	log := zap.L().With(zap.String("product_id", productID))
	start := time.Now()

	raw, err := a.fetch(ctx, productID)
	if err != nil {
		return nil, err
	}

	snap, err := model.SnapshotFromRecord(raw.product)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: product %s", productID)
	}

	batches := make([][]model.ProvenanceEvent, 0, 5)
	var dropped []normalize.Report
	add := func(records []model.RawRecord, kind model.EventKind) {
		events, rep := normalize.Normalize(records, kind)
		batches = append(batches, events)
		if rep.Dropped > 0 {
			dropped = append(dropped, rep)
		}
	}
	add([]model.RawRecord{*raw.product}, model.EventRegistration)
	add(normalize.Records(raw.history), model.EventCustodyTransfer)
	add(normalize.Records(raw.verifications), model.EventVerificationOutcome)
	add(normalize.Records(raw.disputes), model.EventDispute)
	add(normalize.Records(raw.attestations), model.EventOracleAttestation)

	res := &Result{Snapshot: snap, Dropped: dropped}

	tl, err := timeline.Merge(productID, batches, a.now())
	if err != nil {
		if !eris.Is(err, model.ErrDataIncomplete) {
			return nil, eris.Wrapf(err, "pipeline: merge %s", productID)
		}
		log.Warn("pipeline: timeline incomplete", zap.Error(err))
		res.Err = err
		res.ErrorKind = model.KindOf(err)
		res.Assessment = a.scorer.ScoreFailure(productID, err)
		res.Assessment.DataQuality = append(res.Assessment.DataQuality, droppedIssues(dropped)...)
		res.Recommendation = risk.Classify(res.Assessment)
		return res, nil
	}
	res.Timeline = tl

	var rep *model.ReputationScore
	var repIssue string
	if snap.Status == model.StatusAtRetailer && snap.CurrentOwner != "" && a.reputation != nil {
		rep, err = a.reputation.Reputation(ctx, snap.CurrentOwner)
		if err != nil {
			log.Warn("pipeline: reputation lookup failed", zap.String("identity", snap.CurrentOwner), zap.Error(err))
			rep = nil
			repIssue = "reputation for " + snap.CurrentOwner + " unavailable"
		}
	}

	assessment := a.scorer.Score(tl, snap, rep)
	assessment.DataQuality = append(assessment.DataQuality, timeline.CheckConsistency(tl, snap)...)
	assessment.DataQuality = append(assessment.DataQuality, droppedIssues(dropped)...)
	if repIssue != "" {
		assessment.DataQuality = append(assessment.DataQuality, repIssue)
	}
	res.Assessment = assessment
	res.Recommendation = risk.Classify(assessment)

	log.Info("pipeline: product assessed",
		zap.Float64("score", assessment.Score),
		zap.String("risk_tier", string(assessment.RiskTier)),
		zap.Int("events", len(tl.Events)),
		zap.Int("data_quality_issues", len(assessment.DataQuality)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// fetch issues the five ledger reads concurrently. The first failure
// cancels the rest.
func (a *Assessor) fetch(ctx context.Context, productID string) (*fetched, error) {
	var out fetched
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := a.source.GetProduct(gCtx, productID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: get product %s", productID)
		}
		out.product = p
		return nil
	})
	g.Go(func() error {
		h, err := a.source.GetProductHistory(gCtx, productID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: get history %s", productID)
		}
		out.history = h
		return nil
	})
	g.Go(func() error {
		v, err := a.source.VerificationRecords(gCtx, productID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: get verifications %s", productID)
		}
		out.verifications = v
		return nil
	})
	g.Go(func() error {
		d, err := a.source.DisputeRecords(gCtx, productID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: get disputes %s", productID)
		}
		out.disputes = d
		return nil
	})
	g.Go(func() error {
		at, err := a.source.AttestationRecords(gCtx, productID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: get attestations %s", productID)
		}
		out.attestations = at
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Debug("pipeline: ledger fetch failed", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}
	if out.product == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "pipeline: product %s", productID)
	}
	return &out, nil
}

func droppedIssues(reports []normalize.Report) []string {
	var issues []string
	for _, r := range reports {
		issues = append(issues, r.Issues()...)
	}
	return issues
}
