// Package verification runs the vote state machine for verification and
// dispute requests.
package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/events"
	"github.com/sells-group/provenance-cli/internal/idgen"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/store"
)

const (
	sweepPageSize = 100
	// staleWriteAttempts bounds reloads when another process keeps winning
	// the version race on the same request.
	staleWriteAttempts = 3
)

// OpenParams describes a new request. Zero thresholds and timeout fall back
// to the orchestrator defaults.
type OpenParams struct {
	ProductID        string
	Kind             model.RequestKind
	Eligible         []string
	ApproveThreshold int
	RejectThreshold  int
	Timeout          time.Duration
}

// Orchestrator applies votes and expiry to stored requests. Each operation
// is a single-request transition; requests never share locks.
type Orchestrator struct {
	store     store.RequestStore
	defaults  config.VerificationConfig
	publisher events.Publisher
	newID     idgen.Generator
	now       func() time.Time
	locks     *keyedMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator sets the request id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithPublisher sets where transitions are announced.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// New creates an Orchestrator over st.
func New(st store.RequestStore, defaults config.VerificationConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		defaults:  defaults,
		publisher: &events.NoopPublisher{},
		newID:     idgen.NewRequestID,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open registers a pending request.
func (o *Orchestrator) Open(ctx context.Context, p OpenParams) (*model.VerificationRequest, error) {
	req, err := o.build(p)
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return nil, eris.Wrap(err, "verification: open")
	}

	zap.L().Info("verification: request opened",
		zap.String("component", "verification"),
		zap.String("request_id", req.ID),
		zap.String("product_id", req.ProductID),
		zap.String("kind", string(req.Kind)),
		zap.Int("eligible", len(req.Eligible)),
	)
	o.publish(ctx, events.TopicRequestOpened, events.RequestEvent{
		RequestID: req.ID,
		ProductID: req.ProductID,
		Kind:      req.Kind,
		To:        req.State,
		At:        req.CreatedAt,
	})
	return req, nil
}

func (o *Orchestrator) build(p OpenParams) (*model.VerificationRequest, error) {
	productID := strings.TrimSpace(p.ProductID)
	if productID == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "verification: product id is required")
	}

	kind := p.Kind
	if kind == "" {
		kind = model.RequestVerification
	}
	if kind != model.RequestVerification && kind != model.RequestDispute {
		return nil, eris.Wrapf(model.ErrInvalidInput, "verification: unknown request kind %q", kind)
	}

	// Keep first-seen order; drop blanks and repeats.
	seen := mapset.NewThreadUnsafeSet[string]()
	var eligible []string
	for _, id := range p.Eligible {
		id = strings.TrimSpace(id)
		if id == "" || !seen.Add(id) {
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return nil, eris.Wrap(model.ErrInvalidInput, "verification: at least one eligible voter is required")
	}

	approve := orDefault(p.ApproveThreshold, o.defaults.ApproveThreshold)
	reject := orDefault(p.RejectThreshold, o.defaults.RejectThreshold)
	for name, v := range map[string]int{"approve": approve, "reject": reject} {
		if v < 1 || v > len(eligible) {
			return nil, eris.Wrapf(model.ErrInvalidInput,
				"verification: %s threshold %d must be between 1 and %d", name, v, len(eligible))
		}
	}

	timeout := p.Timeout
	if timeout == 0 {
		timeout = time.Duration(o.defaults.TimeoutHours) * time.Hour
	}
	if timeout <= 0 {
		return nil, eris.Wrap(model.ErrInvalidInput, "verification: timeout must be positive")
	}

	id, err := o.newID()
	if err != nil {
		return nil, eris.Wrap(err, "verification: request id")
	}

	return &model.VerificationRequest{
		ID:               id,
		ProductID:        productID,
		Kind:             kind,
		State:            model.RequestPending,
		Eligible:         eligible,
		ApproveThreshold: approve,
		RejectThreshold:  reject,
		Votes:            []model.Vote{},
		CreatedAt:        o.now().UTC(),
		Timeout:          timeout,
	}, nil
}

// SubmitVote records one ballot and returns the resulting state. A vote on
// a timed-out request that has not been expired yet is still counted.
func (o *Orchestrator) SubmitVote(ctx context.Context, requestID, voterID string, approve bool) (model.RequestState, error) {
	voterID = strings.TrimSpace(voterID)
	unlock := o.locks.Lock(requestID)
	defer unlock()

	var (
		req                   *model.VerificationRequest
		from                  model.RequestState
		now                   time.Time
		approvals, rejections int
	)
	err := retryStale(func() error {
		var err error
		req, err = o.store.GetRequest(ctx, requestID)
		if err != nil {
			return eris.Wrap(err, "verification: vote")
		}
		from = req.State
		if req.State.Terminal() {
			return eris.Wrapf(model.ErrAlreadyResolved, "verification: request %s is %s", requestID, req.State)
		}
		if !mapset.NewThreadUnsafeSet(req.Eligible...).Contains(voterID) {
			return eris.Wrapf(model.ErrAuthorizationDenied, "verification: %q is not eligible to vote on %s", voterID, requestID)
		}
		voted := mapset.NewThreadUnsafeSet[string]()
		for _, v := range req.Votes {
			voted.Add(v.Voter)
		}
		if voted.Contains(voterID) {
			return eris.Wrapf(model.ErrDuplicateVote, "verification: %q already voted on %s", voterID, requestID)
		}

		now = o.now().UTC()
		req.Votes = append(req.Votes, model.Vote{Voter: voterID, Approve: approve, CastAt: now})

		approvals, rejections = req.Tally()
		switch {
		case approvals >= req.ApproveThreshold:
			req.State = model.RequestApproved
		case rejections >= req.RejectThreshold:
			req.State = model.RequestRejected
		}
		if req.State.Terminal() {
			req.ResolvedAt = &now
		}
		return eris.Wrap(o.store.UpdateRequest(ctx, req), "verification: vote")
	})
	if err != nil {
		return from, err
	}

	zap.L().Info("verification: vote recorded",
		zap.String("component", "verification"),
		zap.String("request_id", requestID),
		zap.String("voter", voterID),
		zap.Bool("approve", approve),
		zap.Int("approvals", approvals),
		zap.Int("rejections", rejections),
		zap.String("state", string(req.State)),
	)
	o.publish(ctx, events.TopicForState(req.State), events.RequestEvent{
		RequestID: req.ID,
		ProductID: req.ProductID,
		Kind:      req.Kind,
		From:      from,
		To:        req.State,
		Voter:     voterID,
		Approve:   &approve,
		At:        now,
	})
	return req.State, nil
}

// ResolveExpired moves a timed-out pending request to expired. Expiry never
// happens implicitly; something has to call this.
func (o *Orchestrator) ResolveExpired(ctx context.Context, requestID string) (model.RequestState, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	var (
		req  *model.VerificationRequest
		from model.RequestState
		now  time.Time
	)
	err := retryStale(func() error {
		var err error
		req, err = o.store.GetRequest(ctx, requestID)
		if err != nil {
			return eris.Wrap(err, "verification: expire")
		}
		from = req.State
		if req.State.Terminal() {
			return eris.Wrapf(model.ErrAlreadyResolved, "verification: request %s is %s", requestID, req.State)
		}

		now = o.now().UTC()
		if !now.After(req.ExpiresAt()) {
			return eris.Wrapf(model.ErrNotExpired, "verification: request %s expires at %s",
				requestID, req.ExpiresAt().Format(time.RFC3339))
		}

		req.State = model.RequestExpired
		req.ResolvedAt = &now
		return eris.Wrap(o.store.UpdateRequest(ctx, req), "verification: expire")
	})
	if err != nil {
		return from, err
	}

	zap.L().Info("verification: request expired",
		zap.String("component", "verification"),
		zap.String("request_id", requestID),
		zap.Int("votes", len(req.Votes)),
	)
	o.publish(ctx, events.TopicRequestExpired, events.RequestEvent{
		RequestID: req.ID,
		ProductID: req.ProductID,
		Kind:      req.Kind,
		From:      from,
		To:        req.State,
		At:        now,
	})
	return req.State, nil
}

// Get returns a request by id.
func (o *Orchestrator) Get(ctx context.Context, requestID string) (*model.VerificationRequest, error) {
	req, err := o.store.GetRequest(ctx, requestID)
	return req, eris.Wrap(err, "verification: get")
}

// List returns requests matching filter, newest first.
func (o *Orchestrator) List(ctx context.Context, filter store.RequestFilter) ([]*model.VerificationRequest, error) {
	reqs, err := o.store.ListRequests(ctx, filter)
	return reqs, eris.Wrap(err, "verification: list")
}

// SweepExpired expires every pending request whose timeout has elapsed and
// returns the ids it expired. Requests resolved concurrently are skipped.
func (o *Orchestrator) SweepExpired(ctx context.Context) ([]string, error) {
	now := o.now().UTC()

	var due []string
	for offset := 0; ; offset += sweepPageSize {
		page, err := o.store.ListRequests(ctx, store.RequestFilter{
			State:  model.RequestPending,
			Limit:  sweepPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "verification: sweep")
		}
		for _, req := range page {
			if now.After(req.ExpiresAt()) {
				due = append(due, req.ID)
			}
		}
		if len(page) < sweepPageSize {
			break
		}
	}

	var expired []string
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return expired, eris.Wrap(err, "verification: sweep")
		}
		_, err := o.ResolveExpired(ctx, id)
		switch {
		case err == nil:
			expired = append(expired, id)
		case errors.Is(err, model.ErrAlreadyResolved), errors.Is(err, model.ErrNotExpired):
			zap.L().Debug("verification: sweep skipped request",
				zap.String("request_id", id), zap.Error(err))
		default:
			return expired, err
		}
	}

	zap.L().Info("verification: sweep complete",
		zap.String("component", "verification"),
		zap.Int("due", len(due)),
		zap.Int("expired", len(expired)),
	)
	return expired, nil
}

// retryStale reruns a read-modify-write while the store reports that the
// request changed between the read and the write. The lock in Orchestrator
// only covers this process; the store's version check covers the rest.
func retryStale(op func() error) error {
	var err error
	for attempt := 1; attempt <= staleWriteAttempts; attempt++ {
		if err = op(); !errors.Is(err, model.ErrStaleWrite) {
			return err
		}
		zap.L().Debug("verification: stale write, reloading",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

// publish announces a transition. A failed publish is logged; the stored
// transition stands.
func (o *Orchestrator) publish(ctx context.Context, topic string, ev events.RequestEvent) {
	if err := o.publisher.Publish(ctx, topic, ev); err != nil {
		zap.L().Warn("verification: publish failed",
			zap.String("topic", topic),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
