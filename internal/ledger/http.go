package ledger

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/resilience"
	"github.com/sells-group/provenance-cli/pkg/ledgerapi"
)

// HTTPSource reads through the ledger gateway. Every call is retried on
// transient failures and guarded by one circuit breaker.
type HTTPSource struct {
	client  ledgerapi.Client
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewHTTPSource wraps client.
func NewHTTPSource(client ledgerapi.Client, retry resilience.RetryPolicy, breaker *resilience.Breaker) *HTTPSource {
	return &HTTPSource{client: client, retry: retry, breaker: breaker}
}

// call runs fn with retry outside the breaker so each attempt counts.
func call[T any](ctx context.Context, s *HTTPSource, op string, fn func(context.Context) (T, error)) (T, error) {
	p := s.retry
	p.OnRetry = resilience.RetryLogger(op)
	return resilience.Retry(ctx, p, func(ctx context.Context) (T, error) {
		return resilience.Call(ctx, s.breaker, func(ctx context.Context) (T, error) {
			v, err := fn(ctx)
			return v, classify(err)
		})
	})
}

// classify marks retryable gateway statuses as transient and maps 404 to
// model.ErrNotFound.
func classify(err error) error {
	var apiErr *ledgerapi.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusNotFound:
		return eris.Wrap(model.ErrNotFound, apiErr.Error())
	case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
		return resilience.NewTransientError(apiErr, apiErr.StatusCode)
	default:
		return err
	}
}

func (s *HTTPSource) GetProduct(ctx context.Context, productID string) (*model.ProductRecord, error) {
	p, err := call(ctx, s, "get_product", func(ctx context.Context) (*ledgerapi.Product, error) {
		return s.client.GetProduct(ctx, productID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get product %s", productID)
	}
	if !p.Exists {
		return nil, eris.Wrapf(model.ErrNotFound, "ledger: product %s", productID)
	}
	status, err := model.ProductStatusFromCode(p.Status)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: product %s", productID)
	}
	return &model.ProductRecord{
		ProductID:    productID,
		Manufacturer: p.Manufacturer,
		CurrentOwner: p.CurrentOwner,
		Status:       status,
		RegisteredAt: p.RegisteredAt,
		MetadataURI:  p.MetadataURI,
		Exists:       true,
	}, nil
}

func (s *HTTPSource) GetProductHistory(ctx context.Context, productID string) ([]model.CustodyTransferRecord, error) {
	transfers, err := call(ctx, s, "get_product_history", func(ctx context.Context) ([]ledgerapi.Transfer, error) {
		return s.client.GetProductHistory(ctx, productID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: history %s", productID)
	}
	out := make([]model.CustodyTransferRecord, len(transfers))
	for i, t := range transfers {
		out[i] = model.CustodyTransferRecord{
			From:             t.From,
			To:               t.To,
			Timestamp:        t.Timestamp,
			Location:         t.Location,
			VerificationHash: t.VerificationHash,
		}
	}
	return out, nil
}

func (s *HTTPSource) VerificationRecords(ctx context.Context, productID string) ([]model.VerificationRecord, error) {
	verifs, err := call(ctx, s, "verifications", func(ctx context.Context) ([]ledgerapi.Verification, error) {
		return s.client.Verifications(ctx, productID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: verifications %s", productID)
	}
	out := make([]model.VerificationRecord, len(verifs))
	for i, v := range verifs {
		out[i] = model.VerificationRecord{
			RequestID: v.RequestID,
			ProductID: productID,
			Verifier:  v.Verifier,
			Result:    v.Result,
			Requester: v.Requester,
			Fee:       v.Fee,
			Timestamp: v.Timestamp,
		}
	}
	return out, nil
}

func (s *HTTPSource) DisputeRecords(ctx context.Context, productID string) ([]model.DisputeRecord, error) {
	disputes, err := call(ctx, s, "disputes", func(ctx context.Context) ([]ledgerapi.Dispute, error) {
		return s.client.Disputes(ctx, productID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: disputes %s", productID)
	}
	out := make([]model.DisputeRecord, len(disputes))
	for i, d := range disputes {
		status, err := model.DisputeStatusFromCode(d.Status)
		if err != nil {
			zap.L().Warn("ledger: unmapped dispute status",
				zap.String("dispute_id", d.DisputeID),
				zap.Int("code", d.Status),
			)
			status = model.UnknownDisputeStatus(d.Status)
		}
		out[i] = model.DisputeRecord{
			DisputeID:    d.DisputeID,
			ProductID:    productID,
			Initiator:    d.Initiator,
			Respondent:   d.Respondent,
			Description:  d.Description,
			Status:       status,
			CreatedAt:    d.CreatedAt,
			ResolvedAt:   d.ResolvedAt,
			VotesFor:     d.VotesFor,
			VotesAgainst: d.VotesAgainst,
		}
	}
	return out, nil
}

func (s *HTTPSource) AttestationRecords(ctx context.Context, productID string) ([]model.AttestationRecord, error) {
	atts, err := call(ctx, s, "attestations", func(ctx context.Context) ([]ledgerapi.Attestation, error) {
		return s.client.Attestations(ctx, productID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: attestations %s", productID)
	}
	out := make([]model.AttestationRecord, len(atts))
	for i, a := range atts {
		out[i] = model.AttestationRecord{
			RequestID:   a.RequestID,
			ProductID:   productID,
			Signer:      a.Signer,
			Verdict:     a.Verdict,
			Weight:      a.Weight,
			EvidenceURI: a.EvidenceURI,
			Timestamp:   a.Timestamp,
		}
	}
	return out, nil
}

func (s *HTTPSource) Reputation(ctx context.Context, identity string) (*model.ReputationScore, error) {
	r, err := call(ctx, s, "reputation", func(ctx context.Context) (*ledgerapi.Reputation, error) {
		return s.client.Reputation(ctx, identity)
	})
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: reputation %s", identity)
	}
	return &model.ReputationScore{Identity: identity, Value: r.Score}, nil
}
