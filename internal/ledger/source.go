// Package ledger reads product records and event logs from the provenance
// ledger. Every source is read-only and passed explicitly to its callers.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/db"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/resilience"
	"github.com/sells-group/provenance-cli/pkg/ledgerapi"
)

// Source serves the four query shapes the assessment needs per product.
type Source interface {
	// GetProduct returns the product view. An unknown product is
	// model.ErrNotFound.
	GetProduct(ctx context.Context, productID string) (*model.ProductRecord, error)
	GetProductHistory(ctx context.Context, productID string) ([]model.CustodyTransferRecord, error)
	VerificationRecords(ctx context.Context, productID string) ([]model.VerificationRecord, error)
	DisputeRecords(ctx context.Context, productID string) ([]model.DisputeRecord, error)
	AttestationRecords(ctx context.Context, productID string) ([]model.AttestationRecord, error)
}

// ReputationSource looks up counterparty reputation. An identity with no
// score returns nil and no error.
type ReputationSource interface {
	Reputation(ctx context.Context, identity string) (*model.ReputationScore, error)
}

// Conn is an opened source plus whatever must be released afterwards.
type Conn struct {
	Source     Source
	Reputation ReputationSource
	closeFn    func()
}

// Close releases the underlying connection, if any.
func (c *Conn) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Open builds the source named by cfg.Driver. Every built-in source also
// serves reputation.
func Open(ctx context.Context, cfg config.LedgerConfig) (*Conn, error) {
	switch cfg.Driver {
	case "fixture":
		fx, err := LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		return &Conn{Source: fx, Reputation: fx}, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: connect postgres")
		}
		pg := NewPostgresSource(pool)
		return &Conn{Source: pg, Reputation: pg, closeFn: pool.Close}, nil
	case "http":
		opts := []ledgerapi.Option{
			ledgerapi.WithBaseURL(cfg.BaseURL),
			ledgerapi.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		}
		if cfg.TimeoutSecs > 0 {
			opts = append(opts, ledgerapi.WithTimeout(time.Duration(cfg.TimeoutSecs)*time.Second))
		}
		src := NewHTTPSource(ledgerapi.NewClient(cfg.APIKey, opts...),
			resilience.PolicyFromConfig(cfg.Retry),
			resilience.NewBreaker("ledger-gateway", cfg.Circuit),
		)
		return &Conn{Source: src, Reputation: src}, nil
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
}
