// Package store persists verification and dispute requests.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/db"
	"github.com/sells-group/provenance-cli/internal/model"
)

const defaultListLimit = 100

// RequestFilter specifies criteria for listing requests.
type RequestFilter struct {
	ProductID string             `json:"product_id,omitempty"`
	State     model.RequestState `json:"state,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// RequestStore defines the persistence interface for the orchestrator.
// Implementations return copies; mutating a returned request has no effect
// until UpdateRequest is called.
//
// UpdateRequest is conditional: it applies only while the stored request is
// pending and its Version equals req.Version, and then bumps req.Version.
// Otherwise it fails with ErrNotFound, ErrAlreadyResolved when the stored
// request is terminal, or ErrStaleWrite when another writer got there first.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *model.VerificationRequest) error
	GetRequest(ctx context.Context, id string) (*model.VerificationRequest, error)
	UpdateRequest(ctx context.Context, req *model.VerificationRequest) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]*model.VerificationRequest, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the store named by cfg.Verification.StoreDriver and migrates it.
func Open(ctx context.Context, cfg *config.Config) (RequestStore, error) {
	var (
		st  RequestStore
		err error
	)
	switch cfg.Verification.StoreDriver {
	case "memory":
		st = NewMemory()
	case "sqlite":
		st, err = NewSQLite(cfg.Verification.StorePath)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.Ledger.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Verification.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// NewPostgres connects a pool and wraps it in a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// requestColumns is the column order shared by both SQL stores.
const requestColumns = `id, product_id, kind, state, eligible, approve_threshold, reject_threshold, votes, created_at, timeout_ns, resolved_at, version`

// rejectedUpdate explains why a conditional update matched no row, given
// the request as it is stored now.
func rejectedUpdate(prefix string, req, stored *model.VerificationRequest, getErr error) error {
	if getErr != nil {
		return eris.Wrapf(getErr, "%s: update request %s", prefix, req.ID)
	}
	if stored.State.Terminal() {
		return eris.Wrapf(model.ErrAlreadyResolved, "%s: update request %s is %s", prefix, req.ID, stored.State)
	}
	return eris.Wrapf(model.ErrStaleWrite, "%s: update request %s: version %d, stored %d",
		prefix, req.ID, req.Version, stored.Version)
}

// encodedRequest holds the JSON-encoded collections of a request.
type encodedRequest struct {
	eligible []byte
	votes    []byte
}

func encodeRequest(req *model.VerificationRequest) (encodedRequest, error) {
	eligible := req.Eligible
	if eligible == nil {
		eligible = []string{}
	}
	votes := req.Votes
	if votes == nil {
		votes = []model.Vote{}
	}
	e, err := json.Marshal(eligible)
	if err != nil {
		return encodedRequest{}, eris.Wrap(err, "store: marshal eligible")
	}
	v, err := json.Marshal(votes)
	if err != nil {
		return encodedRequest{}, eris.Wrap(err, "store: marshal votes")
	}
	return encodedRequest{eligible: e, votes: v}, nil
}

func decodeCollections(req *model.VerificationRequest, eligible, votes []byte) error {
	if err := json.Unmarshal(eligible, &req.Eligible); err != nil {
		return eris.Wrap(err, "store: unmarshal eligible")
	}
	if err := json.Unmarshal(votes, &req.Votes); err != nil {
		return eris.Wrap(err, "store: unmarshal votes")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
