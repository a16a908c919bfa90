package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/db"
	"github.com/sells-group/provenance-cli/internal/model"
)

// PostgresSource reads from tables filled by a contract event indexer (or
// by Import). Timestamps are unix seconds, as emitted on chain.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource wraps pool. The caller owns the pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const ledgerMigration = `
CREATE SCHEMA IF NOT EXISTS ledger;

CREATE TABLE IF NOT EXISTS ledger.products (
	product_id    TEXT PRIMARY KEY,
	manufacturer  TEXT NOT NULL DEFAULT '',
	current_owner TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'registered',
	registered_at BIGINT NOT NULL DEFAULT 0,
	metadata_uri  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ledger.custody_transfers (
	product_id        TEXT NOT NULL,
	seq               INTEGER NOT NULL,
	from_addr         TEXT NOT NULL DEFAULT '',
	to_addr           TEXT NOT NULL DEFAULT '',
	ts                BIGINT NOT NULL DEFAULT 0,
	location          TEXT NOT NULL DEFAULT '',
	verification_hash TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (product_id, seq)
);

CREATE TABLE IF NOT EXISTS ledger.verifications (
	product_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	verifier   TEXT NOT NULL DEFAULT '',
	result     BOOLEAN NOT NULL,
	requester  TEXT NOT NULL DEFAULT '',
	fee        TEXT NOT NULL DEFAULT '0',
	ts         BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (product_id, request_id)
);

CREATE TABLE IF NOT EXISTS ledger.disputes (
	dispute_id    TEXT PRIMARY KEY,
	product_id    TEXT NOT NULL,
	initiator     TEXT NOT NULL DEFAULT '',
	respondent    TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    BIGINT NOT NULL DEFAULT 0,
	resolved_at   BIGINT NOT NULL DEFAULT 0,
	votes_for     BIGINT NOT NULL DEFAULT 0,
	votes_against BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger.attestations (
	product_id   TEXT NOT NULL,
	request_id   TEXT NOT NULL,
	signer       TEXT NOT NULL,
	verdict      BOOLEAN NOT NULL,
	weight       DOUBLE PRECISION NOT NULL DEFAULT 1,
	evidence_uri TEXT NOT NULL DEFAULT '',
	ts           BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (product_id, request_id, signer)
);

CREATE TABLE IF NOT EXISTS ledger.reputation (
	identity TEXT PRIMARY KEY,
	score    DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_disputes_product ON ledger.disputes(product_id);
`

// Migrate creates the ledger schema if it does not exist.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, ledgerMigration)
	return eris.Wrap(err, "ledger: migrate")
}

func (s *PostgresSource) GetProduct(ctx context.Context, productID string) (*model.ProductRecord, error) {
	var (
		r      = model.ProductRecord{ProductID: productID, Exists: true}
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT manufacturer, current_owner, status, registered_at, metadata_uri FROM ledger.products WHERE product_id = $1`,
		productID,
	).Scan(&r.Manufacturer, &r.CurrentOwner, &status, &r.RegisteredAt, &r.MetadataURI)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "ledger: product %s", productID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get product %s", productID)
	}
	r.Status, err = model.ParseProductStatus(status)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: product %s", productID)
	}
	return &r, nil
}

func (s *PostgresSource) GetProductHistory(ctx context.Context, productID string) ([]model.CustodyTransferRecord, error) {
	return queryList(ctx, s.pool, "custody transfers",
		`SELECT from_addr, to_addr, ts, location, verification_hash FROM ledger.custody_transfers WHERE product_id = $1 ORDER BY seq`,
		productID,
		func(row pgx.Rows) (model.CustodyTransferRecord, error) {
			var r model.CustodyTransferRecord
			err := row.Scan(&r.From, &r.To, &r.Timestamp, &r.Location, &r.VerificationHash)
			return r, err
		})
}

func (s *PostgresSource) VerificationRecords(ctx context.Context, productID string) ([]model.VerificationRecord, error) {
	return queryList(ctx, s.pool, "verifications",
		`SELECT request_id, verifier, result, requester, fee, ts FROM ledger.verifications WHERE product_id = $1 ORDER BY ts, request_id`,
		productID,
		func(row pgx.Rows) (model.VerificationRecord, error) {
			r := model.VerificationRecord{ProductID: productID}
			err := row.Scan(&r.RequestID, &r.Verifier, &r.Result, &r.Requester, &r.Fee, &r.Timestamp)
			return r, err
		})
}

func (s *PostgresSource) DisputeRecords(ctx context.Context, productID string) ([]model.DisputeRecord, error) {
	return queryList(ctx, s.pool, "disputes",
		`SELECT dispute_id, initiator, respondent, description, status, created_at, resolved_at, votes_for, votes_against FROM ledger.disputes WHERE product_id = $1 ORDER BY created_at, dispute_id`,
		productID,
		func(row pgx.Rows) (model.DisputeRecord, error) {
			var (
				r             = model.DisputeRecord{ProductID: productID}
				status        string
				forV, against int64
			)
			err := row.Scan(&r.DisputeID, &r.Initiator, &r.Respondent, &r.Description, &status,
				&r.CreatedAt, &r.ResolvedAt, &forV, &against)
			// Unknown statuses pass through; the normalizer drops them.
			r.Status = model.DisputeStatus(strings.ToLower(strings.TrimSpace(status)))
			r.VotesFor, r.VotesAgainst = uint64(max(forV, 0)), uint64(max(against, 0))
			return r, err
		})
}

func (s *PostgresSource) AttestationRecords(ctx context.Context, productID string) ([]model.AttestationRecord, error) {
	return queryList(ctx, s.pool, "attestations",
		`SELECT request_id, signer, verdict, weight, evidence_uri, ts FROM ledger.attestations WHERE product_id = $1 ORDER BY ts, request_id, signer`,
		productID,
		func(row pgx.Rows) (model.AttestationRecord, error) {
			r := model.AttestationRecord{ProductID: productID}
			err := row.Scan(&r.RequestID, &r.Signer, &r.Verdict, &r.Weight, &r.EvidenceURI, &r.Timestamp)
			return r, err
		})
}

func (s *PostgresSource) Reputation(ctx context.Context, identity string) (*model.ReputationScore, error) {
	var score float64
	err := s.pool.QueryRow(ctx,
		`SELECT score FROM ledger.reputation WHERE lower(identity) = lower($1)`, identity,
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: reputation %s", identity)
	}
	return &model.ReputationScore{Identity: identity, Value: score}, nil
}

func queryList[T any](ctx context.Context, pool db.Pool, what, query, productID string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: query %s for %s", what, productID)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "ledger: scan %s for %s", what, productID)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "ledger: iterate %s for %s", what, productID)
}

// ImportStats counts rows written per table.
type ImportStats map[string]int64

// Import upserts a fixture into the ledger tables. Running it twice with
// the same fixture leaves the tables unchanged.
func (s *PostgresSource) Import(ctx context.Context, f *Fixture) (ImportStats, error) {
	src, err := NewFixtureSource(f)
	if err != nil {
		return nil, err
	}

	var products, transfers, verifs, disputes, atts, reps [][]any
	for _, id := range src.ProductIDs() {
		e := src.products[id]
		p := e.product
		if !p.Exists {
			continue
		}
		products = append(products, []any{p.ProductID, p.Manufacturer, p.CurrentOwner, string(p.Status), p.RegisteredAt, p.MetadataURI})
		for i, t := range e.history {
			transfers = append(transfers, []any{id, i, t.From, t.To, t.Timestamp, t.Location, t.VerificationHash})
		}
		for _, v := range e.verifications {
			verifs = append(verifs, []any{id, v.RequestID, v.Verifier, v.Result, v.Requester, v.Fee, v.Timestamp})
		}
		for _, d := range e.disputes {
			status := d.Status
			if status == "" {
				status = model.DisputeOpen
			}
			disputes = append(disputes, []any{d.DisputeID, id, d.Initiator, d.Respondent, d.Description,
				string(status), d.CreatedAt, d.ResolvedAt, int64(d.VotesFor), int64(d.VotesAgainst)})
		}
		for _, a := range e.attestations {
			atts = append(atts, []any{id, a.RequestID, a.Signer, a.Verdict, a.Weight, a.EvidenceURI, a.Timestamp})
		}
	}
	for identity, score := range f.Reputation {
		reps = append(reps, []any{identity, score})
	}

	batches := []struct {
		cfg  db.UpsertConfig
		rows [][]any
	}{
		{db.UpsertConfig{
			Table:        "ledger.products",
			Columns:      []string{"product_id", "manufacturer", "current_owner", "status", "registered_at", "metadata_uri"},
			ConflictKeys: []string{"product_id"},
		}, products},
		{db.UpsertConfig{
			Table:        "ledger.custody_transfers",
			Columns:      []string{"product_id", "seq", "from_addr", "to_addr", "ts", "location", "verification_hash"},
			ConflictKeys: []string{"product_id", "seq"},
		}, transfers},
		{db.UpsertConfig{
			Table:        "ledger.verifications",
			Columns:      []string{"product_id", "request_id", "verifier", "result", "requester", "fee", "ts"},
			ConflictKeys: []string{"product_id", "request_id"},
		}, verifs},
		{db.UpsertConfig{
			Table: "ledger.disputes",
			Columns: []string{"dispute_id", "product_id", "initiator", "respondent", "description",
				"status", "created_at", "resolved_at", "votes_for", "votes_against"},
			ConflictKeys: []string{"dispute_id"},
		}, disputes},
		{db.UpsertConfig{
			Table:        "ledger.attestations",
			Columns:      []string{"product_id", "request_id", "signer", "verdict", "weight", "evidence_uri", "ts"},
			ConflictKeys: []string{"product_id", "request_id", "signer"},
		}, atts},
		{db.UpsertConfig{
			Table:        "ledger.reputation",
			Columns:      []string{"identity", "score"},
			ConflictKeys: []string{"identity"},
		}, reps},
	}

	stats := make(ImportStats, len(batches))
	for _, b := range batches {
		n, err := db.BulkUpsert(ctx, s.pool, b.cfg, b.rows)
		if err != nil {
			return stats, eris.Wrapf(err, "ledger: import %s", b.cfg.Table)
		}
		stats[b.cfg.Table] = n
		zap.L().Info("ledger: imported table",
			zap.String("component", "ledger"),
			zap.String("table", b.cfg.Table),
			zap.Int("rows", len(b.rows)),
			zap.Int64("affected", n),
		)
	}
	return stats, nil
}
