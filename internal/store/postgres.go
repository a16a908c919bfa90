package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/db"
	"github.com/sells-group/provenance-cli/internal/model"
)

// PostgresStore implements RequestStore over a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS verification_requests (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL,
	kind              TEXT NOT NULL,
	state             TEXT NOT NULL DEFAULT 'pending',
	eligible          JSONB NOT NULL,
	approve_threshold INTEGER NOT NULL,
	reject_threshold  INTEGER NOT NULL,
	votes             JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL,
	timeout_ns        BIGINT NOT NULL,
	resolved_at       TIMESTAMPTZ,
	version           BIGINT NOT NULL DEFAULT 0
);

ALTER TABLE verification_requests ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_requests_product_id ON verification_requests(product_id);
CREATE INDEX IF NOT EXISTS idx_requests_state ON verification_requests(state);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.VerificationRequest) error {
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO verification_requests (`+requestColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.ProductID, string(req.Kind), string(req.State), enc.eligible,
		req.ApproveThreshold, req.RejectThreshold, enc.votes,
		req.CreatedAt.UTC(), int64(req.Timeout), utcPtr(req.ResolvedAt), req.Version,
	)
	return eris.Wrapf(err, "postgres: create request %s", req.ID)
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM verification_requests WHERE id = $1`, id)
	req, err := scanPgRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: get request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	return req, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req *model.VerificationRequest) error {
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE verification_requests SET state = $1, votes = $2, resolved_at = $3, version = version + 1 WHERE id = $4 AND state = 'pending' AND version = $5`,
		string(req.State), enc.votes, utcPtr(req.ResolvedAt), req.ID, req.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request %s", req.ID)
	}
	if tag.RowsAffected() == 0 {
		stored, err := s.GetRequest(ctx, req.ID)
		return rejectedUpdate("postgres", req, stored, err)
	}
	req.Version++
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*model.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM verification_requests WHERE 1=1`
	var args []any
	argN := 1

	if filter.ProductID != "" {
		query += fmt.Sprintf(` AND product_id = $%d`, argN)
		args = append(args, filter.ProductID)
		argN++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argN)
		args = append(args, string(filter.State))
		argN++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, argN)
	args = append(args, limitOrDefault(filter.Limit))
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var out []*model.VerificationRequest
	for rows.Next() {
		req, err := scanPgRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list requests")
		}
		out = append(out, req)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requests rows")
}

func scanPgRequest(row pgx.Row) (*model.VerificationRequest, error) {
	var (
		r               model.VerificationRequest
		kind, state     string
		eligible, votes []byte
		timeout         int64
	)
	err := row.Scan(&r.ID, &r.ProductID, &kind, &state, &eligible,
		&r.ApproveThreshold, &r.RejectThreshold, &votes,
		&r.CreatedAt, &timeout, &r.ResolvedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	r.Kind = model.RequestKind(kind)
	r.State = model.RequestState(state)
	r.CreatedAt = r.CreatedAt.UTC()
	r.ResolvedAt = utcPtr(r.ResolvedAt)
	r.Timeout = time.Duration(timeout)
	if err := decodeCollections(&r, eligible, votes); err != nil {
		return nil, err
	}
	return &r, nil
}
