package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provenance-cli/internal/model"
)

// SQLiteStore implements RequestStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteFromDB wraps an already-open handle.
func NewSQLiteFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Timestamps are unix nanoseconds so ordering and round-trips are exact.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS verification_requests (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL,
	kind              TEXT NOT NULL,
	state             TEXT NOT NULL DEFAULT 'pending',
	eligible          TEXT NOT NULL,
	approve_threshold INTEGER NOT NULL,
	reject_threshold  INTEGER NOT NULL,
	votes             TEXT NOT NULL DEFAULT '[]',
	created_at        INTEGER NOT NULL,
	timeout_ns        INTEGER NOT NULL,
	resolved_at       INTEGER,
	version           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_requests_product_id ON verification_requests(product_id);
CREATE INDEX IF NOT EXISTS idx_requests_state ON verification_requests(state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.VerificationRequest) error {
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verification_requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ProductID, string(req.Kind), string(req.State), string(enc.eligible),
		req.ApproveThreshold, req.RejectThreshold, string(enc.votes),
		req.CreatedAt.UnixNano(), int64(req.Timeout), nullableNanos(req.ResolvedAt), req.Version,
	)
	return eris.Wrapf(err, "sqlite: create request %s", req.ID)
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM verification_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: get request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	return req, nil
}

// UpdateRequest rewrites state, votes and resolved_at when the stored row is
// still pending at req.Version.
func (s *SQLiteStore) UpdateRequest(ctx context.Context, req *model.VerificationRequest) error {
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_requests SET state = ?, votes = ?, resolved_at = ?, version = version + 1 WHERE id = ? AND state = 'pending' AND version = ?`,
		string(req.State), string(enc.votes), nullableNanos(req.ResolvedAt), req.ID, req.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request %s", req.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request %s: rows affected", req.ID)
	}
	if n == 0 {
		stored, err := s.GetRequest(ctx, req.ID)
		return rejectedUpdate("sqlite", req, stored, err)
	}
	req.Version++
	return nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*model.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM verification_requests WHERE 1=1`
	var args []any

	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var out []*model.VerificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list requests")
		}
		out = append(out, req)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requests rows")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*model.VerificationRequest, error) {
	var (
		r                  model.VerificationRequest
		kind, state        string
		eligible, votes    string
		createdAt, timeout int64
		resolvedAt         sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.ProductID, &kind, &state, &eligible,
		&r.ApproveThreshold, &r.RejectThreshold, &votes,
		&createdAt, &timeout, &resolvedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	r.Kind = model.RequestKind(kind)
	r.State = model.RequestState(state)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.Timeout = time.Duration(timeout)
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64).UTC()
		r.ResolvedAt = &t
	}
	if err := decodeCollections(&r, []byte(eligible), []byte(votes)); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
