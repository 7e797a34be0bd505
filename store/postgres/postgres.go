// Package postgres is a Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	relay "github.com/mark3labs/permit-relay"
	"github.com/mark3labs/permit-relay/store"
)

// Schema creates the request table.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_requests (
	request_id  TEXT PRIMARY KEY,
	merchant    TEXT NOT NULL,
	owner       TEXT NOT NULL,
	spender     TEXT NOT NULL,
	value       NUMERIC(78, 0) NOT NULL,
	nonce       NUMERIC(78, 0) NOT NULL,
	deadline    NUMERIC(78, 0) NOT NULL,
	signature   BYTEA NOT NULL,
	status      TEXT NOT NULL,
	tx_hash     TEXT NOT NULL DEFAULT '',
	payment_id  TEXT,
	fee         TEXT,
	reason      TEXT NOT NULL DEFAULT '',
	error_code  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_requests_status_idx ON payment_requests (status);
`

const columns = `request_id, merchant, owner, spender, value, nonce, deadline, signature,
	status, tx_hash, payment_id, fee, reason, error_code, created_at, updated_at`

// row is the database shape of a PaymentRequest.
type row struct {
	RequestID string         `db:"request_id"`
	Merchant  string         `db:"merchant"`
	Owner     string         `db:"owner"`
	Spender   string         `db:"spender"`
	Value     string         `db:"value"`
	Nonce     string         `db:"nonce"`
	Deadline  string         `db:"deadline"`
	Signature []byte         `db:"signature"`
	Status    string         `db:"status"`
	TxHash    string         `db:"tx_hash"`
	PaymentID sql.NullString `db:"payment_id"`
	Fee       sql.NullString `db:"fee"`
	Reason    string         `db:"reason"`
	ErrorCode string         `db:"error_code"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func toRow(req *relay.PaymentRequest) row {
	r := row{
		RequestID: req.RequestID.Hex(),
		Merchant:  req.Merchant.Hex(),
		Owner:     req.Permit.Owner.Hex(),
		Spender:   req.Permit.Spender.Hex(),
		Value:     intString(req.Permit.Value),
		Nonce:     intString(req.Permit.Nonce),
		Deadline:  intString(req.Permit.Deadline),
		Signature: req.Signature,
		Status:    string(req.Status),
		Reason:    req.Reason,
		ErrorCode: string(req.ErrorCode),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if req.TxHash != (common.Hash{}) {
		r.TxHash = req.TxHash.Hex()
	}
	if req.PaymentID != nil {
		r.PaymentID = sql.NullString{String: req.PaymentID.String(), Valid: true}
	}
	if req.Fee != nil {
		r.Fee = sql.NullString{String: req.Fee.String(), Valid: true}
	}
	return r
}

func (r row) toRequest() (*relay.PaymentRequest, error) {
	req := &relay.PaymentRequest{
		RequestID: common.HexToHash(r.RequestID),
		Merchant:  common.HexToAddress(r.Merchant),
		Permit: relay.PaymentPermit{
			Owner:   common.HexToAddress(r.Owner),
			Spender: common.HexToAddress(r.Spender),
		},
		Signature: r.Signature,
		Status:    relay.Status(r.Status),
		Reason:    r.Reason,
		ErrorCode: relay.ErrorCode(r.ErrorCode),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.TxHash != "" {
		req.TxHash = common.HexToHash(r.TxHash)
	}

	var err error
	if req.Permit.Value, err = parseInt("value", r.Value); err != nil {
		return nil, err
	}
	if req.Permit.Nonce, err = parseInt("nonce", r.Nonce); err != nil {
		return nil, err
	}
	if req.Permit.Deadline, err = parseInt("deadline", r.Deadline); err != nil {
		return nil, err
	}
	if r.PaymentID.Valid {
		if req.PaymentID, err = parseInt("payment_id", r.PaymentID.String); err != nil {
			return nil, err
		}
	}
	if r.Fee.Valid {
		if req.Fee, err = parseInt("fee", r.Fee.String); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid %s %q", field, s)
	}
	return v, nil
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects using a lib/pq DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return New(db), nil
}

// Migrate creates the schema if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, req *relay.PaymentRequest) error {
	r := toRow(req)
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payment_requests (`+columns+`)
		VALUES (:request_id, :merchant, :owner, :spender, :value, :nonce, :deadline, :signature,
			:status, :tx_hash, :payment_id, :fee, :reason, :error_code, :created_at, :updated_at)
		ON CONFLICT (request_id) DO NOTHING`, r)
	if err != nil {
		return fmt.Errorf("postgres: create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: create: %w", err)
	}
	if n == 0 {
		return relay.ErrDuplicateRequest
	}
	return nil
}

func (s *Store) Get(ctx context.Context, requestID common.Hash) (*relay.PaymentRequest, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+columns+` FROM payment_requests WHERE request_id = $1`, requestID.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relay.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return r.toRequest()
}

func (s *Store) Update(ctx context.Context, req *relay.PaymentRequest) error {
	r := toRow(req)
	r.UpdatedAt = s.now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE payment_requests SET
			status = :status, tx_hash = :tx_hash, payment_id = :payment_id, fee = :fee,
			reason = :reason, error_code = :error_code, updated_at = :updated_at
		WHERE request_id = :request_id
			AND status NOT IN ('confirmed', 'reverted', 'expired')`, r)
	if err != nil {
		return fmt.Errorf("postgres: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: the request is either unknown or already final.
	if _, err := s.Get(ctx, req.RequestID); err != nil {
		return err
	}
	return store.ErrTerminal
}

func (s *Store) Delete(ctx context.Context, requestID common.Hash) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payment_requests WHERE request_id = $1`, requestID.Hex())
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	if n == 0 {
		return relay.ErrNotFound
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status relay.Status) ([]*relay.PaymentRequest, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+columns+` FROM payment_requests WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}

	out := make([]*relay.PaymentRequest, 0, len(rows))
	for _, r := range rows {
		req, err := r.toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
