package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/avridge/accountd/internal/model"
)

// IdempotencyRepo owns the idempotency_keys table. The unique index over
// (idem_key, endpoint, caller) is the arbiter for concurrent retries: the
// claim insert either wins or surfaces ErrDuplicate, and the loser reads
// back the winner's row. No check-then-insert sequencing in the
// application.
type IdempotencyRepo struct{ DB *sql.DB }

func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{DB: db} }

// Claim inserts a pending record (status 0) for the tuple and returns its
// id. A duplicate-key rejection means another request holds or held the
// claim; the caller must Get the existing row to decide between replay and
// in-flight conflict.
func (r *IdempotencyRepo) Claim(ctx context.Context, key, endpoint, caller string, exp time.Time) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO idempotency_keys (idem_key, endpoint, caller, status, body, expires_at)
		 VALUES (?,?,?,0,'',?)`,
		key, endpoint, caller, exp)
	if err != nil {
		if isDuplicateErr(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Get loads the record for a tuple regardless of completion state.
// Expired records read as ErrNotFound.
func (r *IdempotencyRepo) Get(ctx context.Context, key, endpoint, caller string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var completedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, idem_key, endpoint, caller, status, content_type, body, expires_at, created_at, completed_at
		   FROM idempotency_keys
		  WHERE idem_key = ? AND endpoint = ? AND caller = ? LIMIT 1`,
		key, endpoint, caller).Scan(
		&rec.ID, &rec.Key, &rec.Endpoint, &rec.Caller, &rec.Status, &rec.ContentType,
		&rec.Body, &rec.ExpiresAt, &rec.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if !rec.ExpiresAt.After(time.Now().UTC()) {
		return rec, ErrNotFound
	}
	return rec, nil
}

// Complete stores the response on a previously claimed row. Only pending
// rows transition, so a duplicate Complete is a no-op.
func (r *IdempotencyRepo) Complete(ctx context.Context, id uint64, status int, contentType string, body []byte) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE idempotency_keys
		    SET status = ?, content_type = ?, body = ?, completed_at = UTC_TIMESTAMP()
		  WHERE id = ? AND status = 0`,
		status, contentType, body, id)
	return err
}

// Release drops a pending claim so the key can be retried. Used when the
// handler produced a 5xx, which must never be cached.
func (r *IdempotencyRepo) Release(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE id = ? AND status = 0`, id)
	return err
}

// DeleteExpired removes the row for a tuple only if its validity window
// has passed, clearing the unique slot for a fresh claim.
func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, key, endpoint, caller string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM idempotency_keys
		  WHERE idem_key = ? AND endpoint = ? AND caller = ? AND expires_at <= ?`,
		key, endpoint, caller, now)
	return err
}

// Sweep removes expired records.
func (r *IdempotencyRepo) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
