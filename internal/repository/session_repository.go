package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/avridge/accountd/internal/model"
)

// SessionRepo persists refresh sessions. Only the SHA-256 hash of a token
// is ever written; the raw value exists solely in the client's cookie.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// SessionMeta is the audit metadata captured when a session is created.
type SessionMeta struct {
	UserAgent string
	IP        string
}

// Create inserts a refresh session row for an already-hashed token.
// token_hash carries a unique index, so storing the same token twice fails
// with ErrDuplicate.
func (r *SessionRepo) Create(ctx context.Context, userID uint64, tokenHash string, sessionOnly bool, exp time.Time, meta SessionMeta) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_sessions (user_id, token_hash, session_only, user_agent, ip, expires_at, last_used_at) VALUES (?,?,?,?,?,?,UTC_TIMESTAMP())",
		userID, tokenHash, sessionOnly, meta.UserAgent, meta.IP, exp)
	if err != nil && isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// FindValid looks a session up by token hash and rejects expired rows.
// A miss means "re-authenticate"; it is never escalated as a server error.
func (r *SessionRepo) FindValid(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var s model.RefreshSession
	var lastUsed sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, session_only, user_agent, ip, expires_at, created_at, last_used_at FROM refresh_sessions WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.SessionOnly, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if lastUsed.Valid {
		s.LastUsedAt = lastUsed.Time
	}
	if !s.ExpiresAt.After(time.Now().UTC()) {
		return s, ErrNotFound
	}
	return s, nil
}

// Touch updates last_used_at. Best effort: refresh works even if this
// write is lost.
func (r *SessionRepo) Touch(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET last_used_at=UTC_TIMESTAMP() WHERE id=?", id)
	return err
}

// RevokeByHash deletes a single session.
func (r *SessionRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_sessions WHERE token_hash=?", tokenHash)
	return err
}

// RevokeAllForUser deletes every session owned by the user. Invoked on
// logout-everywhere, password change and account deactivation.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_sessions WHERE user_id=?", userID)
	return err
}

// Sweep removes expired sessions. Called by the background sweeper.
func (r *SessionRepo) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
