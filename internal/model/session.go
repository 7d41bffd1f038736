package model

import "time"

// RefreshSession models an entry in the `refresh_sessions` table. Each
// session belongs to a user and holds the SHA-256 hash of the refresh
// token; the plain token is never stored. SessionOnly mirrors the cookie
// semantics: a session-only token pairs with a cookie that dies with the
// browser session. UserAgent and IP are audit metadata only.
//
// Fields:
//  ID          – primary key identifier.
//  UserID      – owner of the session.
//  TokenHash   – SHA-256 hex digest of the refresh token.
//  SessionOnly – true when the paired cookie carries no max-age.
//  UserAgent   – client user agent captured at login.
//  IP          – client IP captured at login.
//  ExpiresAt   – expiration timestamp; must be in the future to be usable.
//  CreatedAt   – when the session was created.
//  LastUsedAt  – touched on every refresh (best effort).
type RefreshSession struct {
	ID          uint64    // refresh_sessions.id
	UserID      uint64    // refresh_sessions.user_id
	TokenHash   string    // refresh_sessions.token_hash
	SessionOnly bool      // refresh_sessions.session_only
	UserAgent   string    // refresh_sessions.user_agent
	IP          string    // refresh_sessions.ip
	ExpiresAt   time.Time // refresh_sessions.expires_at
	CreatedAt   time.Time // refresh_sessions.created_at
	LastUsedAt  time.Time // refresh_sessions.last_used_at
}
