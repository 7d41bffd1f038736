package model

import "time"

// IdempotencyRecord mirrors the `idempotency_keys` table. A record is
// claimed (inserted with a zero status) before its handler runs and
// completed once the response is known; the unique index over
// (idem_key, endpoint, caller) is what resolves concurrent retries.
//
// Fields:
//  ID          – primary key identifier.
//  Key         – client-supplied opaque key (8–255 url-safe chars).
//  Endpoint    – HTTP method + path the key scopes to.
//  Caller      – authenticated user id, or "anon".
//  Status      – stored response status; 0 while still in flight.
//  ContentType – stored response content type, replayed as-is.
//  Body        – stored response body, replayed byte-for-byte.
//  ExpiresAt   – end of the 24h validity window.
//  CreatedAt   – when the claim was inserted.
//  CompletedAt – when the response was stored (nullable).
type IdempotencyRecord struct {
	ID          uint64     // idempotency_keys.id
	Key         string     // idempotency_keys.idem_key
	Endpoint    string     // idempotency_keys.endpoint
	Caller      string     // idempotency_keys.caller
	Status      int        // idempotency_keys.status (0 => pending)
	ContentType string     // idempotency_keys.content_type
	Body        []byte     // idempotency_keys.body
	ExpiresAt   time.Time  // idempotency_keys.expires_at
	CreatedAt   time.Time  // idempotency_keys.created_at
	CompletedAt *time.Time // idempotency_keys.completed_at (nullable)
}

// Pending reports whether the record was claimed but not yet completed.
func (r *IdempotencyRecord) Pending() bool { return r.Status == 0 }
