// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// inspecting driver-specific errors. For example, ErrDuplicate signals
// that a unique constraint rejected an insert, which the idempotency
// service relies on to arbitrate concurrent retries.
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup matches no usable row. For
// session lookups this covers both missing and expired tokens; callers
// treat it as "re-authenticate", never as a server error.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint,
// such as an already-registered email or an idempotency key that another
// request claimed first.
var ErrDuplicate = errors.New("duplicate")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// isDuplicateErr reports whether the driver error is MySQL 1062
// (duplicate entry for a unique key).
func isDuplicateErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
