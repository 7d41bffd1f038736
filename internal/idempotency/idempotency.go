// Package idempotency caches the outcome of mutating requests per
// (key, endpoint, caller) tuple so a retried request replays the original
// response instead of re-executing side effects. The durable store's
// unique index is the arbiter: Begin claims the tuple with an insert, and
// a rejected insert means another request won; the loser either replays
// the winner's stored response or reports an in-flight conflict. There is
// no check-then-insert window.
package idempotency

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/repository"
)

// ErrInFlight signals that the same tuple is being executed right now and
// its response is not committed yet. Callers surface it as a transient
// conflict the client may retry shortly.
var ErrInFlight = errors.New("idempotency: original request still in flight")

// ErrBadKey rejects keys outside the 8–255 url-safe character contract.
var ErrBadKey = errors.New("idempotency: invalid key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.~-]{8,255}$`)

// ValidKey reports whether a client-supplied key satisfies the contract.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }

// Ticket identifies a claim that Begin handed out and Complete settles.
type Ticket struct{ id uint64 }

// Outcome is the tagged result of Begin. When Hit is true the stored
// response must be returned verbatim and the handler must not run.
type Outcome struct {
	Hit         bool
	Status      int
	ContentType string
	Body        []byte
	Ticket      Ticket
}

// Store is the slice of the idempotency repository the service consumes.
type Store interface {
	Claim(ctx context.Context, key, endpoint, caller string, exp time.Time) (uint64, error)
	Get(ctx context.Context, key, endpoint, caller string) (model.IdempotencyRecord, error)
	Complete(ctx context.Context, id uint64, status int, contentType string, body []byte) error
	Release(ctx context.Context, id uint64) error
	DeleteExpired(ctx context.Context, key, endpoint, caller string, now time.Time) error
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Service implements the idempotency cache over a durable store.
type Service struct {
	store Store
	ttl   time.Duration
}

func New(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, ttl: ttl}
}

// Begin resolves a tuple to a replay hit or a fresh claim. The two-pass
// loop exists only to clear a row whose validity window has expired but
// that still occupies the unique slot.
func (s *Service) Begin(ctx context.Context, key, endpoint, caller string) (Outcome, error) {
	if !ValidKey(key) {
		return Outcome{}, ErrBadKey
	}
	now := time.Now().UTC()
	for attempt := 0; attempt < 2; attempt++ {
		id, err := s.store.Claim(ctx, key, endpoint, caller, now.Add(s.ttl))
		if err == nil {
			return Outcome{Ticket: Ticket{id: id}}, nil
		}
		if err != repository.ErrDuplicate {
			return Outcome{}, err
		}
		rec, err := s.store.Get(ctx, key, endpoint, caller)
		if err == repository.ErrNotFound {
			// The occupying row expired; free the slot and re-claim.
			if err := s.store.DeleteExpired(ctx, key, endpoint, caller, now); err != nil {
				return Outcome{}, err
			}
			continue
		}
		if err != nil {
			return Outcome{}, err
		}
		if rec.Pending() {
			return Outcome{}, ErrInFlight
		}
		return Outcome{Hit: true, Status: rec.Status, ContentType: rec.ContentType, Body: rec.Body}, nil
	}
	return Outcome{}, ErrInFlight
}

// Complete settles a claim with the handler's response, content type
// included so replays carry it. Server errors are never cached: a 5xx
// releases the claim so the same key can retry.
func (s *Service) Complete(ctx context.Context, t Ticket, status int, contentType string, body []byte) error {
	if t.id == 0 {
		return nil
	}
	if status >= 500 {
		return s.store.Release(ctx, t.id)
	}
	return s.store.Complete(ctx, t.id, status, contentType, body)
}

// Abandon releases a claim whose handler never produced a response.
func (s *Service) Abandon(ctx context.Context, t Ticket) error {
	if t.id == 0 {
		return nil
	}
	return s.store.Release(ctx, t.id)
}

// Sweep deletes expired records. Invoked by the external scheduler.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.Sweep(ctx, time.Now().UTC())
}
