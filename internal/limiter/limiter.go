// Package limiter enforces the three abuse-control strategies behind the
// API: a fixed window for registration per IP, a token bucket for login
// per IP, and a consecutive-failure counter with decay for login per user.
// All three share one escalation policy: each threshold violation draws a
// block duration from the strategy's ladder, and exhausting the ladder
// makes the block permanent.
//
// The durable store arbitrates every counter transition; this package only
// decides verdicts from what the store reports. When the store cannot be
// reached within the check timeout the limiter fails open: the store also
// backs authentication, so an outage must degrade to best-effort
// availability rather than total lockout.
package limiter

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/repository"
)

// Decision is the verdict for a single attempt. RetryAfter is in seconds
// and set only for temporary blocks; permanent blocks carry no retry hint.
type Decision struct {
	Allowed    bool
	RetryAfter int
	Permanent  bool
}

var allowed = Decision{Allowed: true}

// Store is the slice of the rate-limit repository the limiter consumes.
type Store interface {
	TakeFixedWindow(ctx context.Context, subject string, now time.Time, window time.Duration, ceiling int, ladder []time.Duration) (bool, error)
	TakeTokenBucket(ctx context.Context, subject string, now time.Time, capacity, refillPerMin float64, ladder []time.Duration) (bool, error)
	RecordLoginFailure(ctx context.Context, subject string, now time.Time, decay time.Duration, threshold int, ladder []time.Duration) error
	ResetLoginFailures(ctx context.Context, subject string, now time.Time) error
	Get(ctx context.Context, subject string, strategy model.Strategy) (model.RateLimitRecord, error)
	Clear(ctx context.Context, subject string, strategy model.Strategy) error
	Sweep(ctx context.Context, now, cutoff time.Time) (int64, error)
}

// BlockCache is the short-lived read-through cache of permanent blocks.
// It is purely a performance shortcut: a nil cache degrades to querying
// the store, never to "assume not blocked". Temporary blocks are never
// cached because their deadline moves.
type BlockCache interface {
	Get(ctx context.Context, subject string, strategy model.Strategy) (permanent bool, ok bool)
	Set(ctx context.Context, subject string, strategy model.Strategy, permanent bool)
	Delete(ctx context.Context, subject string, strategy model.Strategy)
}

// Limiter composes the store, the optional block cache and the policy
// configuration. OnPermanentBlock, when set, is invoked after a subject
// newly exhausts its ladder.
type Limiter struct {
	cfg              config.RateLimitConfig
	store            Store
	cache            BlockCache
	OnPermanentBlock func(subject string, strategy model.Strategy)
}

func New(cfg config.RateLimitConfig, store Store, cache BlockCache) *Limiter {
	return &Limiter{cfg: cfg, store: store, cache: cache}
}

// CheckRegistration counts one registration attempt from the IP and
// returns the verdict.
func (l *Limiter) CheckRegistration(ctx context.Context, ip string) Decision {
	if !l.cfg.Enabled {
		return allowed
	}
	if d, done := l.cachedVerdict(ctx, ip, model.StrategyRegistrationIP); done {
		return d
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CheckTimeout)
	defer cancel()

	now := time.Now().UTC()
	ok, err := l.store.TakeFixedWindow(ctx, ip, now, l.cfg.RegistrationWindow, l.cfg.RegistrationCeiling, l.cfg.RegistrationLadder)
	if err != nil {
		log.Printf("limiter: fixed-window take failed for ip=%s, failing open: %v", ip, err)
		return allowed
	}
	if ok {
		l.cacheSet(ctx, ip, model.StrategyRegistrationIP, false)
		return allowed
	}
	return l.deniedVerdict(ctx, ip, model.StrategyRegistrationIP, now)
}

// CheckLoginIP consumes one token from the IP's login bucket and returns
// the verdict.
func (l *Limiter) CheckLoginIP(ctx context.Context, ip string) Decision {
	if !l.cfg.Enabled {
		return allowed
	}
	if d, done := l.cachedVerdict(ctx, ip, model.StrategyLoginIP); done {
		return d
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CheckTimeout)
	defer cancel()

	now := time.Now().UTC()
	ok, err := l.store.TakeTokenBucket(ctx, ip, now, l.cfg.LoginBucketCapacity, l.cfg.LoginRefillPerMin, l.cfg.LoginUserLadder)
	if err != nil {
		log.Printf("limiter: token-bucket take failed for ip=%s, failing open: %v", ip, err)
		return allowed
	}
	if ok {
		l.cacheSet(ctx, ip, model.StrategyLoginIP, false)
		return allowed
	}
	return l.deniedVerdict(ctx, ip, model.StrategyLoginIP, now)
}

// CheckLoginUser reads the failure-counter state for the username without
// mutating it. Counting happens in RecordLoginFailure after the handler
// learns the outcome.
func (l *Limiter) CheckLoginUser(ctx context.Context, username string) Decision {
	if !l.cfg.Enabled {
		return allowed
	}
	if d, done := l.cachedVerdict(ctx, username, model.StrategyLoginUser); done {
		return d
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CheckTimeout)
	defer cancel()

	now := time.Now().UTC()
	rec, err := l.store.Get(ctx, username, model.StrategyLoginUser)
	if err == repository.ErrNotFound {
		return allowed
	}
	if err != nil {
		log.Printf("limiter: state read failed for user=%s, failing open: %v", username, err)
		return allowed
	}
	return l.verdictFromState(ctx, rec, now)
}

// RecordLoginFailure counts one failed login for the username. Errors are
// logged; a lost count is preferable to failing the response.
func (l *Limiter) RecordLoginFailure(ctx context.Context, username string) {
	if !l.cfg.Enabled {
		return
	}
	now := time.Now().UTC()
	if err := l.store.RecordLoginFailure(ctx, username, now, l.cfg.LoginFailureDecay, l.cfg.LoginFailureThreshold, l.cfg.LoginUserLadder); err != nil {
		log.Printf("limiter: record failure for user=%s: %v", username, err)
		return
	}
	// A failure may have just exhausted the ladder; refresh the cache and
	// fire the permanent-block notification through the usual path.
	if rec, err := l.store.Get(ctx, username, model.StrategyLoginUser); err == nil {
		_ = l.verdictFromState(ctx, rec, now)
	}
}

// RecordLoginSuccess clears the consecutive-failure history immediately.
func (l *Limiter) RecordLoginSuccess(ctx context.Context, username string) {
	if !l.cfg.Enabled {
		return
	}
	if err := l.store.ResetLoginFailures(ctx, username, time.Now().UTC()); err != nil {
		log.Printf("limiter: reset failures for user=%s: %v", username, err)
	}
}

// Unblock removes the rate-limit row for a subject, including permanent
// blocks, and drops the cached verdict.
func (l *Limiter) Unblock(ctx context.Context, subject string, strategy model.Strategy) error {
	if err := l.store.Clear(ctx, subject, strategy); err != nil {
		return err
	}
	if l.cache != nil {
		l.cache.Delete(ctx, subject, strategy)
	}
	return nil
}

// Sweep clears stale rows. Exposed as a plain operation for the external
// scheduler; the limiter never schedules itself.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	return l.store.Sweep(ctx, now, now.Add(-l.cfg.RegistrationWindow))
}

// cachedVerdict consults the block cache. It only ever short-circuits on a
// cached permanent block; everything else falls through to the store.
func (l *Limiter) cachedVerdict(ctx context.Context, subject string, strategy model.Strategy) (Decision, bool) {
	if l.cache == nil {
		return Decision{}, false
	}
	if permanent, ok := l.cache.Get(ctx, subject, strategy); ok && permanent {
		return Decision{Permanent: true}, true
	}
	return Decision{}, false
}

func (l *Limiter) cacheSet(ctx context.Context, subject string, strategy model.Strategy, permanent bool) {
	if l.cache != nil {
		l.cache.Set(ctx, subject, strategy, permanent)
	}
}

// deniedVerdict loads the row after a denied take and decodes it.
func (l *Limiter) deniedVerdict(ctx context.Context, subject string, strategy model.Strategy, now time.Time) Decision {
	rec, err := l.store.Get(ctx, subject, strategy)
	if err != nil {
		log.Printf("limiter: verdict read failed for subject=%s strategy=%s: %v", subject, strategy, err)
		return Decision{RetryAfter: 60}
	}
	return l.verdictFromState(ctx, rec, now)
}

func (l *Limiter) verdictFromState(ctx context.Context, rec model.RateLimitRecord, now time.Time) Decision {
	switch st := rec.State(now); st.Kind {
	case model.BlockPermanent:
		known := false
		if l.cache != nil {
			if p, ok := l.cache.Get(ctx, rec.Subject, rec.Strategy); ok && p {
				known = true
			}
		}
		if !known {
			l.cacheSet(ctx, rec.Subject, rec.Strategy, true)
			l.notifyPermanent(rec.Subject, rec.Strategy)
		}
		return Decision{Permanent: true}
	case model.BlockTemporary:
		secs := int(math.Ceil(st.Until.Sub(now).Seconds()))
		if secs < 1 {
			secs = 1
		}
		return Decision{RetryAfter: secs}
	default:
		// A concurrent unblock or sweep reopened the row between the
		// denied take and this read; let the attempt through.
		return allowed
	}
}

func (l *Limiter) notifyPermanent(subject string, strategy model.Strategy) {
	if l.OnPermanentBlock != nil {
		l.OnPermanentBlock(subject, strategy)
	}
}
