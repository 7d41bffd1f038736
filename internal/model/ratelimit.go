package model

import "time"

// Strategy identifies which limiter algorithm owns a rate-limit row.
// One row exists per (subject, strategy) pair.
type Strategy string

const (
	StrategyRegistrationIP Strategy = "registration_ip" // fixed window per IP
	StrategyLoginIP        Strategy = "login_ip"        // token bucket per IP
	StrategyLoginUser      Strategy = "login_user"      // counter + decay per user
)

// RateLimitRecord mirrors the `rate_limits` table. The three strategies
// store their counters in different columns but share the escalation tail
// (BlockedUntil, BlockCount). A row with BlockCount >= 4 and a NULL
// BlockedUntil encodes a permanent block: the escalation ladder was
// exhausted on the fourth violation.
//
// Fields:
//  Subject      – IP or user key the row tracks.
//  Strategy     – which algorithm owns the row.
//  RequestCount – fixed window: attempts inside the open window.
//  WindowStart  – fixed window: when the open window began.
//  Tokens       – token bucket: fractional tokens remaining.
//  LastRefill   – token bucket: last refill timestamp.
//  Failures     – counter+decay: consecutive failures.
//  LastFailure  – counter+decay: timestamp of the latest failure.
//  BlockedUntil – end of a temporary block (NULL when open or permanent).
//  BlockCount   – how many blocks have been applied so far.
type RateLimitRecord struct {
	Subject      string     // rate_limits.subject
	Strategy     Strategy   // rate_limits.strategy
	RequestCount int        // rate_limits.request_count
	WindowStart  time.Time  // rate_limits.window_start
	Tokens       float64    // rate_limits.tokens
	LastRefill   time.Time  // rate_limits.last_refill
	Failures     int        // rate_limits.failures
	LastFailure  time.Time  // rate_limits.last_failure
	BlockedUntil *time.Time // rate_limits.blocked_until (nullable)
	BlockCount   int        // rate_limits.block_count
	UpdatedAt    time.Time  // rate_limits.updated_at
}

// PermanentBlockCount is the escalation count at which a block becomes
// permanent: the ladders hold three durations, so the fourth violation
// (count reaching 4) exhausts them.
const PermanentBlockCount = 4

// BlockKind tags the decoded state of a rate-limit row.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockTemporary
	BlockPermanent
)

// BlockState is the explicit tagged form of the (BlockedUntil, BlockCount)
// column pair. Until is meaningful only for BlockTemporary.
type BlockState struct {
	Kind  BlockKind
	Until time.Time
}

// State decodes the stored escalation tail into a tagged BlockState,
// relative to now. An elapsed temporary block reads as open without any
// row update; the sweeper clears the stale columns later.
func (r *RateLimitRecord) State(now time.Time) BlockState {
	if r.BlockCount >= PermanentBlockCount && r.BlockedUntil == nil {
		return BlockState{Kind: BlockPermanent}
	}
	if r.BlockedUntil != nil && now.Before(*r.BlockedUntil) {
		return BlockState{Kind: BlockTemporary, Until: *r.BlockedUntil}
	}
	return BlockState{Kind: BlockNone}
}
