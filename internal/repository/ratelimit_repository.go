package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/avridge/accountd/internal/model"
)

// RateLimitRepo owns the rate_limits table. Every state transition is a
// single conditional statement whose WHERE clause re-checks the state it
// assumes, so two concurrent attempts on the same (subject, strategy) row
// are arbitrated by the store via affected-row counts. The application
// never does a bare read-then-write.
//
// Assignment order inside the UPDATEs matters: MySQL evaluates SET
// left-to-right using already-updated values, so the escalation columns
// (blocked_until, block_count) are assigned first, while the counter
// columns they read still hold their pristine values.
type RateLimitRepo struct{ DB *sql.DB }

func NewRateLimitRepo(db *sql.DB) *RateLimitRepo { return &RateLimitRepo{DB: db} }

// openGuard restricts a statement to rows that are neither permanently nor
// currently blocked. Binds: permCount, now.
const openGuard = ` AND NOT (block_count >= ? AND blocked_until IS NULL)
   AND (blocked_until IS NULL OR blocked_until <= ?)`

// ladderCase renders `CASE block_count WHEN i THEN ? ... ELSE 0 END` for a
// ladder and returns the matching duration arguments in seconds. The SQL
// text depends only on the ladder length; the durations travel as binds.
func ladderCase(ladder []time.Duration) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(ladder))
	b.WriteString("CASE block_count")
	for i, d := range ladder {
		b.WriteString(" WHEN ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" THEN ?")
		args = append(args, int64(d/time.Second))
	}
	b.WriteString(" ELSE 0 END")
	return b.String(), args
}

// TakeFixedWindow records one attempt for the fixed-window strategy and
// reports whether it was allowed. On denial the caller reads the row with
// Get to build the verdict.
func (r *RateLimitRepo) TakeFixedWindow(ctx context.Context, subject string, now time.Time, window time.Duration, ceiling int, ladder []time.Duration) (bool, error) {
	strat := string(model.StrategyRegistrationIP)
	windowFloor := now.Add(-window)

	// Count the attempt while the window is open and under the ceiling.
	res, err := r.DB.ExecContext(ctx,
		`UPDATE rate_limits
		    SET request_count = request_count + 1, updated_at = ?
		  WHERE subject = ? AND strategy = ?`+openGuard+`
		    AND window_start > ?
		    AND request_count < ?`,
		now, subject, strat, model.PermanentBlockCount, now, windowFloor, ceiling)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Window rolled over: restart the count at 1.
	res, err = r.DB.ExecContext(ctx,
		`UPDATE rate_limits
		    SET request_count = 1, window_start = ?, updated_at = ?
		  WHERE subject = ? AND strategy = ?`+openGuard+`
		    AND window_start <= ?`,
		now, now, subject, strat, model.PermanentBlockCount, now, windowFloor)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// First attempt ever: the primary key resolves a racing insert.
	res, err = r.DB.ExecContext(ctx,
		`INSERT IGNORE INTO rate_limits (subject, strategy, request_count, window_start, updated_at)
		 VALUES (?,?,1,?,?)`,
		subject, strat, now, now)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Ceiling reached: count the attempt and apply the escalation block in
	// one statement.
	q, args := fixedWindowBlockStmt(subject, now, windowFloor, ceiling, ladder)
	res, err = r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	// Whether we applied the block or lost to a concurrent attempt that
	// did, the verdict is the same.
	return false, nil
}

// bucket refill expression: refreshed token count capped at capacity.
// Binds: capacity, now, refillPerMin.
const refillExpr = `LEAST(?, tokens + (TIMESTAMPDIFF(MICROSECOND, last_refill, ?) / 60000000.0) * ?)`

// decayed failure count after this failure: the streak restarts at 1 when
// the previous failure fell outside the decay horizon. Bind: decayCutoff.
const decayedCountExpr = `IF(last_failure IS NULL OR last_failure < ?, 1, failures + 1)`

// fixedWindowBlockStmt builds the statement that counts an over-ceiling
// attempt and applies the escalation block. The duration is drawn from the
// ladder indexed by the pre-increment block_count; past the ladder the
// block is permanent (blocked_until NULL). Escalation columns are assigned
// before the counters they read.
func fixedWindowBlockStmt(subject string, now, windowFloor time.Time, ceiling int, ladder []time.Duration) (string, []interface{}) {
	caseSQL, caseArgs := ladderCase(ladder)
	args := []interface{}{len(ladder)}
	args = append(args, caseArgs...)
	args = append(args, now, now, subject, string(model.StrategyRegistrationIP), model.PermanentBlockCount, now, windowFloor, ceiling)
	q := `UPDATE rate_limits
	    SET blocked_until = IF(block_count < ?, TIMESTAMPADD(SECOND, ` + caseSQL + `, ?), NULL),
	        block_count   = block_count + 1,
	        request_count = request_count + 1,
	        updated_at    = ?
	  WHERE subject = ? AND strategy = ?` + openGuard + `
	    AND window_start > ?
	    AND request_count >= ?`
	return q, args
}

// tokenBucketBlockStmt builds the statement that escalates an empty bucket.
func tokenBucketBlockStmt(subject string, now time.Time, capacity, refillPerMin float64, ladder []time.Duration) (string, []interface{}) {
	caseSQL, caseArgs := ladderCase(ladder)
	args := []interface{}{len(ladder)}
	args = append(args, caseArgs...)
	args = append(args, now, capacity, now, refillPerMin, now, now, subject, string(model.StrategyLoginIP), model.PermanentBlockCount, now, capacity, now, refillPerMin)
	q := `UPDATE rate_limits
	    SET blocked_until = IF(block_count < ?, TIMESTAMPADD(SECOND, ` + caseSQL + `, ?), NULL),
	        block_count   = block_count + 1,
	        tokens        = ` + refillExpr + `,
	        last_refill   = ?, updated_at = ?
	  WHERE subject = ? AND strategy = ?` + openGuard + `
	    AND ` + refillExpr + ` < 1`
	return q, args
}

// loginFailureStmt builds the combined count/decay/escalate statement for
// an existing failure row. The threshold test uses the post-increment
// value computed from pristine columns, so two concurrent failures cannot
// both sneak under the threshold.
func loginFailureStmt(subject string, now, decayCutoff time.Time, threshold int, ladder []time.Duration) (string, []interface{}) {
	caseSQL, caseArgs := ladderCase(ladder)
	args := []interface{}{decayCutoff, threshold, len(ladder)}
	args = append(args, caseArgs...)
	args = append(args, now, decayCutoff, threshold, decayCutoff, now, now, subject, string(model.StrategyLoginUser), model.PermanentBlockCount, now)
	q := `UPDATE rate_limits
	    SET blocked_until = IF(` + decayedCountExpr + ` >= ?,
	                           IF(block_count < ?, TIMESTAMPADD(SECOND, ` + caseSQL + `, ?), NULL),
	                           blocked_until),
	        block_count   = IF(` + decayedCountExpr + ` >= ?, block_count + 1, block_count),
	        failures      = ` + decayedCountExpr + `,
	        last_failure  = ?, updated_at = ?
	  WHERE subject = ? AND strategy = ?` + openGuard
	return q, args
}

// TakeTokenBucket consumes one token for the bucket strategy and reports
// whether the attempt was allowed. An empty bucket crosses the threshold
// and escalates like every other strategy.
func (r *RateLimitRepo) TakeTokenBucket(ctx context.Context, subject string, now time.Time, capacity, refillPerMin float64, ladder []time.Duration) (bool, error) {
	strat := string(model.StrategyLoginIP)

	// Refill then consume, only if at least one token is available.
	res, err := r.DB.ExecContext(ctx,
		`UPDATE rate_limits
		    SET tokens = `+refillExpr+` - 1,
		        last_refill = ?, updated_at = ?
		  WHERE subject = ? AND strategy = ?`+openGuard+`
		    AND `+refillExpr+` >= 1`,
		capacity, now, refillPerMin, now, now,
		subject, strat, model.PermanentBlockCount, now,
		capacity, now, refillPerMin)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// First attempt: start a full bucket minus this consume.
	res, err = r.DB.ExecContext(ctx,
		`INSERT IGNORE INTO rate_limits (subject, strategy, tokens, last_refill, updated_at)
		 VALUES (?,?,?,?,?)`,
		subject, strat, capacity-1, now, now)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// Bucket empty: escalate. The refill is still applied so the bucket
	// keeps its clock, but no token is consumed.
	q, args := tokenBucketBlockStmt(subject, now, capacity, refillPerMin, ladder)
	_, err = r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return false, nil
}

// RecordLoginFailure registers a failed login for the counter+decay
// strategy. Counting, decay reset and the escalation block all happen in
// one statement: the threshold test uses the post-increment value computed
// from pristine columns, so two concurrent failures cannot both sneak
// under the threshold.
func (r *RateLimitRepo) RecordLoginFailure(ctx context.Context, subject string, now time.Time, decay time.Duration, threshold int, ladder []time.Duration) error {
	strat := string(model.StrategyLoginUser)

	// First failure for this subject.
	res, err := r.DB.ExecContext(ctx,
		`INSERT IGNORE INTO rate_limits (subject, strategy, failures, last_failure, updated_at)
		 VALUES (?,?,1,?,?)`,
		subject, strat, now, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	q, args := loginFailureStmt(subject, now, now.Add(-decay), threshold, ladder)
	_, err = r.DB.ExecContext(ctx, q, args...)
	return err
}

// ResetLoginFailures clears the consecutive-failure counter after a
// successful login. Distinct from decay: success clears immediately.
func (r *RateLimitRepo) ResetLoginFailures(ctx context.Context, subject string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE rate_limits SET failures = 0, updated_at = ? WHERE subject = ? AND strategy = ?`,
		now, subject, string(model.StrategyLoginUser))
	return err
}

// Get loads one rate-limit row.
func (r *RateLimitRepo) Get(ctx context.Context, subject string, strategy model.Strategy) (model.RateLimitRecord, error) {
	var rec model.RateLimitRecord
	var windowStart, lastRefill, lastFailure sql.NullTime
	var blockedUntil sql.NullTime
	var tokens sql.NullFloat64
	err := r.DB.QueryRowContext(ctx,
		`SELECT subject, strategy, request_count, window_start, tokens, last_refill,
		        failures, last_failure, blocked_until, block_count, updated_at
		   FROM rate_limits WHERE subject = ? AND strategy = ? LIMIT 1`,
		subject, string(strategy)).Scan(
		&rec.Subject, &rec.Strategy, &rec.RequestCount, &windowStart, &tokens, &lastRefill,
		&rec.Failures, &lastFailure, &blockedUntil, &rec.BlockCount, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if windowStart.Valid {
		rec.WindowStart = windowStart.Time
	}
	if tokens.Valid {
		rec.Tokens = tokens.Float64
	}
	if lastRefill.Valid {
		rec.LastRefill = lastRefill.Time
	}
	if lastFailure.Valid {
		rec.LastFailure = lastFailure.Time
	}
	if blockedUntil.Valid {
		t := blockedUntil.Time
		rec.BlockedUntil = &t
	}
	return rec, nil
}

// Clear deletes a single rate-limit row. Used by the admin unblock path;
// it also removes permanent blocks.
func (r *RateLimitRepo) Clear(ctx context.Context, subject string, strategy model.Strategy) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE subject = ? AND strategy = ?`,
		subject, string(strategy))
	return err
}

// Sweep deletes stale rows: not permanently blocked, no active block, and
// untouched since the cutoff. Permanent blocks survive every sweep.
func (r *RateLimitRepo) Sweep(ctx context.Context, now, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM rate_limits
		  WHERE NOT (block_count >= ? AND blocked_until IS NULL)
		    AND (blocked_until IS NULL OR blocked_until <= ?)
		    AND updated_at <= ?`,
		model.PermanentBlockCount, now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
