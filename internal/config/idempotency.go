package config

import "time"

// IdempotencyConfig defines settings for the idempotency capture middleware.
// TTL is the validity window during which a retried key replays the stored
// response.
//
// MaxBodyBytes caps how large a response body may be cached. A response over
// the cap is delivered but NOT cached, so a retry with the same key runs the
// handler again; the middleware logs an error when that happens. The cap must
// therefore be sized above the largest response any idempotent endpoint can
// produce, or the exactly-once guarantee does not hold for that endpoint.
type IdempotencyConfig struct {
	Enabled      bool
	TTL          time.Duration
	MaxBodyBytes int
}

// LoadIdempotencyConfig reads environment variables to build an
// IdempotencyConfig. Defaults are used when variables are not set.
func LoadIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Enabled:      envBool("IDEMPOTENCY_ENABLED", true),
		TTL:          envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		MaxBodyBytes: envInt("IDEMPOTENCY_MAX_BODY_BYTES", 1048576),
	}
}
