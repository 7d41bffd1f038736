package config

import (
	"time"
)

// RateLimitConfig carries the tuning for all three limiter strategies plus
// the shared escalation ladders. Every value can be overridden from the
// environment; the defaults match the production policy.
type RateLimitConfig struct {
	Enabled bool

	// Fixed window: registration attempts per IP.
	RegistrationCeiling int           // attempts allowed per window
	RegistrationWindow  time.Duration // window length
	RegistrationLadder  []time.Duration

	// Token bucket: login attempts per IP. Capacity and per-minute refill
	// are the same number by policy.
	LoginBucketCapacity float64
	LoginRefillPerMin   float64

	// Counter + decay: consecutive login failures per user.
	LoginFailureThreshold int
	LoginFailureDecay     time.Duration
	LoginUserLadder       []time.Duration

	// PermBlockCacheTTL bounds the read-through cache of permanent blocks.
	PermBlockCacheTTL time.Duration

	// CheckTimeout bounds a single limiter round trip to the store; checks
	// that exceed it fail open.
	CheckTimeout time.Duration

	Debug bool
}

// LoadRateLimitConfig reads environment variables to build a RateLimitConfig.
// Ladder entries are fixed policy, not tunables: exhausting a ladder (the
// fourth escalation) makes the block permanent.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:             envBool("RATE_LIMIT_ENABLED", true),
		RegistrationCeiling: envInt("RATE_LIMIT_REGISTRATION_CEILING", 20),
		RegistrationWindow:  envDur("RATE_LIMIT_REGISTRATION_WINDOW", 24*time.Hour),
		RegistrationLadder:  []time.Duration{time.Hour, 24 * time.Hour, 7 * 24 * time.Hour},

		LoginBucketCapacity: 5,
		LoginRefillPerMin:   5,

		LoginFailureThreshold: envInt("RATE_LIMIT_LOGIN_FAILURES", 5),
		LoginFailureDecay:     envDur("RATE_LIMIT_LOGIN_DECAY", 30*time.Minute),
		LoginUserLadder:       []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute},

		PermBlockCacheTTL: envDur("RATE_LIMIT_PERM_CACHE_TTL", time.Minute),
		CheckTimeout:      envDur("RATE_LIMIT_CHECK_TIMEOUT", 2*time.Second),
		Debug:             envBool("RATE_LIMIT_DEBUG", false),
	}
	if cfg.RegistrationCeiling < 1 {
		cfg.RegistrationCeiling = 1
	}
	if cfg.LoginFailureThreshold < 1 {
		cfg.LoginFailureThreshold = 1
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	return cfg
}
