package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time provides the Duration type for TTL settings
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Durations are parsed into typed values up front
// so nothing downstream ever assembles an interval out of strings.
type Config struct {
	Env                string        // application environment (e.g. "dev", "prod")
	Port               string        // HTTP port to listen on
	DBUser             string        // database username
	DBPass             string        // database password (optional)
	DBHost             string        // database host address
	DBPort             string        // database port number
	DBName             string        // database name
	JWTSecret          string        // secret used to sign access and refresh tokens
	AccessTTL          time.Duration // access token time-to-live (fixed, short)
	RefreshTTL         time.Duration // refresh token time-to-live when "stay logged in"
	RefreshFallbackTTL time.Duration // hard ceiling for session-only refresh tokens
	BcryptCost         int           // bcrypt cost for password hashing
	SentryDSN          string        // optional Sentry DSN for error reporting
	SweepInterval      time.Duration // how often the background sweeper runs
	DBMaxOpenConns     int           // connection pool ceiling
	DBMaxIdleConns     int           // idle connections kept warm
	DBConnMaxLifetime  time.Duration // recycle connections after this age
	DBPingTimeout      time.Duration // startup connectivity check bound
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:                must("APP_ENV"),      // environment (dev/test/prod)
		Port:               must("APP_PORT"),     // port to bind the HTTP server
		DBUser:             must("DB_USER"),      // database user
		DBPass:             os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:             must("DB_HOST"),      // database host
		DBPort:             must("DB_PORT"),      // database port
		DBName:             must("DB_NAME"),      // database name
		JWTSecret:          must("JWT_SECRET"),   // secret used for signing tokens
		AccessTTL:          time.Duration(mustInt("ACCESS_TOKEN_TTL_MIN")) * time.Minute,
		RefreshTTL:         time.Duration(mustInt("REFRESH_TOKEN_TTL_DAYS")) * 24 * time.Hour,
		RefreshFallbackTTL: envDur("REFRESH_TOKEN_FALLBACK_TTL", 24*time.Hour),
		BcryptCost:         mustInt("BCRYPT_COST"),
		SentryDSN:          os.Getenv("SENTRY_DSN"), // empty disables reporting
		SweepInterval:      envDur("SWEEP_INTERVAL", 5*time.Minute),
		DBMaxOpenConns:     envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:     envInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime:  envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBPingTimeout:      envDur("DB_PING_TIMEOUT", 5*time.Second),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
