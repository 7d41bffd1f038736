// Package database opens the MySQL pool the repositories run on. Pool
// sizing and the startup connectivity check are driven by configuration
// rather than constants, so deployments can tune them per environment.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/avridge/accountd/internal/config"
)

// buildDSN assembles the driver DSN. parseTime maps DATETIME columns onto
// time.Time and loc=UTC keeps every timestamp comparison in one zone; the
// rate-limit and idempotency statements depend on that.
func buildDSN(user, pass, host, port, name string) string {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)
}

// Open connects to MySQL, applies the configured pool limits and verifies
// connectivity before handing the pool out.
func Open(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
