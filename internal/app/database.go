package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers "pgx" driver
	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"fare/internal/config"
)

// NewDatabase opens the PostgreSQL database backing the remote trip store.
// cfg.Driver selects lib/pq ("postgres") or pgx ("pgx"). If nrApp is provided
// and the driver is lib/pq, the New Relic instrumented driver is used instead.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	driver := driverName(cfg.Driver, nrApp != nil)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// ============================================
	// CONNECTION POOL SETTINGS
	// ============================================
	//
	// One process serves one installation, so the pool stays small. Trip
	// writes are single-row and the listing is one indexed query per device.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Rotate connections to survive DB failovers and proxy timeouts.
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Verify connection.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func driverName(configured string, instrumented bool) string {
	switch configured {
	case "pgx":
		return "pgx"
	default:
		if instrumented {
			return "nrpostgres"
		}
		return "postgres"
	}
}
