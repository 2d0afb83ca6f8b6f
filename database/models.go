// Package database provides database connection management for the
// opportunity-engine market-scanning backend.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - Repositories for opportunities, alert rules and automation records
//   - Comprehensive error handling and validation
//
// Data Models:
//
//	All data models (Opportunity, AlertRule, AlertEvent, etc.) are defined
//	in the models_pkg package to avoid circular import dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "opportunity-engine/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance. It serves as the central connection point for
// all database operations in the application.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM over a tuned
// lib/pq connection pool.
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	pool, err := openPool(host, port, dbname, user, password)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: pool}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// Type aliases so callers can use database.Opportunity etc. without
// importing models_pkg directly.

type StrategySignal = models.StrategySignal
type Opportunity = models.Opportunity
type AlertRule = models.AlertRule
type RuleEvalState = models.RuleEvalState
type AlertEvent = models.AlertEvent
type AutomationEndpoint = models.AutomationEndpoint
type ExecutionRequest = models.ExecutionRequest
type Watchlist = models.Watchlist
type WatchlistSymbol = models.WatchlistSymbol
type MarketRegime = models.MarketRegime
type OutcomeReportRow = models.OutcomeReportRow
