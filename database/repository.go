package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EngineRepository handles database operations for the opportunity
// engine: opportunities, alert events, watchlists and regime snapshots.
// Alert rules and automation records have their own repositories under
// database/rules and database/automation.
type EngineRepository struct {
	db *Database
}

// NewEngineRepository creates a new engine repository
func NewEngineRepository(db *Database) *EngineRepository {
	return &EngineRepository{db: db}
}

// InitSchema performs auto-migration for all engine tables.
func (r *EngineRepository) InitSchema() error {
	fmt.Println("🔄 Starting database schema initialization...")

	err := r.db.db.AutoMigrate(
		&Opportunity{},
		&AlertRule{},
		&RuleEvalState{},
		&AlertEvent{},
		&AutomationEndpoint{},
		&ExecutionRequest{},
		&Watchlist{},
		&WatchlistSymbol{},
		&MarketRegime{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// Partial unique index enforcing at most one ACTIVE opportunity per
	// dedupe key. GORM tags cannot express the WHERE clause, so it is
	// created manually.
	if err := r.db.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_opportunities_active_dedupe
		ON opportunities (dedupe_key)
		WHERE status = 'ACTIVE'
	`).Error; err != nil {
		return fmt.Errorf("failed to create active dedupe index: %w", err)
	}

	fmt.Println("✅ Database schema initialized")
	return nil
}

// ============================================================================
// Opportunities
// ============================================================================

// GetActiveOpportunityByDedupeKey returns the single ACTIVE opportunity
// for a dedupe key, or nil when none exists.
func (r *EngineRepository) GetActiveOpportunityByDedupeKey(key string) (*Opportunity, error) {
	var opp Opportunity
	err := r.db.db.Where("dedupe_key = ? AND status = ?", key, "ACTIVE").First(&opp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapDBError("GetActiveOpportunityByDedupeKey", err)
	}
	return &opp, nil
}

// SaveOpportunity inserts a new opportunity record.
func (r *EngineRepository) SaveOpportunity(opp *Opportunity) error {
	if err := r.db.db.Create(opp).Error; err != nil {
		return WrapDBError("SaveOpportunity", err)
	}
	return nil
}

// UpdateOpportunity persists mutations on an existing opportunity.
func (r *EngineRepository) UpdateOpportunity(opp *Opportunity) error {
	if err := r.db.db.Save(opp).Error; err != nil {
		return WrapDBError("UpdateOpportunity", err)
	}
	return nil
}

// GetActiveOpportunities returns ACTIVE opportunities, optionally
// filtered by symbol. Limit <= 0 means no limit.
func (r *EngineRepository) GetActiveOpportunities(symbol string, limit int) ([]Opportunity, error) {
	var opps []Opportunity
	query := r.db.db.Where("status = ?", "ACTIVE").Order("detected_at ASC")
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&opps).Error; err != nil {
		return nil, WrapDBError("GetActiveOpportunities", err)
	}
	return opps, nil
}

// GetOpportunities retrieves opportunities with filters for the
// history/report views.
func (r *EngineRepository) GetOpportunities(symbol, strategyID, status string, since time.Time, limit int) ([]Opportunity, error) {
	var opps []Opportunity
	query := r.db.db.Order("detected_at DESC")
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if strategyID != "" {
		query = query.Where("strategy_id = ?", strategyID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if !since.IsZero() {
		query = query.Where("detected_at >= ?", since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&opps).Error; err != nil {
		return nil, WrapDBError("GetOpportunities", err)
	}
	return opps, nil
}

// GetOutcomeReport aggregates resolved opportunities per strategy and
// timeframe since the given time.
func (r *EngineRepository) GetOutcomeReport(since time.Time) ([]OutcomeReportRow, error) {
	var rows []OutcomeReportRow
	query := r.db.db.Model(&Opportunity{}).
		Select(`strategy_id,
			timeframe,
			COUNT(*) AS total,
			SUM(CASE WHEN resolution_outcome = 'BROKE_RESISTANCE' THEN 1 ELSE 0 END) AS broke_resistance,
			SUM(CASE WHEN resolution_outcome = 'INVALIDATED' THEN 1 ELSE 0 END) AS invalidated,
			SUM(CASE WHEN resolution_outcome = 'EXPIRED' THEN 1 ELSE 0 END) AS expired,
			AVG(pnl_percent) AS avg_pnl_percent,
			AVG(days_to_resolution) AS avg_days_to_resolve`).
		Where("status = ?", "RESOLVED").
		Group("strategy_id, timeframe").
		Order("strategy_id, timeframe")
	if !since.IsZero() {
		query = query.Where("resolved_at >= ?", since)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, WrapDBError("GetOutcomeReport", err)
	}
	return rows, nil
}

// ============================================================================
// Alert events
// ============================================================================

// GetAlertEvents retrieves alert events for a user, newest first.
func (r *EngineRepository) GetAlertEvents(userID string, unreadOnly bool, limit int) ([]AlertEvent, error) {
	var events []AlertEvent
	query := r.db.db.Order("created_at DESC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, WrapDBError("GetAlertEvents", err)
	}
	return events, nil
}

// MarkAlertEventRead flips IsRead on a single event. The only mutation
// alert events allow.
func (r *EngineRepository) MarkAlertEventRead(id int64) error {
	result := r.db.db.Model(&AlertEvent{}).Where("id = ?", id).Update("is_read", true)
	if result.Error != nil {
		return WrapDBError("MarkAlertEventRead", result.Error)
	}
	if result.RowsAffected == 0 {
		return NewNotFoundError("alert event", id)
	}
	return nil
}

// ============================================================================
// Watchlists
// ============================================================================

// GetWatchlistSymbols expands a watchlist into its symbol set.
func (r *EngineRepository) GetWatchlistSymbols(watchlistID int64) ([]string, error) {
	var symbols []string
	err := r.db.db.Model(&WatchlistSymbol{}).
		Where("watchlist_id = ?", watchlistID).
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, WrapDBError("GetWatchlistSymbols", err)
	}
	return symbols, nil
}

// GetScanSymbols returns the distinct symbols a scan cycle must cover:
// every watchlist member plus every symbol still carrying an active
// opportunity, so tracking continues after a symbol leaves a list.
func (r *EngineRepository) GetScanSymbols() ([]string, error) {
	var symbols []string
	err := r.db.db.Raw(
		"SELECT symbol FROM watchlist_symbols UNION SELECT symbol FROM opportunities WHERE status = ?",
		"ACTIVE",
	).Scan(&symbols).Error
	if err != nil {
		return nil, WrapDBError("GetScanSymbols", err)
	}
	return symbols, nil
}

// ============================================================================
// Market regime
// ============================================================================

// SaveMarketRegime persists a regime snapshot.
func (r *EngineRepository) SaveMarketRegime(regime *MarketRegime) error {
	if err := r.db.db.Create(regime).Error; err != nil {
		return WrapDBError("SaveMarketRegime", err)
	}
	return nil
}

// GetLatestRegime returns the most recent regime snapshot, or nil when
// none has been recorded yet.
func (r *EngineRepository) GetLatestRegime() (*MarketRegime, error) {
	var regime MarketRegime
	err := r.db.db.Order("detected_at DESC").First(&regime).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapDBError("GetLatestRegime", err)
	}
	return &regime, nil
}
