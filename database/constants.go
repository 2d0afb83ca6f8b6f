package database

import "time"

// Timeframe classes recognized by the engine. Intraday timeframes are
// rescanned on the fast schedule and expire at session close; daily
// and above run once per session close and expire after a configurable
// number of trading days.
const (
	Timeframe5Min  = "5m"
	Timeframe15Min = "15m"
	Timeframe1Hour = "1h"
	Timeframe1Day  = "1d"
	Timeframe1Week = "1w"
)

// IsIntradayTimeframe reports whether a timeframe belongs to the
// intraday scan class.
func IsIntradayTimeframe(tf string) bool {
	switch tf {
	case Timeframe5Min, Timeframe15Min, Timeframe1Hour:
		return true
	}
	return false
}

// Default opportunity validity windows, overridable via config.
const (
	// DefaultDailyValidityTradingDays is how many trading days a daily
	// opportunity stays evaluable before it expires.
	DefaultDailyValidityTradingDays = 10

	// IntradaySessionHours approximates one trading session for
	// intraday expiry when session boundaries are unavailable.
	IntradaySessionHours = 7
)

// Confluence scoring constants (see the aggregator).
const (
	// ConfluenceBonusPerStrategy is added for each distinct agreeing
	// strategy beyond the first.
	ConfluenceBonusPerStrategy = 10.0

	// MaxConfluenceScore caps the final score after regime adjustment.
	MaxConfluenceScore = 100.0
)

// Regime adjustment bounds. The classifier's multiplicative factor is
// clamped into this range before the aggregator applies it.
const (
	MinRegimeAdjustment = 0.8
	MaxRegimeAdjustment = 1.2
)

// Cache TTLs for read-mostly configuration data.
const (
	RulesCacheTTL     = 5 * time.Minute
	EndpointsCacheTTL = 1 * time.Hour
	RegimeCacheTTL    = 15 * time.Minute
)
