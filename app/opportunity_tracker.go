package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// PriceSource supplies the current price for resolution checks.
type PriceSource interface {
	GetLatestPrice(ctx context.Context, symbol string) (marketdata.Quote, error)
}

// TrackerStore is the persistence surface the tracker needs.
type TrackerStore interface {
	GetActiveOpportunities(symbol string, limit int) ([]database.Opportunity, error)
	UpdateOpportunity(opp *database.Opportunity) error
}

// Excursion is the running favorable/adverse move of one active
// opportunity relative to its detected price. Held in memory and
// exposed through aggregate reporting, never persisted on the record.
type Excursion struct {
	MaxFavorablePercent float64
	MaxAdversePercent   float64
}

// OpportunityTracker owns opportunities from ACTIVE to RESOLVED,
// applying resolution rules on each market-data refresh.
type OpportunityTracker struct {
	repo              TrackerStore
	prices            PriceSource
	dailyValidityDays int
	sessionWindow     time.Duration
	now               func() time.Time

	mu         sync.Mutex
	excursions map[int64]*Excursion
}

// NewOpportunityTracker creates a tracker with the given validity
// windows.
func NewOpportunityTracker(repo TrackerStore, prices PriceSource, dailyValidityDays int) *OpportunityTracker {
	if dailyValidityDays <= 0 {
		dailyValidityDays = database.DefaultDailyValidityTradingDays
	}
	return &OpportunityTracker{
		repo:              repo,
		prices:            prices,
		dailyValidityDays: dailyValidityDays,
		sessionWindow:     database.IntradaySessionHours * time.Hour,
		now:               time.Now,
		excursions:        make(map[int64]*Excursion),
	}
}

// CheckSymbol fetches one price for the symbol and runs resolution
// checks over all its active opportunities. When market data is
// unavailable the opportunities stay ACTIVE untouched; they are never
// auto-resolved on missing data.
func (ot *OpportunityTracker) CheckSymbol(ctx context.Context, symbol string) error {
	opps, err := ot.repo.GetActiveOpportunities(symbol, 0)
	if err != nil {
		return err
	}
	if len(opps) == 0 {
		return nil
	}

	quote, err := ot.prices.GetLatestPrice(ctx, symbol)
	if err != nil {
		var unavailable *marketdata.UnavailableError
		if errors.As(err, &unavailable) {
			log.Printf("⚠️  Skipping resolution for %s this cycle: %v", symbol, err)
			return nil
		}
		return err
	}

	for i := range opps {
		opp := &opps[i]
		if !ot.Refresh(opp, quote.Price) {
			continue
		}
		if err := ot.repo.UpdateOpportunity(opp); err != nil {
			log.Printf("❌ Failed to persist resolution of opportunity %d (%s): %v", opp.ID, opp.Symbol, err)
			continue
		}
		log.Printf("✅ Opportunity %d (%s/%s) resolved %s at %.2f (%.2f%%)",
			opp.ID, opp.Symbol, opp.Timeframe, *opp.ResolutionOutcome, *opp.ResolutionPrice, *opp.PnlPercent)
	}
	return nil
}

// Refresh applies one price refresh to an opportunity, mutating it in
// place. Returns true when the refresh resolved it.
//
// Check order is fixed: stop before resistance, so a tick straddling
// both levels deterministically resolves to the more conservative
// INVALIDATED outcome. Expiry runs only when neither level is breached.
func (ot *OpportunityTracker) Refresh(opp *database.Opportunity, price float64) bool {
	if opp.Status != models.OpportunityActive {
		return false
	}
	now := ot.now()

	if opp.StopReferencePrice != nil && price <= *opp.StopReferencePrice {
		ot.resolve(opp, models.OutcomeInvalidated, price, now)
		return true
	}

	if opp.ResistancePrice != nil && price >= *opp.ResistancePrice {
		ot.resolve(opp, models.OutcomeBrokeResistance, price, now)
		return true
	}

	if ot.expired(opp, now) {
		ot.resolve(opp, models.OutcomeExpired, price, now)
		return true
	}

	ot.trackExcursion(opp, price)
	return false
}

// expired applies the timeframe-dependent validity window.
func (ot *OpportunityTracker) expired(opp *database.Opportunity, now time.Time) bool {
	if database.IsIntradayTimeframe(opp.Timeframe) {
		return now.Sub(opp.DetectedAt) > ot.sessionWindow
	}
	return tradingDaysBetween(opp.DetectedAt, now) > ot.dailyValidityDays
}

// resolve finalizes the opportunity. All resolution fields are set
// together so a RESOLVED row is never partially populated.
func (ot *OpportunityTracker) resolve(opp *database.Opportunity, outcome string, price float64, now time.Time) {
	pnl := (price - opp.DetectedPrice) / opp.DetectedPrice * 100
	if opp.ShortStyle {
		pnl = -pnl
	}
	days := int(now.Sub(opp.DetectedAt).Hours() / 24)

	opp.Status = models.OpportunityResolved
	opp.ResolutionOutcome = &outcome
	opp.ResolvedAt = &now
	opp.ResolutionPrice = &price
	opp.PnlPercent = &pnl
	opp.DaysToResolution = &days

	ot.mu.Lock()
	delete(ot.excursions, opp.ID)
	ot.mu.Unlock()
}

// trackExcursion updates the running favorable/adverse extremes.
func (ot *OpportunityTracker) trackExcursion(opp *database.Opportunity, price float64) {
	move := (price - opp.DetectedPrice) / opp.DetectedPrice * 100
	if opp.ShortStyle {
		move = -move
	}

	ot.mu.Lock()
	defer ot.mu.Unlock()
	exc, ok := ot.excursions[opp.ID]
	if !ok {
		exc = &Excursion{}
		ot.excursions[opp.ID] = exc
	}
	if move > exc.MaxFavorablePercent {
		exc.MaxFavorablePercent = move
	}
	if move < exc.MaxAdversePercent {
		exc.MaxAdversePercent = move
	}
}

// ExcursionSnapshot copies the current excursion map for reporting.
func (ot *OpportunityTracker) ExcursionSnapshot() map[int64]Excursion {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	out := make(map[int64]Excursion, len(ot.excursions))
	for id, exc := range ot.excursions {
		out[id] = *exc
	}
	return out
}

// tradingDaysBetween counts weekdays elapsed between two times.
// A holiday calendar would tighten this; weekends cover the common
// case.
func tradingDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	days := 0
	cursor := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	for cursor.Before(end) {
		cursor = cursor.AddDate(0, 0, 1)
		if wd := cursor.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}
