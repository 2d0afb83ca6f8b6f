package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"opportunity-engine/cache"
	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// AlertDispatcher delivers a fired alert to its configured sinks.
// Implemented by notifications.Dispatcher.
type AlertDispatcher interface {
	Dispatch(alert FiredAlert, state SymbolState)
}

// UniverseSource supplies the symbols a cycle must cover.
type UniverseSource interface {
	GetScanSymbols() ([]string, error)
}

// OpportunityLookup provides the active opportunities of a symbol, for
// reference levels when the cycle produced no fresh signal.
type OpportunityLookup interface {
	GetActiveOpportunities(symbol string, limit int) ([]database.Opportunity, error)
}

const rulesCacheKey = "engine:rules:enabled"

// cycleContext is the immutable input shared by every symbol of one
// scan cycle: rule set, watchlist expansion and regime snapshot are
// loaded once so all symbols see the same view.
type cycleContext struct {
	rules      []models.AlertRule
	watchlists map[int64]map[string]bool
	regime     RegimeSnapshot
	emaPeriods []int
}

// Scanner drives the scan pipeline on cron schedules: collect signals,
// aggregate confluence, refresh opportunity lifecycle, evaluate rules
// and hand fired alerts to the dispatcher.
type Scanner struct {
	intake     *SignalIntake
	aggregator *ConfluenceAggregator
	tracker    *OpportunityTracker
	evaluator  *RuleEvaluator
	dispatcher AlertDispatcher

	rules         EnabledRulesProvider
	watchlistSrc  WatchlistSource
	universe      UniverseSource
	opportunities OpportunityLookup
	regime        RegimeSource
	provider      marketdata.Provider
	redis         *cache.RedisClient

	timeframes     []string
	candleLookback int
	workers        int
	symbolTimeout  time.Duration

	cron *cron.Cron
	mu   sync.Mutex // serializes cycles; an overlapping trigger is skipped
	busy bool
}

// ScannerDeps collects the scanner's collaborators.
type ScannerDeps struct {
	Intake        *SignalIntake
	Aggregator    *ConfluenceAggregator
	Tracker       *OpportunityTracker
	Evaluator     *RuleEvaluator
	Dispatcher    AlertDispatcher
	Rules         EnabledRulesProvider
	Watchlists    WatchlistSource
	Universe      UniverseSource
	Opportunities OpportunityLookup
	Regime        RegimeSource
	Provider      marketdata.Provider
	Redis         *cache.RedisClient
}

// NewScanner wires a scanner over the given dependencies.
func NewScanner(deps ScannerDeps, timeframes []string, candleLookback, workers int, symbolTimeout time.Duration) *Scanner {
	return &Scanner{
		intake:         deps.Intake,
		aggregator:     deps.Aggregator,
		tracker:        deps.Tracker,
		evaluator:      deps.Evaluator,
		dispatcher:     deps.Dispatcher,
		rules:          deps.Rules,
		watchlistSrc:   deps.Watchlists,
		universe:       deps.Universe,
		opportunities:  deps.Opportunities,
		regime:         deps.Regime,
		provider:       deps.Provider,
		redis:          deps.Redis,
		timeframes:     timeframes,
		candleLookback: candleLookback,
		workers:        workers,
		symbolTimeout:  symbolTimeout,
		cron:           cron.New(),
	}
}

// Start registers the scan schedules and starts the cron loop.
// intradaySpec drives the frequent in-session scan, dailySpec the
// after-close scan over daily bars.
func (s *Scanner) Start(intradaySpec, dailySpec string) error {
	if _, err := s.cron.AddFunc(intradaySpec, func() { s.RunCycle(s.timeframes) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(dailySpec, func() { s.RunCycle([]string{database.Timeframe1Day}) }); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("🔄 Scanner started (intraday %q, daily %q)", intradaySpec, dailySpec)

	// Initial pass so a fresh deploy doesn't wait for the first tick.
	go s.RunCycle(s.timeframes)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("🔄 Scanner stopped")
}

// RunCycle executes one full scan over the given timeframes. A cycle
// already in flight makes the trigger a no-op rather than piling up.
func (s *Scanner) RunCycle(timeframes []string) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		log.Println("⚠️  Scan cycle still running, skipping trigger")
		return
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	start := time.Now()

	symbols, err := s.universe.GetScanSymbols()
	if err != nil {
		log.Printf("❌ Failed to load scan universe: %v", err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	cy, err := s.loadCycleContext()
	if err != nil {
		log.Printf("❌ Failed to load cycle context: %v", err)
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				s.scanSymbol(symbol, timeframes, cy)
			}
		}()
	}
	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	log.Printf("✅ Scan cycle complete: %d symbols, %d rules, regime %s, took %v",
		len(symbols), len(cy.rules), cy.regime.Regime, time.Since(start).Round(time.Millisecond))
}

// loadCycleContext builds the cycle's shared view once.
func (s *Scanner) loadCycleContext() (*cycleContext, error) {
	rules, err := s.loadRules()
	if err != nil {
		return nil, err
	}
	return &cycleContext{
		rules:      rules,
		watchlists: ExpandWatchlists(s.watchlistSrc, rules),
		regime:     s.regime.Snapshot(),
		emaPeriods: emaPeriodsOf(rules),
	}, nil
}

// loadRules reads the enabled rule set, cache-aside over redis so the
// frequent intraday schedule doesn't hammer the rules table.
func (s *Scanner) loadRules() ([]models.AlertRule, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cached []models.AlertRule
	if err := s.redis.Get(ctx, rulesCacheKey, &cached); err == nil {
		return cached, nil
	}

	rules, err := s.rules.GetEnabledRules()
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, rulesCacheKey, rules, database.RulesCacheTTL); err != nil {
		log.Printf("⚠️  Failed to cache rules: %v", err)
	}
	return rules, nil
}

// InvalidateRulesCache drops the cached rule set. Called by the API
// after any rule mutation.
func (s *Scanner) InvalidateRulesCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Delete(ctx, rulesCacheKey); err != nil {
		log.Printf("⚠️  Failed to invalidate rules cache: %v", err)
	}
}

// scanSymbol runs the full pipeline for one symbol. Every step is
// contained: a failure here never affects the other symbols.
func (s *Scanner) scanSymbol(symbol string, timeframes []string, cy *cycleContext) {
	ctx, cancel := context.WithTimeout(context.Background(), s.symbolTimeout)
	defer cancel()

	for _, timeframe := range timeframes {
		candles, err := s.provider.GetCandles(ctx, symbol, timeframe, s.candleLookback)
		if err != nil {
			log.Printf("⚠️  Failed to get candles for %s/%s: %v", symbol, timeframe, err)
			continue
		}
		if len(candles) == 0 {
			continue
		}

		signals := s.intake.Collect(ctx, symbol, timeframe, candles)
		aggs := s.aggregator.Aggregate(signals, cy.regime)

		if len(aggs) == 0 {
			// No setup this cycle; exit-style rules (stop hits, EMA
			// exits) still need the price observation.
			s.evaluate(s.bareState(symbol, timeframe, candles, cy), cy)
			continue
		}

		for _, agg := range aggs {
			if _, _, err := s.aggregator.Apply(agg); err != nil {
				log.Printf("⚠️  Failed to apply aggregate for %s/%s: %v", symbol, timeframe, err)
			}
			s.evaluate(s.aggregateState(agg, candles, cy), cy)
		}
	}

	if err := s.tracker.CheckSymbol(ctx, symbol); err != nil {
		log.Printf("⚠️  Lifecycle check failed for %s: %v", symbol, err)
	}
}

// evaluate runs the rule set against one state and dispatches whatever
// fires.
func (s *Scanner) evaluate(state SymbolState, cy *cycleContext) {
	for _, fired := range s.evaluator.EvaluateSymbol(cy.rules, cy.watchlists, state) {
		s.dispatcher.Dispatch(fired, state)
	}
}

// aggregateState builds the rule-evaluation input from a scored
// aggregate, falling back to the tracked opportunity's levels when the
// primary signal carries none.
func (s *Scanner) aggregateState(agg SymbolAggregate, candles []marketdata.Candle, cy *cycleContext) SymbolState {
	state := SymbolState{
		Symbol:     agg.Symbol,
		Timeframe:  agg.Timeframe,
		Stage:      agg.Stage,
		Score:      agg.Score,
		Confluence: agg.StrategyCount,
		Price:      candles[len(candles)-1].Close,
		ObservedAt: candles[len(candles)-1].OpenTime,
		Resistance: agg.Primary.ResistancePrice,
		Stop:       agg.Primary.StopReferencePrice,
		EMA:        emaValues(candles, cy.emaPeriods),
		Signals:    agg.Signals,
	}
	if state.Resistance == nil || state.Stop == nil {
		s.fillLevels(&state)
	}
	return state
}

// bareState is the evaluation input for a symbol with no fresh signal.
func (s *Scanner) bareState(symbol, timeframe string, candles []marketdata.Candle, cy *cycleContext) SymbolState {
	state := SymbolState{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Price:      candles[len(candles)-1].Close,
		ObservedAt: candles[len(candles)-1].OpenTime,
		EMA:        emaValues(candles, cy.emaPeriods),
	}
	s.fillLevels(&state)
	return state
}

// fillLevels copies resistance and stop from the symbol's most recent
// active opportunity.
func (s *Scanner) fillLevels(state *SymbolState) {
	opps, err := s.opportunities.GetActiveOpportunities(state.Symbol, 1)
	if err != nil || len(opps) == 0 {
		return
	}
	if state.Resistance == nil {
		state.Resistance = opps[0].ResistancePrice
	}
	if state.Stop == nil {
		state.Stop = opps[0].StopReferencePrice
	}
}

// emaPeriodsOf collects the distinct EMA periods the rule set needs.
func emaPeriodsOf(rules []models.AlertRule) []int {
	seen := map[int]bool{}
	var out []int
	for _, rule := range rules {
		if rule.ConditionType != models.ConditionEMAExit {
			continue
		}
		period := 21
		if rule.EMAPeriod != nil {
			period = *rule.EMAPeriod
		}
		if !seen[period] {
			seen[period] = true
			out = append(out, period)
		}
	}
	return out
}

// emaValues computes each needed EMA over the candle closes.
func emaValues(candles []marketdata.Candle, periods []int) map[int]float64 {
	if len(periods) == 0 {
		return nil
	}
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	out := make(map[int]float64, len(periods))
	for _, p := range periods {
		out[p] = calculateEMA(prices, p)
	}
	return out
}
