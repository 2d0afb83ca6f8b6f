package app

import (
	"fmt"
	"log"
	"strings"
	"time"

	models "opportunity-engine/database/models_pkg"
)

// SymbolState is the evaluated condition input for one symbol in one
// cycle: the latest aggregator/tracker output plus reference levels.
type SymbolState struct {
	Symbol     string
	Timeframe  string
	Stage      string
	Score      float64
	Confluence int
	Price      float64
	ObservedAt time.Time
	Resistance *float64
	Stop       *float64
	EMA        map[int]float64 // indicator values per period, for EMA_EXIT rules
	Signals    []models.StrategySignal
}

// RuleStateStore is the persistence surface the evaluator needs.
// Implemented by rules.Repository; faked in tests.
type RuleStateStore interface {
	GetEvalState(ruleID int64, symbol string) (*models.RuleEvalState, error)
	UpsertEvalState(state *models.RuleEvalState) error
	FireAlert(state *models.RuleEvalState, event *models.AlertEvent) (bool, error)
}

// FiredAlert pairs a created alert event with the rule that produced
// it, for the dispatch coordinator.
type FiredAlert struct {
	Rule  models.AlertRule
	Event *models.AlertEvent
}

// RuleEvaluator matches symbol states against stored alert rules.
// Rules are edge-triggered: an event fires only on the transition into
// the matching condition, never while it merely remains true.
type RuleEvaluator struct {
	store RuleStateStore
	now   func() time.Time
}

// NewRuleEvaluator creates an evaluator over the given state store.
func NewRuleEvaluator(store RuleStateStore) *RuleEvaluator {
	return &RuleEvaluator{store: store, now: time.Now}
}

// EvaluateSymbol runs every applicable rule against one symbol's
// state. watchlists is the cycle's immutable watchlist expansion. One
// rule's failure never blocks the others.
func (re *RuleEvaluator) EvaluateSymbol(rules []models.AlertRule, watchlists map[int64]map[string]bool, state SymbolState) []FiredAlert {
	var fired []FiredAlert

	for i := range rules {
		rule := rules[i]
		if !RuleMatches(rule, state, watchlists) {
			continue
		}

		alert, err := re.evaluateRule(rule, state)
		if err != nil {
			log.Printf("⚠️  %v", &RuleEvaluationError{RuleID: rule.ID, Err: err})
			continue
		}
		if alert != nil {
			fired = append(fired, FiredAlert{Rule: rule, Event: alert})
		}
	}

	return fired
}

// evaluateRule applies edge-triggering and cooldown for one rule
// against one symbol, persisting the new state either way.
func (re *RuleEvaluator) evaluateRule(rule models.AlertRule, state SymbolState) (*models.AlertEvent, error) {
	prev, err := re.store.GetEvalState(rule.ID, state.Symbol)
	if err != nil {
		return nil, err
	}

	next := &models.RuleEvalState{
		RuleID:         rule.ID,
		Symbol:         state.Symbol,
		LastStage:      state.Stage,
		LastScore:      state.Score,
		LastConfluence: state.Confluence,
		LastPrice:      state.Price,
	}
	if prev != nil {
		next.LastTriggeredAt = prev.LastTriggeredAt
	}

	// First observation is the baseline: record it, never fire on it.
	fires := prev != nil && QualifiesTransition(rule, *prev, state)

	if fires && re.inCooldown(rule, prev) {
		log.Printf("🔇 Rule %d suppressed for %s: within cooldown window", rule.ID, state.Symbol)
		fires = false
	}

	if !fires {
		return nil, re.store.UpsertEvalState(next)
	}

	event := re.buildEvent(rule, state)
	created, err := re.store.FireAlert(next, event)
	if err != nil {
		return nil, err
	}
	if !created {
		// Replay of an already-fired transition (crash recovery).
		return nil, nil
	}
	return event, nil
}

// inCooldown checks whether the symbol fired recently for this rule.
func (re *RuleEvaluator) inCooldown(rule models.AlertRule, prev *models.RuleEvalState) bool {
	if prev == nil || prev.LastTriggeredAt == nil || rule.CooldownMinutes <= 0 {
		return false
	}
	return re.now().Sub(*prev.LastTriggeredAt) < time.Duration(rule.CooldownMinutes)*time.Minute
}

// buildEvent materializes the alert event for a qualified transition.
// The idempotency key binds (rule, symbol, transition timestamp) so a
// replay cannot create a duplicate.
func (re *RuleEvaluator) buildEvent(rule models.AlertRule, state SymbolState) *models.AlertEvent {
	ruleID := rule.ID
	return &models.AlertEvent{
		IdempotencyKey: fmt.Sprintf("%d:%s:%d", rule.ID, state.Symbol, state.ObservedAt.Unix()),
		RuleID:         &ruleID,
		UserID:         rule.UserID,
		Symbol:         state.Symbol,
		Type:           rule.ConditionType,
		Message:        eventMessage(rule, state),
		Price:          state.Price,
		TargetPrice:    state.Resistance,
		StopPrice:      state.Stop,
	}
}

// RuleMatches decides whether a rule's universe and filters cover the
// symbol state.
func RuleMatches(rule models.AlertRule, state SymbolState, watchlists map[int64]map[string]bool) bool {
	switch {
	case rule.Symbol != nil:
		if *rule.Symbol != state.Symbol {
			return false
		}
	case rule.WatchlistID != nil:
		members := watchlists[*rule.WatchlistID]
		if !members[state.Symbol] {
			return false
		}
	default:
		if rule.OwnerScope != "global" {
			return false
		}
	}

	if rule.Timeframe != "" && rule.Timeframe != state.Timeframe {
		return false
	}

	if rule.Strategies != "" {
		wanted := strings.Split(rule.Strategies, ",")
		found := false
		for _, sig := range state.Signals {
			for _, w := range wanted {
				if strings.TrimSpace(w) == sig.StrategyID {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// QualifiesTransition reports whether the move from prev to state
// enters the rule's condition. Pure; exercised directly by tests.
func QualifiesTransition(rule models.AlertRule, prev models.RuleEvalState, state SymbolState) bool {
	switch rule.ConditionType {
	case models.ConditionStageEntered:
		if rule.TargetStage == nil {
			return false
		}
		return prev.LastStage != *rule.TargetStage && state.Stage == *rule.TargetStage

	case models.ConditionScoreThreshold:
		if rule.ScoreThreshold == nil {
			return false
		}
		return prev.LastScore < *rule.ScoreThreshold && state.Score >= *rule.ScoreThreshold

	case models.ConditionConfluenceThreshold:
		if rule.MinStrategies == nil {
			return false
		}
		return prev.LastConfluence < *rule.MinStrategies && state.Confluence >= *rule.MinStrategies

	case models.ConditionApproaching:
		if state.Resistance == nil || *state.Resistance <= 0 || state.Price >= *state.Resistance {
			return false
		}
		proximity := 2.0
		if rule.ProximityPercent != nil {
			proximity = *rule.ProximityPercent
		}
		prevDist := distanceBelowPercent(prev.LastPrice, *state.Resistance)
		curDist := distanceBelowPercent(state.Price, *state.Resistance)
		return prevDist > proximity && curDist <= proximity

	case models.ConditionStopHit:
		if state.Stop == nil {
			return false
		}
		return prev.LastPrice > *state.Stop && state.Price <= *state.Stop

	case models.ConditionEMAExit:
		period := 21
		if rule.EMAPeriod != nil {
			period = *rule.EMAPeriod
		}
		ema, ok := state.EMA[period]
		if !ok || ema <= 0 {
			return false
		}
		return prev.LastPrice >= ema && state.Price < ema
	}

	return false
}

// distanceBelowPercent is how far price sits under the level, as a
// percentage of the level.
func distanceBelowPercent(price, level float64) float64 {
	return (level - price) / level * 100
}

// eventMessage renders the user-facing alert line.
func eventMessage(rule models.AlertRule, state SymbolState) string {
	switch rule.ConditionType {
	case models.ConditionStageEntered:
		return fmt.Sprintf("🎯 %s entered %s on %s (score %.0f)", state.Symbol, state.Stage, state.Timeframe, state.Score)
	case models.ConditionScoreThreshold:
		return fmt.Sprintf("📊 %s score reached %.0f on %s", state.Symbol, state.Score, state.Timeframe)
	case models.ConditionConfluenceThreshold:
		return fmt.Sprintf("🤝 %d strategies agree on %s/%s", state.Confluence, state.Symbol, state.Timeframe)
	case models.ConditionApproaching:
		return fmt.Sprintf("👀 %s approaching resistance at %s", state.Symbol, formatLevel(state.Resistance))
	case models.ConditionStopHit:
		return fmt.Sprintf("🛑 %s hit stop reference at %s", state.Symbol, formatLevel(state.Stop))
	case models.ConditionEMAExit:
		return fmt.Sprintf("📉 %s closed below EMA on %s", state.Symbol, state.Timeframe)
	}
	return fmt.Sprintf("🔔 %s alert on %s", rule.ConditionType, state.Symbol)
}

func formatLevel(level *float64) string {
	if level == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *level)
}

// EnabledRulesProvider loads the cycle's rule set. Implemented by
// rules.Repository with a redis cache in front.
type EnabledRulesProvider interface {
	GetEnabledRules() ([]models.AlertRule, error)
}

// WatchlistSource expands watchlist ids to symbol sets once per cycle.
type WatchlistSource interface {
	GetWatchlistSymbols(watchlistID int64) ([]string, error)
}

// ExpandWatchlists builds the cycle's immutable watchlist membership
// map for the rules that need one.
func ExpandWatchlists(src WatchlistSource, rules []models.AlertRule) map[int64]map[string]bool {
	out := make(map[int64]map[string]bool)
	for _, rule := range rules {
		if rule.WatchlistID == nil {
			continue
		}
		id := *rule.WatchlistID
		if _, done := out[id]; done {
			continue
		}
		symbols, err := src.GetWatchlistSymbols(id)
		if err != nil {
			log.Printf("⚠️  Failed to expand watchlist %d: %v", id, err)
			continue
		}
		members := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			members[s] = true
		}
		out[id] = members
	}
	return out
}
