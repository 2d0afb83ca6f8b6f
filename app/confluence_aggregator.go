package app

import (
	"fmt"
	"log"
	"time"

	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
)

// RegimeSnapshot is the cycle's market-regime classification, refreshed
// once per cycle and treated as immutable within it.
type RegimeSnapshot struct {
	Regime     string
	Confidence float64
	Adjustment float64 // multiplicative, 1.0 = neutral
}

// NeutralRegime is used when no classifier output is available.
var NeutralRegime = RegimeSnapshot{Regime: "RANGING", Confidence: 0.5, Adjustment: 1.0}

// RegimeSource supplies the regime snapshot for a cycle.
type RegimeSource interface {
	Snapshot() RegimeSnapshot
}

// OpportunityStore is the persistence surface the aggregator needs.
// Implemented by database.EngineRepository; faked in tests.
type OpportunityStore interface {
	GetActiveOpportunityByDedupeKey(key string) (*database.Opportunity, error)
	SaveOpportunity(opp *database.Opportunity) error
	UpdateOpportunity(opp *database.Opportunity) error
}

// SymbolAggregate is the combined view of one (symbol, timeframe)
// group within a cycle. Every individual signal is carried through
// unmodified so per-strategy rules can still match.
type SymbolAggregate struct {
	Symbol        string
	Timeframe     string
	Stage         string // highest-priority stage among agreeing signals
	BaseScore     float64
	Score         float64 // after confluence bonus, regime adjustment and cap
	StrategyCount int
	Signals       []models.StrategySignal
	Primary       models.StrategySignal // signal carrying the winning stage
}

// ConfluenceAggregator merges per-strategy signals into deduplicated
// opportunities.
type ConfluenceAggregator struct {
	repo         OpportunityStore
	openMinScore float64
	openMinStage string
}

// NewConfluenceAggregator creates an aggregator with the given opening
// thresholds.
func NewConfluenceAggregator(repo OpportunityStore, openMinScore float64, openMinStage string) *ConfluenceAggregator {
	return &ConfluenceAggregator{
		repo:         repo,
		openMinScore: openMinScore,
		openMinStage: openMinStage,
	}
}

// Aggregate groups one symbol's cycle signals by timeframe and scores
// each group. Pure: no persistence.
func (ca *ConfluenceAggregator) Aggregate(signals []models.StrategySignal, regime RegimeSnapshot) []SymbolAggregate {
	byTimeframe := make(map[string][]models.StrategySignal)
	for _, sig := range signals {
		byTimeframe[sig.Timeframe] = append(byTimeframe[sig.Timeframe], sig)
	}

	var out []SymbolAggregate
	for timeframe, group := range byTimeframe {
		agg := scoreGroup(group, regime)
		agg.Timeframe = timeframe
		out = append(out, agg)
	}
	return out
}

// scoreGroup computes base score, confluence bonus and regime-adjusted
// final score for one (symbol, timeframe) group.
func scoreGroup(group []models.StrategySignal, regime RegimeSnapshot) SymbolAggregate {
	distinct := make(map[string]bool)
	sum := 0.0
	for _, sig := range group {
		distinct[sig.StrategyID] = true
		sum += sig.Score
	}
	n := len(distinct)
	base := sum / float64(len(group))

	bonus := float64(n-1) * database.ConfluenceBonusPerStrategy

	adjustment := regime.Adjustment
	if adjustment < database.MinRegimeAdjustment {
		adjustment = database.MinRegimeAdjustment
	}
	if adjustment > database.MaxRegimeAdjustment {
		adjustment = database.MaxRegimeAdjustment
	}

	// Bonus first, regime second, cap last.
	score := (base + bonus) * adjustment
	if score > database.MaxConfluenceScore {
		score = database.MaxConfluenceScore
	}

	// Primary detector: the highest-scoring signal at the winning stage.
	stage := HighestPriorityStage(group)
	primary := group[0]
	for _, sig := range group {
		if sig.Stage == stage && (primary.Stage != stage || sig.Score > primary.Score) {
			primary = sig
		}
	}

	return SymbolAggregate{
		Symbol:        group[0].Symbol,
		Stage:         stage,
		BaseScore:     base,
		Score:         score,
		StrategyCount: n,
		Signals:       group,
		Primary:       primary,
	}
}

// Apply opens a new opportunity for the aggregate or updates the
// existing ACTIVE one in place. Returns the opportunity touched (nil
// when the aggregate does not qualify) and whether it was newly opened.
//
// Stage on an existing opportunity only moves forward; re-applying an
// identical aggregate is a no-op.
func (ca *ConfluenceAggregator) Apply(agg SymbolAggregate) (*database.Opportunity, bool, error) {
	key := DedupeKey(agg.Symbol, agg.Primary.StrategyID, agg.Timeframe, agg.Primary.DetectedAt)

	existing, err := ca.repo.GetActiveOpportunityByDedupeKey(key)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if models.StagePriority[agg.Stage] <= models.StagePriority[existing.CurrentStage] {
			// Same or lower maturity: never downgrade, nothing to do.
			return existing, false, nil
		}

		existing.CurrentStage = agg.Stage
		existing.ConfluenceScore = agg.Score
		existing.StrategyCount = agg.StrategyCount
		if agg.Primary.ResistancePrice != nil {
			existing.ResistancePrice = agg.Primary.ResistancePrice
			existing.EntryTriggerPrice = agg.Primary.ResistancePrice
		}
		if agg.Primary.StopReferencePrice != nil {
			existing.StopReferencePrice = agg.Primary.StopReferencePrice
		}
		if err := ca.repo.UpdateOpportunity(existing); err != nil {
			return nil, false, err
		}
		log.Printf("📈 Opportunity %d (%s/%s) advanced to %s, score %.1f",
			existing.ID, existing.Symbol, existing.Timeframe, existing.CurrentStage, existing.ConfluenceScore)
		return existing, false, nil
	}

	if agg.Score < ca.openMinScore {
		return nil, false, nil
	}
	if models.StagePriority[agg.Stage] < models.StagePriority[ca.openMinStage] {
		return nil, false, nil
	}

	opp := &database.Opportunity{
		Symbol:             agg.Symbol,
		StrategyID:         agg.Primary.StrategyID,
		StrategyName:       agg.Primary.StrategyName,
		Timeframe:          agg.Timeframe,
		StageAtDetection:   agg.Stage,
		CurrentStage:       agg.Stage,
		DetectedAt:         agg.Primary.DetectedAt,
		DetectedPrice:      agg.Primary.DetectedPrice,
		ResistancePrice:    agg.Primary.ResistancePrice,
		StopReferencePrice: agg.Primary.StopReferencePrice,
		EntryTriggerPrice:  agg.Primary.ResistancePrice,
		ConfluenceScore:    agg.Score,
		StrategyCount:      agg.StrategyCount,
		ShortStyle:         agg.Primary.ShortStyle,
		Status:             models.OpportunityActive,
		DedupeKey:          key,
	}
	if err := ca.repo.SaveOpportunity(opp); err != nil {
		return nil, false, err
	}
	log.Printf("✨ Opened opportunity %s/%s (%s) at %.2f, score %.1f, %d strategies",
		opp.Symbol, opp.Timeframe, opp.CurrentStage, opp.DetectedPrice, opp.ConfluenceScore, opp.StrategyCount)
	return opp, true, nil
}

// DedupeKey builds the identity preventing duplicate concurrent
// opportunities: symbol + primary strategy + timeframe + detection
// window (the detection date; one window per session).
func DedupeKey(symbol, strategyID, timeframe string, detectedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s", symbol, strategyID, timeframe, detectedAt.Format("2006-01-02"))
}
