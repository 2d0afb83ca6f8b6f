package app

import (
	"testing"
	"time"

	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
)

func floatPtr(v float64) *float64 { return &v }

type fakeOpportunityStore struct {
	byKey   map[string]*database.Opportunity
	saves   int
	updates int
}

func newFakeOpportunityStore() *fakeOpportunityStore {
	return &fakeOpportunityStore{byKey: make(map[string]*database.Opportunity)}
}

func (f *fakeOpportunityStore) GetActiveOpportunityByDedupeKey(key string) (*database.Opportunity, error) {
	return f.byKey[key], nil
}

func (f *fakeOpportunityStore) SaveOpportunity(opp *database.Opportunity) error {
	f.saves++
	opp.ID = int64(f.saves)
	f.byKey[opp.DedupeKey] = opp
	return nil
}

func (f *fakeOpportunityStore) UpdateOpportunity(opp *database.Opportunity) error {
	f.updates++
	f.byKey[opp.DedupeKey] = opp
	return nil
}

func makeSignal(strategyID, stage string, score float64) models.StrategySignal {
	return models.StrategySignal{
		Symbol:        "ABCD",
		StrategyID:    strategyID,
		Timeframe:     "1d",
		Stage:         stage,
		DetectedAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		DetectedPrice: 100,
		Score:         score,
	}
}

func TestScoreGroup(t *testing.T) {
	tests := []struct {
		name      string
		signals   []models.StrategySignal
		regime    RegimeSnapshot
		wantScore float64
		wantStage string
		wantCount int
	}{
		{
			name:      "single strategy no bonus",
			signals:   []models.StrategySignal{makeSignal("a", models.StageReady, 60)},
			regime:    NeutralRegime,
			wantScore: 60,
			wantStage: models.StageReady,
			wantCount: 1,
		},
		{
			name: "three strategies add confluence bonus",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageReady, 60),
				makeSignal("b", models.StageReady, 60),
				makeSignal("c", models.StageReady, 60),
			},
			regime:    NeutralRegime,
			wantScore: 80, // mean 60 + 2*10
			wantStage: models.StageReady,
			wantCount: 3,
		},
		{
			name: "duplicate strategy counts once",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageReady, 60),
				makeSignal("a", models.StageReady, 60),
			},
			regime:    NeutralRegime,
			wantScore: 60,
			wantStage: models.StageReady,
			wantCount: 1,
		},
		{
			name: "regime adjustment applied after bonus",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageReady, 50),
				makeSignal("b", models.StageReady, 50),
			},
			regime:    RegimeSnapshot{Regime: "TRENDING_UP", Adjustment: 1.1},
			wantScore: 66, // (50 + 10) * 1.1
			wantStage: models.StageReady,
			wantCount: 2,
		},
		{
			name: "adjustment clamped to upper bound",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageReady, 50),
			},
			regime:    RegimeSnapshot{Regime: "TRENDING_UP", Adjustment: 2.0},
			wantScore: 60, // 50 * 1.2 clamp
			wantStage: models.StageReady,
			wantCount: 1,
		},
		{
			name: "score capped at 100",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageBreakout, 95),
				makeSignal("b", models.StageBreakout, 95),
				makeSignal("c", models.StageBreakout, 95),
			},
			regime:    RegimeSnapshot{Regime: "TRENDING_UP", Adjustment: 1.2},
			wantScore: 100,
			wantStage: models.StageBreakout,
			wantCount: 3,
		},
		{
			name: "highest priority stage wins",
			signals: []models.StrategySignal{
				makeSignal("a", models.StageForming, 40),
				makeSignal("b", models.StageBreakout, 70),
			},
			regime:    NeutralRegime,
			wantScore: 65, // mean 55 + 10
			wantStage: models.StageBreakout,
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := scoreGroup(tt.signals, tt.regime)
			if agg.Score != tt.wantScore {
				t.Errorf("expected score %.1f, got %.1f", tt.wantScore, agg.Score)
			}
			if agg.Stage != tt.wantStage {
				t.Errorf("expected stage %s, got %s", tt.wantStage, agg.Stage)
			}
			if agg.StrategyCount != tt.wantCount {
				t.Errorf("expected %d strategies, got %d", tt.wantCount, agg.StrategyCount)
			}
		})
	}
}

func TestScoreGroupPrimaryCarriesWinningStage(t *testing.T) {
	weak := makeSignal("a", models.StageBreakout, 50)
	strong := makeSignal("b", models.StageBreakout, 80)
	lagging := makeSignal("c", models.StageForming, 95)

	agg := scoreGroup([]models.StrategySignal{weak, lagging, strong}, NeutralRegime)

	if agg.Primary.StrategyID != "b" {
		t.Errorf("expected primary strategy b, got %s", agg.Primary.StrategyID)
	}
}

func TestAggregateGroupsByTimeframe(t *testing.T) {
	daily := makeSignal("a", models.StageReady, 60)
	hourly := makeSignal("b", models.StageReady, 70)
	hourly.Timeframe = "1h"

	ca := NewConfluenceAggregator(newFakeOpportunityStore(), 50, models.StageApproaching)
	aggs := ca.Aggregate([]models.StrategySignal{daily, hourly}, NeutralRegime)

	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
	seen := map[string]bool{}
	for _, agg := range aggs {
		seen[agg.Timeframe] = true
		if agg.StrategyCount != 1 {
			t.Errorf("expected 1 strategy per timeframe, got %d", agg.StrategyCount)
		}
	}
	if !seen["1d"] || !seen["1h"] {
		t.Errorf("expected both timeframes, got %v", seen)
	}
}

func TestApplyOpensOpportunity(t *testing.T) {
	store := newFakeOpportunityStore()
	ca := NewConfluenceAggregator(store, 50, models.StageApproaching)

	sig := makeSignal("a", models.StageReady, 60)
	sig.ResistancePrice = floatPtr(105)
	sig.StopReferencePrice = floatPtr(95)

	agg := scoreGroup([]models.StrategySignal{sig}, NeutralRegime)
	agg.Timeframe = "1d"

	opp, opened, err := ca.Apply(agg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opened {
		t.Fatal("expected a new opportunity")
	}
	if opp.Status != models.OpportunityActive {
		t.Errorf("expected ACTIVE, got %s", opp.Status)
	}
	if opp.EntryTriggerPrice == nil || *opp.EntryTriggerPrice != 105 {
		t.Errorf("expected entry trigger at resistance, got %v", opp.EntryTriggerPrice)
	}
	if opp.DedupeKey != "ABCD|a|1d|2026-03-02" {
		t.Errorf("unexpected dedupe key %s", opp.DedupeKey)
	}

	// Re-applying the identical aggregate must not create a second row.
	_, openedAgain, err := ca.Apply(agg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if openedAgain {
		t.Error("expected no duplicate opportunity")
	}
	if store.saves != 1 {
		t.Errorf("expected 1 save, got %d", store.saves)
	}
}

func TestApplyAdvancesStageMonotonically(t *testing.T) {
	store := newFakeOpportunityStore()
	ca := NewConfluenceAggregator(store, 50, models.StageApproaching)

	sig := makeSignal("a", models.StageApproaching, 55)
	agg := scoreGroup([]models.StrategySignal{sig}, NeutralRegime)
	agg.Timeframe = "1d"
	if _, _, err := ca.Apply(agg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Higher stage advances the live row.
	sig.Stage = models.StageBreakout
	sig.Score = 80
	advanced := scoreGroup([]models.StrategySignal{sig}, NeutralRegime)
	advanced.Timeframe = "1d"
	opp, opened, err := ca.Apply(advanced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened {
		t.Error("expected update, not a new opportunity")
	}
	if opp.CurrentStage != models.StageBreakout {
		t.Errorf("expected BREAKOUT, got %s", opp.CurrentStage)
	}
	if opp.StageAtDetection != models.StageApproaching {
		t.Errorf("detection stage must not change, got %s", opp.StageAtDetection)
	}

	// A lower stage later must never downgrade.
	sig.Stage = models.StageForming
	lagging := scoreGroup([]models.StrategySignal{sig}, NeutralRegime)
	lagging.Timeframe = "1d"
	opp, _, err = ca.Apply(lagging)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opp.CurrentStage != models.StageBreakout {
		t.Errorf("stage downgraded to %s", opp.CurrentStage)
	}
}

func TestApplyRespectsOpeningThresholds(t *testing.T) {
	store := newFakeOpportunityStore()
	ca := NewConfluenceAggregator(store, 50, models.StageApproaching)

	tests := []struct {
		name  string
		stage string
		score float64
	}{
		{"below minimum score", models.StageReady, 40},
		{"below minimum stage", models.StageForming, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := makeSignal("a", tt.stage, tt.score)
			agg := SymbolAggregate{
				Symbol:        sig.Symbol,
				Timeframe:     "1d",
				Stage:         tt.stage,
				Score:         tt.score,
				StrategyCount: 1,
				Signals:       []models.StrategySignal{sig},
				Primary:       sig,
			}
			opp, opened, err := ca.Apply(agg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opened || opp != nil {
				t.Error("expected aggregate to be rejected")
			}
		})
	}
}

func TestDedupeKeyUsesDetectionDate(t *testing.T) {
	morning := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	afternoon := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	if DedupeKey("ABCD", "a", "1d", morning) != DedupeKey("ABCD", "a", "1d", afternoon) {
		t.Error("same-day detections must share a dedupe key")
	}
	nextDay := morning.AddDate(0, 0, 1)
	if DedupeKey("ABCD", "a", "1d", morning) == DedupeKey("ABCD", "a", "1d", nextDay) {
		t.Error("detections on different days must not collide")
	}
}
