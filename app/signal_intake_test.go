package app

import (
	"context"
	"errors"
	"testing"
	"time"

	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

type stubDetector struct {
	id      string
	signals []models.StrategySignal
	err     error
}

func (d *stubDetector) ID() string   { return d.id }
func (d *stubDetector) Name() string { return "Stub " + d.id }

func (d *stubDetector) Scan(ctx context.Context, symbol, timeframe string, candles []marketdata.Candle) ([]models.StrategySignal, error) {
	return d.signals, d.err
}

func TestNormalizeSignal(t *testing.T) {
	valid := models.StrategySignal{
		Symbol:        "ABCD",
		StrategyID:    "stub",
		Timeframe:     "1d",
		Stage:         "breaking",
		DetectedAt:    time.Now(),
		DetectedPrice: 100,
		Score:         70,
	}

	tests := []struct {
		name      string
		mutate    func(*models.StrategySignal)
		wantErr   bool
		wantStage string
	}{
		{"valid with alias stage", func(s *models.StrategySignal) {}, false, models.StageBreakout},
		{"canonical stage passes through", func(s *models.StrategySignal) { s.Stage = "READY" }, false, models.StageReady},
		{"near maps to approaching", func(s *models.StrategySignal) { s.Stage = "near" }, false, models.StageApproaching},
		{"unknown stage rejected", func(s *models.StrategySignal) { s.Stage = "EXPLODING" }, true, ""},
		{"missing symbol rejected", func(s *models.StrategySignal) { s.Symbol = "" }, true, ""},
		{"zero price rejected", func(s *models.StrategySignal) { s.DetectedPrice = 0 }, true, ""},
		{"score above 100 rejected", func(s *models.StrategySignal) { s.Score = 101 }, true, ""},
		{"negative resistance rejected", func(s *models.StrategySignal) { s.ResistancePrice = floatPtr(-1) }, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := valid
			tt.mutate(&sig)

			got, err := NormalizeSignal(sig)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				var vErr *SignalValidationError
				if !errors.As(err, &vErr) {
					t.Errorf("expected SignalValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Stage != tt.wantStage {
				t.Errorf("expected stage %s, got %s", tt.wantStage, got.Stage)
			}
		})
	}
}

func TestCollectFillsDefaultsAndDropsInvalid(t *testing.T) {
	good := models.StrategySignal{Stage: "READY", DetectedPrice: 100, Score: 60}
	bad := models.StrategySignal{Stage: "???", DetectedPrice: 100, Score: 60}

	si := NewSignalIntake([]Detector{
		&stubDetector{id: "alpha", signals: []models.StrategySignal{good, bad}},
		&stubDetector{id: "broken", err: errors.New("upstream down")},
		&stubDetector{id: "beta", signals: []models.StrategySignal{good}},
	})

	out := si.Collect(context.Background(), "ABCD", "1h", nil)

	if len(out) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(out))
	}
	first := out[0]
	if first.Symbol != "ABCD" || first.Timeframe != "1h" {
		t.Errorf("expected defaults filled, got %s/%s", first.Symbol, first.Timeframe)
	}
	if first.StrategyID != "alpha" || first.StrategyName != "Stub alpha" {
		t.Errorf("expected detector identity filled, got %s/%s", first.StrategyID, first.StrategyName)
	}
	if first.DetectedAt.IsZero() {
		t.Error("expected detection time to be stamped")
	}
	if out[1].StrategyID != "beta" {
		t.Errorf("expected failing detector to be skipped, got %s", out[1].StrategyID)
	}
}

func TestHighestPriorityStage(t *testing.T) {
	signals := []models.StrategySignal{
		{Stage: models.StageForming},
		{Stage: models.StageReady},
		{Stage: models.StageApproaching},
	}
	if got := HighestPriorityStage(signals); got != models.StageReady {
		t.Errorf("expected READY, got %s", got)
	}
	if got := HighestPriorityStage(nil); got != "" {
		t.Errorf("expected empty stage for no signals, got %s", got)
	}
}
