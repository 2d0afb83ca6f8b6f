package app

import (
	"context"
	"testing"
	"time"

	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// flatCandles builds n bars that ranged between low and high, with the
// final bar closing at lastClose on the given volume.
func flatCandles(n int, low, high, lastClose, lastVolume float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = marketdata.Candle{
			Symbol:    "ABCD",
			Timeframe: "1d",
			OpenTime:  start.AddDate(0, 0, i),
			Open:      low,
			High:      high,
			Low:       low,
			Close:     (low + high) / 2,
			Volume:    1000,
		}
	}
	candles[n-1].Close = lastClose
	candles[n-1].High = lastClose
	candles[n-1].Volume = lastVolume
	return candles
}

func TestClassifyBreakoutStage(t *testing.T) {
	tests := []struct {
		name       string
		close      float64
		resistance float64
		wantStage  string
	}{
		{"above resistance is breakout", 101, 100, models.StageBreakout},
		{"within 1 percent is ready", 99.5, 100, models.StageReady},
		{"within 3 percent is approaching", 98, 100, models.StageApproaching},
		{"within 8 percent is forming", 93, 100, models.StageForming},
		{"too far below is nothing", 90, 100, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, _ := classifyBreakoutStage(tt.close, tt.resistance)
			if stage != tt.wantStage {
				t.Errorf("expected stage %q, got %q", tt.wantStage, stage)
			}
		})
	}
}

func TestBreakoutScanTooFewBars(t *testing.T) {
	bd := NewBreakoutDetector()
	signals, err := bd.Scan(context.Background(), "ABCD", "1d", flatCandles(10, 95, 100, 99, 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals != nil {
		t.Errorf("expected no signals under the minimum bar count, got %d", len(signals))
	}
}

func TestBreakoutScanCarriesLevels(t *testing.T) {
	bd := NewBreakoutDetector()
	candles := flatCandles(20, 95, 100, 99.5, 1000)

	signals, err := bd.Scan(context.Background(), "ABCD", "1d", candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Stage != models.StageReady {
		t.Errorf("expected READY, got %s", sig.Stage)
	}
	if sig.ResistancePrice == nil || *sig.ResistancePrice != 100 {
		t.Errorf("expected resistance 100, got %v", sig.ResistancePrice)
	}
	if sig.StopReferencePrice == nil || *sig.StopReferencePrice != 95 {
		t.Errorf("expected stop reference 95, got %v", sig.StopReferencePrice)
	}
	// READY base 65 plus tight-base bonus (5% range) of 10.
	if sig.Score != 75 {
		t.Errorf("expected score 75, got %.1f", sig.Score)
	}
	if sig.StrategyID != "resistance_breakout" {
		t.Errorf("unexpected strategy id %s", sig.StrategyID)
	}
}

func TestBreakoutScoreVolumeBonus(t *testing.T) {
	bd := NewBreakoutDetector()

	quiet := flatCandles(20, 95, 100, 99.5, 1000)
	surging := flatCandles(20, 95, 100, 99.5, 2500)

	quietSignals, _ := bd.Scan(context.Background(), "ABCD", "1d", quiet)
	surgeSignals, _ := bd.Scan(context.Background(), "ABCD", "1d", surging)

	if len(quietSignals) != 1 || len(surgeSignals) != 1 {
		t.Fatal("expected one signal from each scan")
	}
	if surgeSignals[0].Score != quietSignals[0].Score+15 {
		t.Errorf("expected a 15 point volume bonus, got %.1f vs %.1f",
			surgeSignals[0].Score, quietSignals[0].Score)
	}
}
