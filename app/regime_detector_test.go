package app

import (
	"testing"
	"time"

	"opportunity-engine/marketdata"
)

// benchmarkCandles builds daily bars whose close follows closeAt and
// whose high/low sit spread above/below the close.
func benchmarkCandles(n int, spread float64, closeAt func(i int) float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		close := closeAt(i)
		candles[i] = marketdata.Candle{
			Symbol:    "SPY",
			Timeframe: "1d",
			OpenTime:  start.AddDate(0, 0, i),
			Open:      close,
			High:      close + spread,
			Low:       close - spread,
			Close:     close,
			Volume:    1_000_000,
		}
	}
	return candles
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		name           string
		candles        []marketdata.Candle
		wantRegime     string
		wantAdjustment float64
	}{
		{
			name:           "steady climb is trending up",
			candles:        benchmarkCandles(50, 0.1, func(i int) float64 { return 100 + float64(i) }),
			wantRegime:     "TRENDING_UP",
			wantAdjustment: 1.1,
		},
		{
			name:           "orderly decline is trending down",
			candles:        benchmarkCandles(50, 0.1, func(i int) float64 { return 150 - float64(i) }),
			wantRegime:     "TRENDING_DOWN",
			wantAdjustment: 0.9,
		},
		{
			name:           "flat tape is ranging",
			candles:        benchmarkCandles(50, 0.2, func(i int) float64 { return 100 }),
			wantRegime:     "RANGING",
			wantAdjustment: 1.0,
		},
		{
			name:           "volatile decline is risk off",
			candles:        benchmarkCandles(50, 4, func(i int) float64 { return 150 - float64(i) }),
			wantRegime:     "RISK_OFF",
			wantAdjustment: 0.8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regime := ClassifyRegime(tt.candles)
			if regime.Regime != tt.wantRegime {
				t.Errorf("expected regime %s, got %s", tt.wantRegime, regime.Regime)
			}
			if regime.Adjustment != tt.wantAdjustment {
				t.Errorf("expected adjustment %.2f, got %.2f", tt.wantAdjustment, regime.Adjustment)
			}
			if regime.Confidence <= 0 || regime.Confidence > 1 {
				t.Errorf("confidence out of range: %.2f", regime.Confidence)
			}
			if regime.EMASlope == nil || regime.ATRPercent == nil {
				t.Error("expected slope and ATR diagnostics to be recorded")
			}
		})
	}
}

func TestCalculateEMAFallsBackOnShortSeries(t *testing.T) {
	data := []float64{10, 20, 30}
	if got := calculateEMA(data, 20); got != 20 {
		t.Errorf("expected SMA fallback of 20, got %.2f", got)
	}
}

func TestCalculateATRNeedsEnoughBars(t *testing.T) {
	if got := calculateATR(benchmarkCandles(10, 1, func(i int) float64 { return 100 }), 14); got != 0 {
		t.Errorf("expected 0 for a short series, got %.2f", got)
	}
}
