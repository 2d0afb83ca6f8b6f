package app

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// RegimeStore persists classifier output and restores the last
// snapshot on startup.
type RegimeStore interface {
	SaveMarketRegime(regime *models.MarketRegime) error
	GetLatestRegime() (*models.MarketRegime, error)
}

// RegimeDetector classifies the broad market condition from a single
// benchmark symbol and exposes the result to the scoring pipeline as a
// multiplicative adjustment. It implements RegimeSource.
type RegimeDetector struct {
	store    RegimeStore
	provider marketdata.Provider
	symbol   string // benchmark index proxy
	interval time.Duration
	done     chan bool

	mu      sync.RWMutex
	current RegimeSnapshot
}

const (
	regimeTimeframe = "1d"
	regimeLookback  = 50
	regimeMinBars   = 30
)

// NewRegimeDetector creates a detector over the benchmark symbol.
func NewRegimeDetector(store RegimeStore, provider marketdata.Provider, symbol string, interval time.Duration) *RegimeDetector {
	return &RegimeDetector{
		store:    store,
		provider: provider,
		symbol:   symbol,
		interval: interval,
		done:     make(chan bool),
		current:  NeutralRegime,
	}
}

// Start begins the detection loop. A snapshot persisted by a previous
// run seeds the current regime so restarts don't reset to neutral.
func (rd *RegimeDetector) Start() {
	log.Println("📈 Market Regime Detector started")

	if last, err := rd.store.GetLatestRegime(); err != nil {
		log.Printf("⚠️  Failed to load last regime: %v", err)
	} else if last != nil && time.Since(last.DetectedAt) < 24*time.Hour {
		rd.setCurrent(RegimeSnapshot{Regime: last.Regime, Confidence: last.Confidence, Adjustment: last.Adjustment})
		log.Printf("📈 Restored regime %s (adj %.2f)", last.Regime, last.Adjustment)
	}

	ticker := time.NewTicker(rd.interval)
	defer ticker.Stop()

	rd.detect()

	for {
		select {
		case <-ticker.C:
			rd.detect()
		case <-rd.done:
			log.Println("📈 Market Regime Detector stopped")
			return
		}
	}
}

// Stop stops the detection loop
func (rd *RegimeDetector) Stop() {
	rd.done <- true
}

// Snapshot returns the latest classification. Never blocks on market
// data; callers always get the last known regime.
func (rd *RegimeDetector) Snapshot() RegimeSnapshot {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	return rd.current
}

func (rd *RegimeDetector) setCurrent(snap RegimeSnapshot) {
	rd.mu.Lock()
	rd.current = snap
	rd.mu.Unlock()
}

// detect fetches benchmark candles, classifies and persists the
// regime. Failures keep the previous snapshot in place.
func (rd *RegimeDetector) detect() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	candles, err := rd.provider.GetCandles(ctx, rd.symbol, regimeTimeframe, regimeLookback)
	if err != nil {
		log.Printf("⚠️  Failed to get candles for regime detection: %v", err)
		return
	}
	if len(candles) < regimeMinBars {
		log.Printf("⚠️  Not enough candles for regime detection: %d < %d", len(candles), regimeMinBars)
		return
	}

	regime := ClassifyRegime(candles)
	regime.DetectedAt = time.Now()

	if err := rd.store.SaveMarketRegime(regime); err != nil {
		log.Printf("⚠️  Failed to save regime: %v", err)
	}

	rd.setCurrent(RegimeSnapshot{Regime: regime.Regime, Confidence: regime.Confidence, Adjustment: regime.Adjustment})
	log.Printf("📊 Regime: %s (conf %.2f, adj %.2f)", regime.Regime, regime.Confidence, regime.Adjustment)
}

// ClassifyRegime determines the market condition from benchmark
// candles. Trend comes from the EMA slope, volatility from ATR as a
// percentage of price. A falling market with elevated volatility is
// RISK_OFF regardless of trend strength.
func ClassifyRegime(candles []marketdata.Candle) *models.MarketRegime {
	n := len(candles)
	prices := make([]float64, n)
	for i, c := range candles {
		prices[i] = c.Close
	}

	ema20 := calculateEMA(prices, 20)
	prevEma20 := calculateEMA(prices[:n-1], 20)
	atr := calculateATR(candles, 14)

	emaSlope := 0.0
	if prevEma20 > 0 {
		emaSlope = (ema20 - prevEma20) / prevEma20
	}
	atrPercent := 0.0
	if prices[n-1] > 0 {
		atrPercent = (atr / prices[n-1]) * 100
	}

	var regime string
	var confidence float64

	// Daily bars: 0.2% EMA drift per bar marks a real trend.
	switch {
	case emaSlope > 0.002:
		regime = "TRENDING_UP"
		confidence = math.Min(0.6+(emaSlope*100), 1.0)
	case emaSlope < -0.002:
		regime = "TRENDING_DOWN"
		confidence = math.Min(0.6+(math.Abs(emaSlope)*100), 1.0)
	default:
		regime = "RANGING"
		confidence = 0.5
	}

	if atrPercent > 3.0 && regime != "TRENDING_UP" {
		regime = "RISK_OFF"
		confidence = math.Min(0.6+(atrPercent-3.0)/10, 1.0)
	}

	return &models.MarketRegime{
		Regime:          regime,
		Confidence:      confidence,
		Adjustment:      regimeAdjustment(regime),
		LookbackPeriods: 20,
		EMASlope:        &emaSlope,
		ATRPercent:      &atrPercent,
	}
}

// regimeAdjustment maps a regime to its score multiplier.
func regimeAdjustment(regime string) float64 {
	switch regime {
	case "TRENDING_UP":
		return 1.1
	case "TRENDING_DOWN":
		return 0.9
	case "RISK_OFF":
		return 0.8
	}
	return 1.0
}

// Simple Moving Average
func calculateSMA(data []float64, period int) float64 {
	if len(data) < period {
		return 0
	}
	sum := 0.0
	for i := len(data) - period; i < len(data); i++ {
		sum += data[i]
	}
	return sum / float64(period)
}

// Exponential Moving Average
func calculateEMA(data []float64, period int) float64 {
	if len(data) < period {
		return calculateSMA(data, len(data))
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := calculateSMA(data[:period], period)
	for i := period; i < len(data); i++ {
		ema = (data[i] * k) + (ema * (1 - k))
	}
	return ema
}

// calculateATR calculates Average True Range using Wilder's smoothing method
func calculateATR(candles []marketdata.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	var trueRanges []float64
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	if len(trueRanges) < period {
		return 0
	}

	// Initial ATR = SMA of first period true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	// Wilder's smoothing for the remaining bars
	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr
}
