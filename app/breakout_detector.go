package app

import (
	"context"
	"math"
	"time"

	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// Breakout detection thresholds, as percent distance below resistance.
const (
	breakoutReadyPercent       = 1.0
	breakoutApproachingPercent = 3.0
	breakoutFormingPercent     = 8.0

	breakoutLookback = 20
	breakoutMinBars  = 15
)

// BreakoutDetector is the built-in resistance-breakout strategy. It
// finds the recent swing high, classifies how close price sits to it
// and scores the setup on proximity, base tightness and volume.
type BreakoutDetector struct {
	lookback int
}

// NewBreakoutDetector creates the detector with the default lookback.
func NewBreakoutDetector() *BreakoutDetector {
	return &BreakoutDetector{lookback: breakoutLookback}
}

// ID returns the stable strategy identifier.
func (bd *BreakoutDetector) ID() string { return "resistance_breakout" }

// Name returns the display name.
func (bd *BreakoutDetector) Name() string { return "Resistance Breakout" }

// Scan classifies the symbol against its recent resistance level.
// Returns no signal when price sits too far below the level to be a
// setup at all.
func (bd *BreakoutDetector) Scan(ctx context.Context, symbol, timeframe string, candles []marketdata.Candle) ([]models.StrategySignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candles) < breakoutMinBars {
		return nil, nil
	}

	window := candles
	if len(window) > bd.lookback {
		window = window[len(window)-bd.lookback:]
	}
	last := window[len(window)-1]

	// Resistance is the highest high before the current bar, support
	// the lowest low of the window.
	resistance := 0.0
	support := math.MaxFloat64
	for _, c := range window[:len(window)-1] {
		if c.High > resistance {
			resistance = c.High
		}
		if c.Low < support {
			support = c.Low
		}
	}
	if resistance <= 0 || last.Close <= 0 {
		return nil, nil
	}

	stage, distance := classifyBreakoutStage(last.Close, resistance)
	if stage == "" {
		return nil, nil
	}

	sig := models.StrategySignal{
		Symbol:             symbol,
		StrategyID:         bd.ID(),
		StrategyName:       bd.Name(),
		Timeframe:          timeframe,
		Stage:              stage,
		DetectedAt:         time.Now(),
		DetectedPrice:      last.Close,
		ResistancePrice:    &resistance,
		StopReferencePrice: &support,
		Score:              bd.score(window, stage, distance, resistance, support),
	}
	return []models.StrategySignal{sig}, nil
}

// classifyBreakoutStage maps distance below resistance to a stage.
// A close above resistance is a breakout; beyond the forming band the
// symbol is not a candidate.
func classifyBreakoutStage(close, resistance float64) (string, float64) {
	if close > resistance {
		return models.StageBreakout, 0
	}
	distance := (resistance - close) / resistance * 100
	switch {
	case distance <= breakoutReadyPercent:
		return models.StageReady, distance
	case distance <= breakoutApproachingPercent:
		return models.StageApproaching, distance
	case distance <= breakoutFormingPercent:
		return models.StageForming, distance
	}
	return "", distance
}

// score rates the setup 0-100. Stage maturity sets the base, a tight
// base and above-average volume on the latest bar add conviction.
func (bd *BreakoutDetector) score(window []marketdata.Candle, stage string, distance, resistance, support float64) float64 {
	base := 0.0
	switch stage {
	case models.StageBreakout:
		base = 75
	case models.StageReady:
		base = 65
	case models.StageApproaching:
		base = 50
	case models.StageForming:
		base = 35
	}

	// Tight bases break out more cleanly. Range under 10% of the
	// level earns the full bonus.
	if support < math.MaxFloat64 && resistance > 0 {
		rangePercent := (resistance - support) / resistance * 100
		if rangePercent < 10 {
			base += 10
		} else if rangePercent < 20 {
			base += 5
		}
	}

	// Volume confirmation against the window average.
	avgVolume := 0.0
	for _, c := range window[:len(window)-1] {
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(window) - 1)
	lastVolume := window[len(window)-1].Volume
	if avgVolume > 0 {
		switch {
		case lastVolume > avgVolume*2:
			base += 15
		case lastVolume > avgVolume*1.3:
			base += 8
		}
	}

	if base > 100 {
		base = 100
	}
	return base
}
