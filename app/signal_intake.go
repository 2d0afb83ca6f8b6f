package app

import (
	"context"
	"log"
	"strings"
	"time"

	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/marketdata"
)

// Detector is a pluggable pattern-signal source. The engine treats
// each detector as a black box: it only checks the shape of what comes
// back, never the pattern math behind it.
type Detector interface {
	// ID is the stable strategy identifier stored on opportunities.
	ID() string
	// Name is the human-readable strategy name.
	Name() string
	// Scan classifies a symbol on one timeframe from its candles.
	// Returning no signals means the detector sees nothing; errors are
	// contained to this detector/symbol for the cycle.
	Scan(ctx context.Context, symbol, timeframe string, candles []marketdata.Candle) ([]models.StrategySignal, error)
}

// stageAliases maps detector-specific stage vocabulary onto the
// canonical ladder.
var stageAliases = map[string]string{
	"FORMING":     models.StageForming,
	"BASE":        models.StageForming,
	"APPROACHING": models.StageApproaching,
	"NEAR":        models.StageApproaching,
	"READY":       models.StageReady,
	"TRIGGERED":   models.StageReady,
	"BREAKOUT":    models.StageBreakout,
	"BREAKING":    models.StageBreakout,
}

// SignalIntake normalizes heterogeneous detector output into canonical
// strategy signals.
type SignalIntake struct {
	detectors []Detector
}

// NewSignalIntake creates an intake over the registered detectors.
func NewSignalIntake(detectors []Detector) *SignalIntake {
	return &SignalIntake{detectors: detectors}
}

// Collect runs every detector for a symbol/timeframe and returns the
// valid, normalized signals. Malformed signals are logged and dropped;
// a failing detector never aborts the cycle.
func (si *SignalIntake) Collect(ctx context.Context, symbol, timeframe string, candles []marketdata.Candle) []models.StrategySignal {
	var out []models.StrategySignal

	for _, det := range si.detectors {
		signals, err := det.Scan(ctx, symbol, timeframe, candles)
		if err != nil {
			log.Printf("⚠️  Detector %s failed for %s/%s: %v", det.ID(), symbol, timeframe, err)
			continue
		}

		for _, sig := range signals {
			if sig.StrategyID == "" {
				sig.StrategyID = det.ID()
			}
			if sig.StrategyName == "" {
				sig.StrategyName = det.Name()
			}
			if sig.Symbol == "" {
				sig.Symbol = symbol
			}
			if sig.Timeframe == "" {
				sig.Timeframe = timeframe
			}
			if sig.DetectedAt.IsZero() {
				sig.DetectedAt = time.Now()
			}

			normalized, err := NormalizeSignal(sig)
			if err != nil {
				log.Printf("⚠️  Skipping signal: %v", err)
				continue
			}
			out = append(out, normalized)
		}
	}

	return out
}

// NormalizeSignal validates field presence/type and maps the stage
// onto the canonical ladder.
func NormalizeSignal(sig models.StrategySignal) (models.StrategySignal, error) {
	if sig.Symbol == "" {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "symbol", Reason: "is empty"}
	}
	if sig.StrategyID == "" {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "strategy_id", Reason: "is empty"}
	}
	if sig.Timeframe == "" {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "timeframe", Reason: "is empty"}
	}
	if sig.DetectedPrice <= 0 {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "detected_price", Reason: "must be positive"}
	}
	if sig.Score < 0 || sig.Score > 100 {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "score", Reason: "must be within 0-100"}
	}

	stage, ok := stageAliases[strings.ToUpper(strings.TrimSpace(sig.Stage))]
	if !ok {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "stage", Reason: "unknown classification '" + sig.Stage + "'"}
	}
	sig.Stage = stage

	if sig.ResistancePrice != nil && *sig.ResistancePrice <= 0 {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "resistance_price", Reason: "must be positive when set"}
	}
	if sig.StopReferencePrice != nil && *sig.StopReferencePrice <= 0 {
		return sig, &SignalValidationError{StrategyID: sig.StrategyID, Field: "stop_reference_price", Reason: "must be positive when set"}
	}

	return sig, nil
}

// HighestPriorityStage returns the most mature stage among signals.
func HighestPriorityStage(signals []models.StrategySignal) string {
	best := ""
	bestRank := 0
	for _, sig := range signals {
		if rank := models.StagePriority[sig.Stage]; rank > bestRank {
			bestRank = rank
			best = sig.Stage
		}
	}
	return best
}
