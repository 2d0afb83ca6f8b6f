package app

import "fmt"

// SignalValidationError reports malformed detector output. The signal
// is skipped and logged; the scan cycle continues.
type SignalValidationError struct {
	StrategyID string
	Field      string
	Reason     string
}

// Error implements the error interface
func (e *SignalValidationError) Error() string {
	return fmt.Sprintf("invalid signal from strategy %s: field '%s' %s", e.StrategyID, e.Field, e.Reason)
}

// RuleEvaluationError isolates one rule's failure so it cannot block
// the other rules in the same cycle.
type RuleEvaluationError struct {
	RuleID int64
	Err    error
}

// Error implements the error interface
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %d evaluation failed: %v", e.RuleID, e.Err)
}

// Unwrap returns the underlying error
func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}
