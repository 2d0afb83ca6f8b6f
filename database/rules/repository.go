// Package rules persists alert rule definitions and their per-symbol
// evaluation state. Firing an alert writes the new eval state and the
// alert event in one transaction so a rule can never fire twice for
// the same transition, nor silently drop the event.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "opportunity-engine/database/models_pkg"
)

// Repository handles database operations for alert rules
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new rules repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetEnabledRules returns all enabled rules, global rules first.
func (r *Repository) GetEnabledRules() ([]models.AlertRule, error) {
	var out []models.AlertRule
	err := r.db.Where("is_enabled = ?", true).
		Order("owner_scope DESC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("GetEnabledRules: %w", err)
	}
	return out, nil
}

// GetRuleByID retrieves a single rule, nil when absent.
func (r *Repository) GetRuleByID(id int64) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := r.db.First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRuleByID: %w", err)
	}
	return &rule, nil
}

// SaveRule inserts or updates a rule definition.
func (r *Repository) SaveRule(rule *models.AlertRule) error {
	if err := r.db.Save(rule).Error; err != nil {
		return fmt.Errorf("SaveRule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule and its evaluation state.
func (r *Repository) DeleteRule(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&models.RuleEvalState{}).Error; err != nil {
			return fmt.Errorf("DeleteRule state: %w", err)
		}
		if err := tx.Delete(&models.AlertRule{}, id).Error; err != nil {
			return fmt.Errorf("DeleteRule: %w", err)
		}
		return nil
	})
}

// GetEvalStates loads the per-symbol evaluation state for a rule,
// keyed by symbol.
func (r *Repository) GetEvalStates(ruleID int64) (map[string]models.RuleEvalState, error) {
	var states []models.RuleEvalState
	if err := r.db.Where("rule_id = ?", ruleID).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("GetEvalStates: %w", err)
	}
	out := make(map[string]models.RuleEvalState, len(states))
	for _, s := range states {
		out[s.Symbol] = s
	}
	return out, nil
}

// GetEvalState loads the evaluation state for one (rule, symbol)
// pair, nil when the symbol has never been observed for the rule.
func (r *Repository) GetEvalState(ruleID int64, symbol string) (*models.RuleEvalState, error) {
	var state models.RuleEvalState
	err := r.db.Where("rule_id = ? AND symbol = ?", ruleID, symbol).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEvalState: %w", err)
	}
	return &state, nil
}

// UpsertEvalState records the latest observed condition values for a
// (rule, symbol) pair without firing.
func (r *Repository) UpsertEvalState(state *models.RuleEvalState) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_stage", "last_score", "last_confluence", "last_price", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("UpsertEvalState: %w", err)
	}
	return nil
}

// FireAlert atomically writes the post-transition eval state and the
// alert event. The event's idempotency key carries (rule, symbol,
// transition timestamp); a replay after a crash hits the unique index
// and is reported as already fired rather than creating a duplicate.
func (r *Repository) FireAlert(state *models.RuleEvalState, event *models.AlertEvent) (fired bool, err error) {
	now := time.Now()
	state.LastTriggeredAt = &now

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "rule_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_stage", "last_score", "last_confluence", "last_price",
				"last_triggered_at", "updated_at",
			}),
		})
		if err := upsert.Create(state).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AlertRule{}).
			Where("id = ?", state.RuleID).
			Update("last_evaluated_at", now).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("FireAlert: %w", err)
	}
	return true, nil
}

// TouchLastEvaluated stamps a rule after a no-fire evaluation pass.
func (r *Repository) TouchLastEvaluated(ruleID int64, at time.Time) error {
	err := r.db.Model(&models.AlertRule{}).
		Where("id = ?", ruleID).
		Update("last_evaluated_at", at).Error
	if err != nil {
		return fmt.Errorf("TouchLastEvaluated: %w", err)
	}
	return nil
}

// isDuplicateKey detects unique-constraint violations across drivers.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
