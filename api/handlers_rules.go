package api

import (
	"encoding/json"
	"net/http"

	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
)

// Alert rule management handlers.

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rulesRepo.GetEnabledRules()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load rules", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule database.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Reset ID to let DB assign it
	rule.ID = 0

	if msg := validateRule(&rule); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg, nil)
		return
	}

	if err := s.rulesRepo.SaveRule(&rule); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	s.invalidateRules()
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	existing, err := s.rulesRepo.GetRuleByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load rule", err)
		return
	}
	if existing == nil {
		respondWithError(w, http.StatusNotFound, "Rule not found", nil)
		return
	}

	var rule database.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule.ID = id // Ensure ID matches path

	if msg := validateRule(&rule); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg, nil)
		return
	}

	if err := s.rulesRepo.SaveRule(&rule); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	s.invalidateRules()
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	if err := s.rulesRepo.DeleteRule(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete rule", err)
		return
	}

	s.invalidateRules()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) invalidateRules() {
	if s.scanner != nil {
		s.scanner.InvalidateRulesCache()
	}
}

// validateRule checks that a rule carries the parameter its condition
// type needs. Returns an empty string when valid.
func validateRule(rule *database.AlertRule) string {
	switch rule.ConditionType {
	case models.ConditionStageEntered:
		if rule.TargetStage == nil {
			return "STAGE_ENTERED rules require target_stage"
		}
		if _, ok := models.StagePriority[*rule.TargetStage]; !ok {
			return "Unknown target_stage"
		}
	case models.ConditionScoreThreshold:
		if rule.ScoreThreshold == nil {
			return "SCORE_THRESHOLD rules require score_threshold"
		}
	case models.ConditionConfluenceThreshold:
		if rule.MinStrategies == nil || *rule.MinStrategies < 2 {
			return "CONFLUENCE_THRESHOLD rules require min_strategies >= 2"
		}
	case models.ConditionApproaching, models.ConditionStopHit, models.ConditionEMAExit:
		// Optional parameters only.
	default:
		return "Unknown condition_type"
	}

	if rule.Symbol != nil && rule.WatchlistID != nil {
		return "Rule cannot target both a symbol and a watchlist"
	}
	if rule.SendWebhook && rule.AutomationEndpointID == nil {
		return "Webhook rules require automation_endpoint_id"
	}
	return ""
}
