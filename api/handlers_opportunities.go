package api

import (
	"errors"
	"net/http"
	"time"

	"opportunity-engine/database"
)

// Opportunity and alert feed handlers.

func (s *Server) handleGetActiveOpportunities(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := getIntParam(r, "limit", 100)

	opps, err := s.repo.GetActiveOpportunities(symbol, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load opportunities", err)
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) handleGetOpportunityHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	strategyID := r.URL.Query().Get("strategy")
	status := r.URL.Query().Get("status")
	days := getIntParam(r, "days", 30)
	limit := getIntParam(r, "limit", 200)

	since := time.Now().AddDate(0, 0, -days)
	opps, err := s.repo.GetOpportunities(symbol, strategyID, status, since, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load opportunity history", err)
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) handleGetOutcomeReport(w http.ResponseWriter, r *http.Request) {
	days := getIntParam(r, "days", 90)
	since := time.Now().AddDate(0, 0, -days)

	report, err := s.repo.GetOutcomeReport(since)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to build outcome report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetRegime(w http.ResponseWriter, r *http.Request) {
	regime, err := s.repo.GetLatestRegime()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load regime", err)
		return
	}
	if regime == nil {
		respondWithError(w, http.StatusNotFound, "No regime recorded yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, regime)
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := getIntParam(r, "limit", 100)

	events, err := s.repo.GetAlertEvents(userID, unreadOnly, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	if err := s.repo.MarkAlertEventRead(id); err != nil {
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			respondWithError(w, http.StatusNotFound, "Alert not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to mark alert read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
