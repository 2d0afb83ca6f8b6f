package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"opportunity-engine/database"
	"opportunity-engine/database/automation"
	"opportunity-engine/notifications"
)

// Automation endpoint and execution handlers.

// endpointRequest is the write shape for endpoints: the signing secret
// arrives in plaintext and is stored encrypted.
type endpointRequest struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
	Secret     string `json:"secret"`
	IsActive   *bool  `json:"is_active"`
}

func (s *Server) handleGetEndpoints(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	endpoints, err := s.autoRepo.GetActiveEndpoints(userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load endpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.WebhookURL == "" {
		respondWithError(w, http.StatusBadRequest, "name and webhook_url are required", nil)
		return
	}

	endpoint := &database.AutomationEndpoint{
		UserID:     req.UserID,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
		IsActive:   true,
	}
	if req.Secret != "" {
		encrypted, err := notifications.EncryptSecret(s.secretKey, req.Secret)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to store secret", err)
			return
		}
		endpoint.EncryptedSecret = encrypted
	}

	if err := s.autoRepo.SaveEndpoint(endpoint); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save endpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, endpoint)
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	endpoint, err := s.autoRepo.GetEndpointByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load endpoint", err)
		return
	}
	if endpoint == nil {
		respondWithError(w, http.StatusNotFound, "Endpoint not found", nil)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Name != "" {
		endpoint.Name = req.Name
	}
	if req.WebhookURL != "" {
		endpoint.WebhookURL = req.WebhookURL
	}
	if req.IsActive != nil {
		endpoint.IsActive = *req.IsActive
	}
	if req.Secret != "" {
		encrypted, err := notifications.EncryptSecret(s.secretKey, req.Secret)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to store secret", err)
			return
		}
		endpoint.EncryptedSecret = encrypted
	}

	if err := s.autoRepo.SaveEndpoint(endpoint); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save endpoint", err)
		return
	}

	if s.dispatcher != nil {
		s.dispatcher.InvalidateEndpointCache(id)
	}
	writeJSON(w, http.StatusOK, endpoint)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	if err := s.autoRepo.DeleteEndpoint(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete endpoint", err)
		return
	}

	if s.dispatcher != nil {
		s.dispatcher.InvalidateEndpointCache(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTestEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	endpoint, err := s.autoRepo.GetEndpointByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load endpoint", err)
		return
	}
	if endpoint == nil {
		respondWithError(w, http.StatusNotFound, "Endpoint not found", nil)
		return
	}

	if err := s.dispatcher.TestEndpoint(endpoint); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	status := r.URL.Query().Get("status")
	limit := getIntParam(r, "limit", 100)

	executions, err := s.autoRepo.GetExecutionRequests(userID, status, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load executions", err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.autoRepo.GetExecutionRequestByID(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load execution", err)
		return
	}
	if execution == nil {
		respondWithError(w, http.StatusNotFound, "Execution not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// executionCallback is the body the automation bridge posts back as a
// delivery progresses on its side.
type executionCallback struct {
	ExecutionID       string  `json:"execution_id"`
	Status            string  `json:"status"`
	ExternalReference *string `json:"external_reference,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`
}

func (s *Server) handleExecutionCallback(w http.ResponseWriter, r *http.Request) {
	var cb executionCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if cb.ExecutionID == "" || cb.Status == "" {
		respondWithError(w, http.StatusBadRequest, "execution_id and status are required", nil)
		return
	}

	err := s.autoRepo.AdvanceExecutionStatus(cb.ExecutionID, cb.Status, cb.ErrorMessage, cb.ExternalReference)
	if err != nil {
		var invalid *automation.InvalidTransitionError
		if errors.As(err, &invalid) {
			respondWithError(w, http.StatusConflict, invalid.Error(), nil)
			return
		}
		var notFound *database.NotFoundError
		if errors.As(err, &notFound) {
			respondWithError(w, http.StatusNotFound, "Execution not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to advance execution", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
