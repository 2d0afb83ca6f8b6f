// Package automation persists user automation endpoints and the
// execution requests forwarded to them.
package automation

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
)

// statusRank orders execution request statuses. A transition is legal
// only when it moves strictly forward and the current status is not
// terminal.
var statusRank = map[string]int{
	models.ExecutionCreated:  1,
	models.ExecutionSent:     2,
	models.ExecutionAcked:    3,
	models.ExecutionExecuted: 4,
	models.ExecutionRejected: 4,
	models.ExecutionFailed:   4,
}

// terminalStatuses never transition again.
var terminalStatuses = map[string]bool{
	models.ExecutionExecuted: true,
	models.ExecutionRejected: true,
	models.ExecutionFailed:   true,
}

// CanAdvance reports whether an execution request may move from one
// status to another.
func CanAdvance(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if terminalStatuses[from] {
		return false
	}
	return toRank > fromRank
}

// Repository handles database operations for automation records
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new automation repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ============================================================================
// Automation endpoints
// ============================================================================

// GetEndpointByID retrieves an endpoint, nil when absent.
func (r *Repository) GetEndpointByID(id int64) (*models.AutomationEndpoint, error) {
	var ep models.AutomationEndpoint
	err := r.db.First(&ep, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEndpointByID: %w", err)
	}
	return &ep, nil
}

// GetActiveEndpoints returns all active endpoints for a user.
func (r *Repository) GetActiveEndpoints(userID string) ([]models.AutomationEndpoint, error) {
	var eps []models.AutomationEndpoint
	query := r.db.Where("is_active = ?", true)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Find(&eps).Error; err != nil {
		return nil, fmt.Errorf("GetActiveEndpoints: %w", err)
	}
	return eps, nil
}

// SaveEndpoint inserts or updates an endpoint.
func (r *Repository) SaveEndpoint(ep *models.AutomationEndpoint) error {
	if err := r.db.Save(ep).Error; err != nil {
		return fmt.Errorf("SaveEndpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint registration.
func (r *Repository) DeleteEndpoint(id int64) error {
	if err := r.db.Delete(&models.AutomationEndpoint{}, id).Error; err != nil {
		return fmt.Errorf("DeleteEndpoint: %w", err)
	}
	return nil
}

// RecordEndpointTest stamps the outcome of a connection test.
func (r *Repository) RecordEndpointTest(id int64, success bool) error {
	now := time.Now()
	err := r.db.Model(&models.AutomationEndpoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_tested_at":    now,
			"last_test_success": success,
		}).Error
	if err != nil {
		return fmt.Errorf("RecordEndpointTest: %w", err)
	}
	return nil
}

// ============================================================================
// Execution requests
// ============================================================================

// CreateExecutionRequest inserts a new request in CREATED status.
func (r *Repository) CreateExecutionRequest(req *models.ExecutionRequest) error {
	req.Status = models.ExecutionCreated
	if err := r.db.Create(req).Error; err != nil {
		return fmt.Errorf("CreateExecutionRequest: %w", err)
	}
	return nil
}

// GetExecutionRequestByID retrieves a request, nil when absent.
func (r *Repository) GetExecutionRequestByID(id string) (*models.ExecutionRequest, error) {
	var req models.ExecutionRequest
	err := r.db.Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetExecutionRequestByID: %w", err)
	}
	return &req, nil
}

// GetExecutionRequests lists requests for a user, newest first.
func (r *Repository) GetExecutionRequests(userID, status string, limit int) ([]models.ExecutionRequest, error) {
	var reqs []models.ExecutionRequest
	query := r.db.Order("created_at DESC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("GetExecutionRequests: %w", err)
	}
	return reqs, nil
}

// AdvanceExecutionStatus moves a request forward through its status
// machine. Backward or out-of-machine transitions fail with
// ErrInvalidTransition; the update re-checks the stored status inside
// the UPDATE so concurrent advances cannot regress it.
func (r *Repository) AdvanceExecutionStatus(id, to string, errorMessage, externalRef *string) error {
	req, err := r.GetExecutionRequestByID(id)
	if err != nil {
		return err
	}
	if req == nil {
		return database.NewNotFoundError("execution request", id)
	}
	if !CanAdvance(req.Status, to) {
		return &InvalidTransitionError{RequestID: id, From: req.Status, To: to}
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	if externalRef != nil {
		updates["external_reference"] = *externalRef
	}

	result := r.db.Model(&models.ExecutionRequest{}).
		Where("id = ? AND status = ?", id, req.Status).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("AdvanceExecutionStatus: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race; the stored status moved underneath us.
		return &InvalidTransitionError{RequestID: id, From: req.Status, To: to}
	}
	return nil
}

// IncrementAttempts bumps the delivery attempt counter.
func (r *Repository) IncrementAttempts(id string) error {
	err := r.db.Model(&models.ExecutionRequest{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil {
		return fmt.Errorf("IncrementAttempts: %w", err)
	}
	return nil
}

// InvalidTransitionError reports an illegal execution status move.
type InvalidTransitionError struct {
	RequestID string
	From      string
	To        string
}

// Error implements the error interface
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("execution request %s: invalid status transition %s -> %s", e.RequestID, e.From, e.To)
}
