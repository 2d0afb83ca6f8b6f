package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"opportunity-engine/database"
	"opportunity-engine/database/automation"
	"opportunity-engine/database/rules"
	"opportunity-engine/notifications"
	"opportunity-engine/realtime"
)

// RuleCacheInvalidator drops the scanner's cached rule set after a
// rule mutation so the next cycle sees the change.
type RuleCacheInvalidator interface {
	InvalidateRulesCache()
}

// Server handles HTTP API requests
type Server struct {
	repo       *database.EngineRepository
	rulesRepo  *rules.Repository
	autoRepo   *automation.Repository
	dispatcher *notifications.Dispatcher
	broker     *realtime.Broker
	scanner    RuleCacheInvalidator
	secretKey  []byte
}

// NewServer creates a new API server instance
func NewServer(repo *database.EngineRepository, rulesRepo *rules.Repository, autoRepo *automation.Repository, dispatcher *notifications.Dispatcher, broker *realtime.Broker, secretKey []byte) *Server {
	return &Server{
		repo:       repo,
		rulesRepo:  rulesRepo,
		autoRepo:   autoRepo,
		dispatcher: dispatcher,
		broker:     broker,
		secretKey:  secretKey,
	}
}

// SetScanner injects the scanner for rule cache invalidation.
func (s *Server) SetScanner(scanner RuleCacheInvalidator) {
	s.scanner = scanner
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Register routes
	mux.Handle("GET /api/events", s.broker) // SSE Endpoint

	// Opportunity Routes
	mux.HandleFunc("GET /api/opportunities", s.handleGetActiveOpportunities)
	mux.HandleFunc("GET /api/opportunities/history", s.handleGetOpportunityHistory)
	mux.HandleFunc("GET /api/opportunities/report", s.handleGetOutcomeReport)
	mux.HandleFunc("GET /api/regime", s.handleGetRegime)

	// Alert Routes
	mux.HandleFunc("GET /api/alerts", s.handleGetAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/read", s.handleMarkAlertRead)

	// Rule Management Routes
	mux.HandleFunc("GET /api/rules", s.handleGetRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)

	// Automation Routes
	mux.HandleFunc("GET /api/automation/endpoints", s.handleGetEndpoints)
	mux.HandleFunc("POST /api/automation/endpoints", s.handleCreateEndpoint)
	mux.HandleFunc("PUT /api/automation/endpoints/{id}", s.handleUpdateEndpoint)
	mux.HandleFunc("DELETE /api/automation/endpoints/{id}", s.handleDeleteEndpoint)
	mux.HandleFunc("POST /api/automation/endpoints/{id}/test", s.handleTestEndpoint)
	mux.HandleFunc("GET /api/automation/executions", s.handleGetExecutions)
	mux.HandleFunc("GET /api/automation/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/automation/callback", s.handleExecutionCallback)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
