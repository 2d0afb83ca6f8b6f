package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"opportunity-engine/cache"
	"opportunity-engine/database"
	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/helpers"
)

// EndpointStore is the persistence surface the dispatcher needs.
// Implemented by automation.Repository.
type EndpointStore interface {
	GetEndpointByID(id int64) (*models.AutomationEndpoint, error)
	RecordEndpointTest(id int64, success bool) error
	CreateExecutionRequest(req *models.ExecutionRequest) error
	AdvanceExecutionStatus(id, to string, errorMessage, externalRef *string) error
	IncrementAttempts(id string) error
}

// TradeSetup carries the levels an automation delivery is built from.
type TradeSetup struct {
	Symbol     string
	Timeframe  string
	StrategyID string
	Price      float64
	Resistance *float64
	Stop       *float64
	Short      bool
}

// RetryPolicy bounds automation delivery retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used when config leaves retries unset.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Dispatcher fans a fired alert out to its sinks and, when the rule
// requests it, forwards a signed execution request to the configured
// automation endpoint. Sink delivery is best-effort; automation
// delivery is retried and tracked through ExecutionRequest statuses.
type Dispatcher struct {
	store     EndpointStore
	redis     *cache.RedisClient
	sinks     []Notifier
	retry     RetryPolicy
	secretKey []byte
	client    *http.Client

	mu            sync.Mutex
	endpointLocks map[int64]*sync.Mutex
}

// NewDispatcher creates a dispatcher. secretKey decrypts stored
// endpoint signing secrets.
func NewDispatcher(store EndpointStore, redis *cache.RedisClient, retry RetryPolicy, secretKey []byte) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Dispatcher{
		store:         store,
		redis:         redis,
		retry:         retry,
		secretKey:     secretKey,
		client:        &http.Client{Timeout: 15 * time.Second},
		endpointLocks: make(map[int64]*sync.Mutex),
	}
}

// AddSink registers a delivery channel.
func (d *Dispatcher) AddSink(sink Notifier) {
	d.sinks = append(d.sinks, sink)
}

// Dispatch delivers one fired alert. The redis guard keeps a replayed
// event from being announced twice across process restarts.
func (d *Dispatcher) Dispatch(rule models.AlertRule, event *models.AlertEvent, setup TradeSetup) {
	if d.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		ok, err := d.redis.SetNX(ctx, "engine:dispatched:"+event.IdempotencyKey, 1, 24*time.Hour)
		cancel()
		if err == nil && !ok {
			log.Printf("🔇 Alert %s already dispatched, skipping", event.IdempotencyKey)
			return
		}
	}

	for _, sink := range d.sinks {
		if !sink.Enabled(rule) {
			continue
		}
		go func(sink Notifier) {
			if err := sink.Notify(event); err != nil {
				log.Printf("⚠️  %s sink failed for alert %s: %v", sink.Name(), event.IdempotencyKey, err)
			}
		}(sink)
	}

	if rule.SendWebhook && rule.AutomationEndpointID != nil {
		d.forwardToAutomation(rule, event, setup)
	}
}

// forwardToAutomation creates the execution record and hands delivery
// to a background goroutine.
func (d *Dispatcher) forwardToAutomation(rule models.AlertRule, event *models.AlertEvent, setup TradeSetup) {
	endpoint, err := d.getEndpoint(*rule.AutomationEndpointID)
	if err != nil {
		log.Printf("⚠️  Failed to load automation endpoint %d: %v", *rule.AutomationEndpointID, err)
		return
	}
	if endpoint == nil || !endpoint.IsActive {
		return
	}

	timeframe := setup.Timeframe
	req := &models.ExecutionRequest{
		ID:                   uuid.NewString(),
		UserID:               rule.UserID,
		Symbol:               setup.Symbol,
		StrategyID:           setup.StrategyID,
		Timeframe:            &timeframe,
		SetupPayload:         buildCommand(rule, setup),
		AutomationEndpointID: &endpoint.ID,
	}
	if err := d.store.CreateExecutionRequest(req); err != nil {
		log.Printf("⚠️  Failed to create execution request for %s: %v", setup.Symbol, err)
		return
	}

	go d.deliver(endpoint, req, event)
}

// buildCommand renders the automation command line. Exit-style rules
// flatten the position, everything else is an entry setup.
func buildCommand(rule models.AlertRule, setup TradeSetup) string {
	switch rule.ConditionType {
	case models.ConditionStopHit:
		return helpers.FormatExitCommand(helpers.ExitCommand{
			Symbol:     setup.Symbol,
			Reason:     "stop_hit",
			Price:      setup.Price,
			StrategyID: setup.StrategyID,
		})
	case models.ConditionEMAExit:
		return helpers.FormatExitCommand(helpers.ExitCommand{
			Symbol:     setup.Symbol,
			Reason:     "ema_exit",
			Price:      setup.Price,
			StrategyID: setup.StrategyID,
		})
	}

	entry := helpers.EntryCommand{
		Symbol:      setup.Symbol,
		OrderType:   "stop",
		Price:       setup.Price,
		StopPrice:   setup.Stop,
		TargetPrice: setup.Resistance,
		Timeframe:   setup.Timeframe,
		StrategyID:  setup.StrategyID,
		Short:       setup.Short,
	}
	if setup.Resistance != nil {
		// Breakout entries trigger at the resistance level itself.
		entry.Price = *setup.Resistance
	}
	return helpers.FormatEntryCommand(entry)
}

// deliver posts the signed execution payload, retrying with backoff.
// Deliveries to the same endpoint are serialized so the receiving
// bridge sees commands in order.
func (d *Dispatcher) deliver(endpoint *models.AutomationEndpoint, req *models.ExecutionRequest, event *models.AlertEvent) {
	lock := d.lockFor(endpoint.ID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := json.Marshal(map[string]interface{}{
		"execution_id": req.ID,
		"symbol":       req.Symbol,
		"command":      req.SetupPayload,
		"message":      event.Message,
		"price":        event.Price,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		msg := err.Error()
		d.advance(req.ID, models.ExecutionFailed, &msg)
		return
	}

	backoff := d.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if err := d.store.IncrementAttempts(req.ID); err != nil {
			log.Printf("⚠️  Failed to count attempt for execution %s: %v", req.ID, err)
		}

		log.Printf("📡 Delivering execution %s to %s (attempt %d/%d)", req.ID, endpoint.Name, attempt, d.retry.MaxAttempts)
		lastErr = d.post(endpoint, payload)
		if lastErr == nil {
			d.advance(req.ID, models.ExecutionSent, nil)
			return
		}

		if attempt < d.retry.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > d.retry.MaxBackoff {
				backoff = d.retry.MaxBackoff
			}
		}
	}

	msg := lastErr.Error()
	d.advance(req.ID, models.ExecutionFailed, &msg)
	log.Printf("❌ Execution %s failed after %d attempts: %v", req.ID, d.retry.MaxAttempts, lastErr)
}

// post performs one signed delivery attempt.
func (d *Dispatcher) post(endpoint *models.AutomationEndpoint, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return &DispatchError{EndpointID: endpoint.ID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if endpoint.EncryptedSecret != "" {
		secret, err := DecryptSecret(d.secretKey, endpoint.EncryptedSecret)
		if err != nil {
			return &DispatchError{EndpointID: endpoint.ID, Err: err}
		}
		req.Header.Set("X-Signature", SignPayload(secret, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &DispatchError{EndpointID: endpoint.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{EndpointID: endpoint.ID, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
	return nil
}

// TestEndpoint sends a signed connectivity probe and records the
// result on the endpoint. No ExecutionRequest is created.
func (d *Dispatcher) TestEndpoint(endpoint *models.AutomationEndpoint) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"type":      "test",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	err := d.post(endpoint, payload)
	if recordErr := d.store.RecordEndpointTest(endpoint.ID, err == nil); recordErr != nil {
		log.Printf("⚠️  Failed to record endpoint test: %v", recordErr)
	}
	return err
}

// getEndpoint loads an endpoint, cache-aside over redis.
func (d *Dispatcher) getEndpoint(id int64) (*models.AutomationEndpoint, error) {
	cacheKey := fmt.Sprintf("engine:endpoint:%d", id)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if d.redis != nil {
		var cached models.AutomationEndpoint
		if err := d.redis.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	endpoint, err := d.store.GetEndpointByID(id)
	if err != nil || endpoint == nil {
		return endpoint, err
	}

	if d.redis != nil {
		_ = d.redis.Set(ctx, cacheKey, endpoint, database.EndpointsCacheTTL)
	}
	return endpoint, nil
}

// InvalidateEndpointCache drops a cached endpoint after a mutation.
func (d *Dispatcher) InvalidateEndpointCache(id int64) {
	if d.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = d.redis.Delete(ctx, fmt.Sprintf("engine:endpoint:%d", id))
}

func (d *Dispatcher) lockFor(endpointID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.endpointLocks[endpointID]
	if !ok {
		lock = &sync.Mutex{}
		d.endpointLocks[endpointID] = lock
	}
	return lock
}

func (d *Dispatcher) advance(id, status string, errorMessage *string) {
	if err := d.store.AdvanceExecutionStatus(id, status, errorMessage, nil); err != nil {
		log.Printf("⚠️  Failed to advance execution %s to %s: %v", id, status, err)
	}
}

// DispatchError wraps a delivery failure with its endpoint.
type DispatchError struct {
	EndpointID int64
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to endpoint %d failed: %v", e.EndpointID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
