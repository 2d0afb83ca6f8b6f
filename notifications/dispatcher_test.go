package notifications

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	models "opportunity-engine/database/models_pkg"
)

type advanceCall struct {
	id     string
	status string
	errMsg *string
}

type fakeEndpointStore struct {
	mu       sync.Mutex
	endpoint *models.AutomationEndpoint
	created  []*models.ExecutionRequest
	advanced []advanceCall
	attempts map[string]int
	tests    []bool
}

func newFakeEndpointStore(ep *models.AutomationEndpoint) *fakeEndpointStore {
	return &fakeEndpointStore{endpoint: ep, attempts: make(map[string]int)}
}

func (f *fakeEndpointStore) GetEndpointByID(id int64) (*models.AutomationEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endpoint != nil && f.endpoint.ID == id {
		return f.endpoint, nil
	}
	return nil, nil
}

func (f *fakeEndpointStore) RecordEndpointTest(id int64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, success)
	return nil
}

func (f *fakeEndpointStore) CreateExecutionRequest(req *models.ExecutionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Status = models.ExecutionCreated
	f.created = append(f.created, req)
	return nil
}

func (f *fakeEndpointStore) AdvanceExecutionStatus(id, to string, errorMessage, externalRef *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, advanceCall{id: id, status: to, errMsg: errorMessage})
	return nil
}

func (f *fakeEndpointStore) IncrementAttempts(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return nil
}

func (f *fakeEndpointStore) lastAdvance() (advanceCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.advanced) == 0 {
		return advanceCall{}, false
	}
	return f.advanced[len(f.advanced)-1], true
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func testEvent() *models.AlertEvent {
	return &models.AlertEvent{
		IdempotencyKey: "1:ABCD:1750000000",
		Symbol:         "ABCD",
		Type:           models.ConditionStageEntered,
		Message:        "🚀 ABCD entered BREAKOUT",
		Price:          105.25,
	}
}

func TestDeliverSignsAndAdvancesToSent(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	encrypted, err := EncryptSecret(testKey, "whsec_abc")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	endpoint := &models.AutomationEndpoint{ID: 7, Name: "Bridge", WebhookURL: server.URL, EncryptedSecret: encrypted, IsActive: true}
	store := newFakeEndpointStore(endpoint)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	req := &models.ExecutionRequest{ID: "exec-1", Symbol: "ABCD", SetupPayload: "entry symbol=ABCD type=stop price=110"}
	d.deliver(endpoint, req, testEvent())

	last, ok := store.lastAdvance()
	if !ok || last.status != models.ExecutionSent {
		t.Fatalf("expected advance to SENT, got %+v", last)
	}
	if store.attempts["exec-1"] != 1 {
		t.Errorf("expected 1 attempt, got %d", store.attempts["exec-1"])
	}
	if gotSignature == "" {
		t.Fatal("expected X-Signature header to be set")
	}
	if want := SignPayload("whsec_abc", gotBody); gotSignature != want {
		t.Errorf("signature does not verify against the delivered body")
	}
}

func TestDeliverExhaustsRetriesAndFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	endpoint := &models.AutomationEndpoint{ID: 7, Name: "Bridge", WebhookURL: server.URL, IsActive: true}
	store := newFakeEndpointStore(endpoint)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	req := &models.ExecutionRequest{ID: "exec-2", Symbol: "ABCD", SetupPayload: "entry symbol=ABCD type=stop price=110"}
	d.deliver(endpoint, req, testEvent())

	if store.attempts["exec-2"] != 3 {
		t.Errorf("expected 3 attempts, got %d", store.attempts["exec-2"])
	}
	last, ok := store.lastAdvance()
	if !ok || last.status != models.ExecutionFailed {
		t.Fatalf("expected advance to FAILED, got %+v", last)
	}
	if last.errMsg == nil || *last.errMsg == "" {
		t.Error("expected the failure reason to be recorded")
	}
}

func TestDeliverOmitsSignatureWithoutSecret(t *testing.T) {
	var sawSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSignature = r.Header.Get("X-Signature") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := &models.AutomationEndpoint{ID: 8, Name: "Open", WebhookURL: server.URL, IsActive: true}
	store := newFakeEndpointStore(endpoint)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	d.deliver(endpoint, &models.ExecutionRequest{ID: "exec-3", Symbol: "ABCD"}, testEvent())

	if sawSignature {
		t.Error("expected no X-Signature header when the endpoint has no secret")
	}
}

func TestDispatchForwardsToAutomation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := &models.AutomationEndpoint{ID: 9, Name: "Bridge", WebhookURL: server.URL, IsActive: true}
	store := newFakeEndpointStore(endpoint)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	endpointID := endpoint.ID
	rule := models.AlertRule{ID: 1, UserID: "u1", ConditionType: models.ConditionStageEntered, SendWebhook: true, AutomationEndpointID: &endpointID}
	resistance := 110.0
	setup := TradeSetup{Symbol: "ABCD", Timeframe: "1d", StrategyID: "resistance_breakout", Price: 105.25, Resistance: &resistance}

	d.Dispatch(rule, testEvent(), setup)

	store.mu.Lock()
	created := len(store.created)
	store.mu.Unlock()
	if created != 1 {
		t.Fatalf("expected one execution request, got %d", created)
	}

	// Delivery happens on a background goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last, ok := store.lastAdvance(); ok && last.status == models.ExecutionSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution request never advanced to SENT")
}

func TestDispatchSkipsAutomationWhenNotRequested(t *testing.T) {
	store := newFakeEndpointStore(nil)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	rule := models.AlertRule{ID: 1, ConditionType: models.ConditionStageEntered, SendWebhook: false}
	d.Dispatch(rule, testEvent(), TradeSetup{Symbol: "ABCD", Price: 100})

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.created) != 0 {
		t.Errorf("expected no execution requests, got %d", len(store.created))
	}
}

func TestBuildCommand(t *testing.T) {
	resistance := 110.0
	stop := 95.0

	tests := []struct {
		name  string
		rule  models.AlertRule
		setup TradeSetup
		want  string
	}{
		{
			name:  "stop hit flattens the position",
			rule:  models.AlertRule{ConditionType: models.ConditionStopHit},
			setup: TradeSetup{Symbol: "ABCD", Price: 94.5, StrategyID: "resistance_breakout"},
			want:  "exit symbol=ABCD price=94.5 reason=stop_hit strategy=resistance_breakout",
		},
		{
			name:  "ema exit flattens the position",
			rule:  models.AlertRule{ConditionType: models.ConditionEMAExit},
			setup: TradeSetup{Symbol: "ABCD", Price: 101, StrategyID: "resistance_breakout"},
			want:  "exit symbol=ABCD price=101 reason=ema_exit strategy=resistance_breakout",
		},
		{
			name:  "entry triggers at the resistance level",
			rule:  models.AlertRule{ConditionType: models.ConditionStageEntered},
			setup: TradeSetup{Symbol: "ABCD", Timeframe: "1d", StrategyID: "resistance_breakout", Price: 105.25, Resistance: &resistance, Stop: &stop},
			want:  "entry symbol=ABCD type=stop price=110 stop=95 target=110 tf=1d strategy=resistance_breakout",
		},
		{
			name:  "entry without levels uses last price",
			rule:  models.AlertRule{ConditionType: models.ConditionScoreThreshold},
			setup: TradeSetup{Symbol: "ABCD", Timeframe: "1h", StrategyID: "resistance_breakout", Price: 105.25, Short: true},
			want:  "entry symbol=ABCD type=stop price=105.25 tf=1h strategy=resistance_breakout side=short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildCommand(tt.rule, tt.setup); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTestEndpointRecordsOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := &models.AutomationEndpoint{ID: 5, Name: "Bridge", WebhookURL: server.URL, IsActive: true}
	store := newFakeEndpointStore(endpoint)
	d := NewDispatcher(store, nil, fastRetry(), testKey)

	if err := d.TestEndpoint(endpoint); err != nil {
		t.Fatalf("expected probe to succeed: %v", err)
	}

	server.Close()
	if err := d.TestEndpoint(endpoint); err == nil {
		t.Fatal("expected probe against a closed server to fail")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.tests) != 2 || !store.tests[0] || store.tests[1] {
		t.Errorf("expected recorded outcomes [true false], got %v", store.tests)
	}
}
