package models

import "time"

// Opportunity stage classifications, ordered by maturity.
// StagePriority maps them to a comparable rank; stages on a live
// opportunity only ever move up this ladder.
const (
	StageForming     = "FORMING"
	StageApproaching = "APPROACHING"
	StageReady       = "READY"
	StageBreakout    = "BREAKOUT"
)

// StagePriority ranks pattern stages for aggregation and monotonic
// progression checks. Unknown stages rank below FORMING.
var StagePriority = map[string]int{
	StageForming:     1,
	StageApproaching: 2,
	StageReady:       3,
	StageBreakout:    4,
}

// Opportunity statuses and resolution outcomes.
const (
	OpportunityActive   = "ACTIVE"
	OpportunityResolved = "RESOLVED"

	OutcomeBrokeResistance = "BROKE_RESISTANCE"
	OutcomeInvalidated     = "INVALIDATED"
	OutcomeExpired         = "EXPIRED"
)

// ExecutionRequest statuses. Transitions are strictly forward-moving;
// see automation.Repository.AdvanceExecutionStatus.
const (
	ExecutionCreated  = "CREATED"
	ExecutionSent     = "SENT"
	ExecutionAcked    = "ACKED"
	ExecutionExecuted = "EXECUTED"
	ExecutionRejected = "REJECTED"
	ExecutionFailed   = "FAILED"
)

// Alert rule condition types.
const (
	ConditionStageEntered        = "STAGE_ENTERED"
	ConditionScoreThreshold      = "SCORE_THRESHOLD"
	ConditionConfluenceThreshold = "CONFLUENCE_THRESHOLD"
	ConditionApproaching         = "APPROACHING"
	ConditionStopHit             = "STOP_HIT"
	ConditionEMAExit             = "EMA_EXIT"
)

// StrategySignal is the canonical per-cycle detector output. It is
// ephemeral: consumed by the confluence aggregator and the rule
// evaluator within the cycle that produced it, never persisted.
type StrategySignal struct {
	Symbol             string    `json:"symbol"`
	StrategyID         string    `json:"strategy_id"`
	StrategyName       string    `json:"strategy_name"`
	Timeframe          string    `json:"timeframe"`
	Stage              string    `json:"stage"`
	DetectedAt         time.Time `json:"detected_at"`
	DetectedPrice      float64   `json:"detected_price"`
	ResistancePrice    *float64  `json:"resistance_price,omitempty"`
	StopReferencePrice *float64  `json:"stop_reference_price,omitempty"`
	Score              float64   `json:"score"` // 0-100
	ShortStyle         bool      `json:"short_style,omitempty"`
}

// Opportunity is a single tracked instance of a detected pattern on a
// symbol/timeframe, from detection to resolution.
//
// Invariants:
//   - At most one ACTIVE row per DedupeKey; a matching new signal
//     updates the existing row in place.
//   - RESOLVED rows always carry ResolutionOutcome, ResolvedAt,
//     ResolutionPrice and DaysToResolution.
//   - Rows are append-only: never deleted, they feed the outcome report.
type Opportunity struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol             string     `gorm:"size:12;index;not null" json:"symbol"`
	StrategyID         string     `gorm:"size:50;not null" json:"strategy_id"`
	StrategyName       string     `gorm:"size:100" json:"strategy_name"`
	Timeframe          string     `gorm:"size:10;not null" json:"timeframe"`
	StageAtDetection   string     `gorm:"size:20;not null" json:"stage_at_detection"`
	CurrentStage       string     `gorm:"size:20;not null" json:"current_stage"`
	DetectedAt         time.Time  `gorm:"index;not null" json:"detected_at"`
	DetectedPrice      float64    `gorm:"type:decimal(15,4);not null" json:"detected_price"`
	ResistancePrice    *float64   `gorm:"type:decimal(15,4)" json:"resistance_price,omitempty"`
	StopReferencePrice *float64   `gorm:"type:decimal(15,4)" json:"stop_reference_price,omitempty"`
	EntryTriggerPrice  *float64   `gorm:"type:decimal(15,4)" json:"entry_trigger_price,omitempty"`
	ConfluenceScore    float64    `gorm:"type:decimal(6,2)" json:"confluence_score"`
	StrategyCount      int        `gorm:"default:1" json:"strategy_count"`
	ShortStyle         bool       `gorm:"default:false" json:"short_style"`
	Status             string     `gorm:"size:10;index;not null;default:ACTIVE" json:"status"`
	ResolutionOutcome  *string    `gorm:"size:20" json:"resolution_outcome,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolutionPrice    *float64   `gorm:"type:decimal(15,4)" json:"resolution_price,omitempty"`
	PnlPercent         *float64   `gorm:"type:decimal(10,4)" json:"pnl_percent,omitempty"`
	DaysToResolution   *int       `json:"days_to_resolution,omitempty"`
	DedupeKey          string     `gorm:"size:120;index;not null" json:"dedupe_key"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Opportunity
func (Opportunity) TableName() string {
	return "opportunities"
}

// AlertRule is a stored, user- or system-owned alert definition matched
// against the aggregated signal state on every evaluation cycle.
// Rules are edge-triggered: they fire only on a transition into the
// matching condition, tracked per (rule, symbol) in RuleEvalState.
type AlertRule struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerScope           string     `gorm:"size:10;not null;default:user" json:"owner_scope"` // user, global
	UserID               string     `gorm:"size:40;index" json:"user_id"`
	Symbol               *string    `gorm:"size:12;index" json:"symbol,omitempty"` // nil for watchlist/global scope
	WatchlistID          *int64     `gorm:"index" json:"watchlist_id,omitempty"`
	Strategies           string     `gorm:"size:255" json:"strategies"` // comma-separated strategy ids, empty = any
	Timeframe            string     `gorm:"size:10" json:"timeframe"`
	ConditionType        string     `gorm:"size:30;not null" json:"condition_type"`
	TargetStage          *string    `gorm:"size:20" json:"target_stage,omitempty"`
	ScoreThreshold       *float64   `gorm:"type:decimal(6,2)" json:"score_threshold,omitempty"`
	MinStrategies        *int       `json:"min_strategies,omitempty"`
	ProximityPercent     *float64   `gorm:"type:decimal(6,2)" json:"proximity_percent,omitempty"`
	EMAPeriod            *int       `json:"ema_period,omitempty"`
	CooldownMinutes      int        `gorm:"default:30" json:"cooldown_minutes"`
	IsEnabled            bool       `gorm:"default:true;index" json:"is_enabled"`
	SendPushNotification bool       `gorm:"default:true" json:"send_push_notification"`
	SendWebhook          bool       `gorm:"default:false" json:"send_webhook"`
	AutomationEndpointID *int64     `json:"automation_endpoint_id,omitempty"`
	AutomationProfileID  *string    `gorm:"size:40" json:"automation_profile_id,omitempty"`
	LastEvaluatedAt      *time.Time `json:"last_evaluated_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AlertRule
func (AlertRule) TableName() string {
	return "alert_rules"
}

// RuleEvalState is the per-(rule, symbol) snapshot used for
// edge-triggering: a typed row holding the last observed stage, score
// and confluence count, plus the last fire time for cooldown checks.
type RuleEvalState struct {
	RuleID          int64      `gorm:"primaryKey" json:"rule_id"`
	Symbol          string     `gorm:"primaryKey;size:12" json:"symbol"`
	LastStage       string     `gorm:"size:20" json:"last_stage"`
	LastScore       float64    `gorm:"type:decimal(6,2)" json:"last_score"`
	LastConfluence  int        `json:"last_confluence"`
	LastPrice       float64    `gorm:"type:decimal(15,4)" json:"last_price"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for RuleEvalState
func (RuleEvalState) TableName() string {
	return "rule_eval_states"
}

// AlertEvent is an emitted alert. Immutable once created except for
// IsRead. IdempotencyKey is derived from (rule, symbol, transition
// timestamp) so a crash between state update and event creation can
// never double-fire the same transition.
type AlertEvent struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	IdempotencyKey string    `gorm:"size:80;uniqueIndex" json:"idempotency_key"`
	RuleID         *int64    `gorm:"index" json:"rule_id,omitempty"`
	UserID         string    `gorm:"size:40;index" json:"user_id"`
	Symbol         string    `gorm:"size:12;index;not null" json:"symbol"`
	Type           string    `gorm:"size:30;not null" json:"type"`
	Message        string    `json:"message"`
	Price          float64   `gorm:"type:decimal(15,4)" json:"price"`
	TargetPrice    *float64  `gorm:"type:decimal(15,4)" json:"target_price,omitempty"`
	StopPrice      *float64  `gorm:"type:decimal(15,4)" json:"stop_price,omitempty"`
	IsRead         bool      `gorm:"default:false" json:"is_read"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for AlertEvent
func (AlertEvent) TableName() string {
	return "alert_events"
}

// AutomationEndpoint is a user-configured trade-automation webhook
// target. The signing secret is stored encrypted at rest.
type AutomationEndpoint struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string     `gorm:"size:40;index;not null" json:"user_id"`
	Name            string     `gorm:"size:100;not null" json:"name"`
	WebhookURL      string     `gorm:"not null" json:"webhook_url"`
	EncryptedSecret string     `json:"-"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	LastTestedAt    *time.Time `json:"last_tested_at,omitempty"`
	LastTestSuccess *bool      `json:"last_test_success,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AutomationEndpoint
func (AutomationEndpoint) TableName() string {
	return "automation_endpoints"
}

// ExecutionRequest records a signal forwarded to an external,
// user-controlled trade-automation endpoint and tracks its delivery
// and execution status.
type ExecutionRequest struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"` // uuid
	UserID               string    `gorm:"size:40;index;not null" json:"user_id"`
	Symbol               string    `gorm:"size:12;index;not null" json:"symbol"`
	StrategyID           string    `gorm:"size:50" json:"strategy_id"`
	Timeframe            *string   `gorm:"size:10" json:"timeframe,omitempty"`
	SetupPayload         string    `json:"setup_payload"` // entry/exit command string
	AutomationEndpointID *int64    `gorm:"index" json:"automation_endpoint_id,omitempty"`
	Status               string    `gorm:"size:10;index;not null;default:CREATED" json:"status"`
	AttemptCount         int       `gorm:"default:0" json:"attempt_count"`
	ExternalReference    *string   `gorm:"size:100" json:"external_reference,omitempty"`
	RedirectURL          *string   `json:"redirect_url,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for ExecutionRequest
func (ExecutionRequest) TableName() string {
	return "execution_requests"
}

// Watchlist groups symbols for watchlist-scoped alert rules.
type Watchlist struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:40;index" json:"user_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Watchlist
func (Watchlist) TableName() string {
	return "watchlists"
}

// WatchlistSymbol is one symbol entry of a watchlist.
type WatchlistSymbol struct {
	WatchlistID int64  `gorm:"primaryKey" json:"watchlist_id"`
	Symbol      string `gorm:"primaryKey;size:12" json:"symbol"`
}

// TableName specifies the table name for WatchlistSymbol
func (WatchlistSymbol) TableName() string {
	return "watchlist_symbols"
}

// MarketRegime is the per-cycle output of the regime classifier.
// Trending regimes boost confluence scores, risk-off regimes dampen
// them; Adjustment is the multiplicative factor applied by the
// aggregator (1.0 = neutral).
type MarketRegime struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DetectedAt      time.Time `gorm:"index;not null" json:"detected_at"`
	Regime          string    `gorm:"size:20;not null" json:"regime"` // TRENDING_UP, TRENDING_DOWN, RANGING, RISK_OFF
	Confidence      float64   `gorm:"type:decimal(5,2);not null" json:"confidence"`
	Adjustment      float64   `gorm:"type:decimal(5,3);not null;default:1.0" json:"adjustment"`
	LookbackPeriods int       `json:"lookback_periods"`
	EMASlope        *float64  `gorm:"type:decimal(10,6)" json:"ema_slope,omitempty"`
	ATRPercent      *float64  `gorm:"type:decimal(6,3)" json:"atr_percent,omitempty"`
}

// TableName specifies the table name for MarketRegime
func (MarketRegime) TableName() string {
	return "market_regimes"
}

// OutcomeReportRow is an aggregate analytics row over resolved
// opportunities, grouped per strategy and timeframe. Computed by
// query, not persisted.
type OutcomeReportRow struct {
	StrategyID       string   `json:"strategy_id"`
	Timeframe        string   `json:"timeframe"`
	Total            int64    `json:"total"`
	BrokeResistance  int64    `json:"broke_resistance"`
	Invalidated      int64    `json:"invalidated"`
	Expired          int64    `json:"expired"`
	AvgPnlPercent    *float64 `json:"avg_pnl_percent,omitempty"`
	AvgDaysToResolve *float64 `json:"avg_days_to_resolve,omitempty"`
}
