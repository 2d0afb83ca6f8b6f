package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"opportunity-engine/cache"
	models "opportunity-engine/database/models_pkg"
	"opportunity-engine/realtime"
)

// Notifier is one alert delivery channel. Sinks are best-effort and
// independent: one failing never blocks the others.
type Notifier interface {
	Name() string
	Enabled(rule models.AlertRule) bool
	Notify(event *models.AlertEvent) error
}

// FeedSink fans alerts out to connected dashboards over SSE and
// publishes them on the redis alerts channel for other consumers.
type FeedSink struct {
	broker *realtime.Broker
	redis  *cache.RedisClient
}

const alertsChannel = "engine:alerts"

// NewFeedSink creates the in-app feed sink.
func NewFeedSink(broker *realtime.Broker, redis *cache.RedisClient) *FeedSink {
	return &FeedSink{broker: broker, redis: redis}
}

// Name returns the sink identifier.
func (fs *FeedSink) Name() string { return "feed" }

// Enabled reports that the feed always receives alerts.
func (fs *FeedSink) Enabled(rule models.AlertRule) bool { return true }

// Notify pushes the event to SSE subscribers and the redis channel.
func (fs *FeedSink) Notify(event *models.AlertEvent) error {
	fs.broker.PublishAlert(event)

	if fs.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := fs.redis.Publish(ctx, alertsChannel, event); err != nil {
			log.Printf("⚠️  Failed to publish alert to redis: %v", err)
		}
	}
	return nil
}

// PushSink forwards alerts to an external push-notification gateway.
type PushSink struct {
	url    string
	apiKey string
	client *http.Client
}

// NewPushSink creates a push sink for the given gateway.
func NewPushSink(url, apiKey string) *PushSink {
	return &PushSink{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the sink identifier.
func (ps *PushSink) Name() string { return "push" }

// Enabled honors the rule's push toggle.
func (ps *PushSink) Enabled(rule models.AlertRule) bool { return rule.SendPushNotification }

// Notify posts the alert to the gateway.
func (ps *PushSink) Notify(event *models.AlertEvent) error {
	body, err := json.Marshal(map[string]interface{}{
		"user_id": event.UserID,
		"title":   fmt.Sprintf("%s %s", event.Symbol, event.Type),
		"message": event.Message,
		"data": map[string]interface{}{
			"alert_id": event.ID,
			"symbol":   event.Symbol,
			"price":    event.Price,
		},
	})
	if err != nil {
		return fmt.Errorf("push payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ps.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ps.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+ps.apiKey)
	}

	resp, err := ps.client.Do(req)
	if err != nil {
		return fmt.Errorf("push delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
