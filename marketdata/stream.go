package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// QuoteSink receives streamed quotes. Implemented by CachedProvider.
type QuoteSink interface {
	PushQuote(Quote)
}

// streamMessage is the wire envelope of the quote feed.
type streamMessage struct {
	Type      string  `json:"type"` // quote, ping, error
	Symbol    string  `json:"symbol,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix millis
	Message   string  `json:"message,omitempty"`
}

// subscribeRequest subscribes the connection to a symbol set.
type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// StreamClient keeps a websocket subscription to the market-data feed
// and pushes every quote into the sink. It handles keep-alive pings,
// health monitoring and reconnection.
type StreamClient struct {
	url         string
	apiKey      string
	symbols     []string
	sink        QuoteSink
	conn        *websocket.Conn
	writeMu     sync.Mutex
	lastMsgTime time.Time
	timeMu      sync.Mutex
}

// NewStreamClient creates a stream client for the given symbol universe.
func NewStreamClient(url, apiKey string, symbols []string, sink QuoteSink) *StreamClient {
	return &StreamClient{
		url:         url,
		apiKey:      apiKey,
		symbols:     symbols,
		sink:        sink,
		lastMsgTime: time.Now(),
	}
}

// Connect establishes the websocket connection and subscribes.
func (s *StreamClient) Connect() error {
	header := make(http.Header)
	if s.apiKey != "" {
		header.Set("X-Api-Key", s.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	log.Printf("✅ Market data stream connected to %s", s.url)

	return s.subscribe()
}

func (s *StreamClient) subscribe() error {
	req := subscribeRequest{Action: "subscribe", Symbols: s.symbols}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscription failed: %w", err)
	}
	log.Printf("📡 Subscribed to %d symbols", len(s.symbols))
	return nil
}

// Run reads the feed until the context is cancelled, pushing quotes to
// the sink and reconnecting on read errors.
func (s *StreamClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			log.Println("🛑 Market data stream stopped")
			return
		default:
		}

		conn := s.currentConn()
		if conn == nil {
			if err := s.Connect(); err != nil {
				log.Printf("❌ Stream reconnection failed: %v", err)
				time.Sleep(5 * time.Second)
				continue
			}
			conn = s.currentConn()
			if conn == nil {
				continue
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("⚠️  Stream read error: %v, reconnecting...", err)
			s.Close()
			time.Sleep(2 * time.Second)
			continue
		}
		s.touch()

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("⚠️  Malformed stream message: %v", err)
			continue
		}

		switch msg.Type {
		case "quote":
			s.sink.PushQuote(Quote{
				Symbol:    msg.Symbol,
				Price:     msg.Price,
				Timestamp: time.UnixMilli(msg.Timestamp),
			})
		case "error":
			log.Printf("⚠️  Stream error message: %s", msg.Message)
		}
	}
}

// StartPing starts the keep-alive pinger.
func (s *StreamClient) StartPing(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.writeMu.Lock()
				conn := s.conn
				if conn != nil {
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						log.Printf("⚠️  Ping failed: %v", err)
					}
				}
				s.writeMu.Unlock()
			}
		}
	}()
}

// RunHealthMonitor reconnects when the feed goes quiet for too long.
func (s *StreamClient) RunHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	log.Println("💓 Stream health monitoring started")

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Stream health monitoring stopped")
			return
		case <-ticker.C:
			silence := time.Since(s.lastMessageTime())
			if silence > 5*time.Minute {
				log.Printf("⚠️  No stream message for %v, reconnecting...", silence.Round(time.Second))
				s.Close()
			}
		}
	}
}

// Close closes the connection; Run will reconnect unless cancelled.
func (s *StreamClient) Close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *StreamClient) currentConn() *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn
}

func (s *StreamClient) touch() {
	s.timeMu.Lock()
	s.lastMsgTime = time.Now()
	s.timeMu.Unlock()
}

func (s *StreamClient) lastMessageTime() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.lastMsgTime
}
