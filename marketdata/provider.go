// Package marketdata supplies latest prices and candles to the engine.
// It is a pull interface with caching; a websocket stream keeps the
// latest-price cache warm between pulls.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Provider is the pull contract the engine depends on. Both calls must
// respect the context deadline; a hung upstream must not stall a scan
// worker.
type Provider interface {
	GetLatestPrice(ctx context.Context, symbol string) (Quote, error)
	GetCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]Candle, error)
}

// UnavailableError signals that market data could not be fetched for a
// symbol this cycle. Opportunities for that symbol stay ACTIVE and are
// re-checked next cycle.
type UnavailableError struct {
	Symbol string
	Err    error
}

// Error implements the error interface
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("market data unavailable for %s: %v", e.Symbol, e.Err)
}

// Unwrap returns the underlying error
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// HTTPProvider pulls quotes and candles from a REST market-data
// service.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetLatestPrice fetches the latest quote for a symbol.
func (p *HTTPProvider) GetLatestPrice(ctx context.Context, symbol string) (Quote, error) {
	var quote Quote
	endpoint := fmt.Sprintf("%s/v1/quotes/%s", p.baseURL, url.PathEscape(symbol))
	if err := p.getJSON(ctx, endpoint, &quote); err != nil {
		return Quote{}, &UnavailableError{Symbol: symbol, Err: err}
	}
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now()
	}
	return quote, nil
}

// GetCandles fetches up to lookback candles for a symbol/timeframe,
// oldest first.
func (p *HTTPProvider) GetCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]Candle, error) {
	var candles []Candle
	endpoint := fmt.Sprintf("%s/v1/candles/%s?timeframe=%s&limit=%d",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(timeframe), lookback)
	if err := p.getJSON(ctx, endpoint, &candles); err != nil {
		return nil, &UnavailableError{Symbol: symbol, Err: err}
	}
	return candles, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}
