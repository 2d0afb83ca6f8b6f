package marketdata

import (
	"context"
	"sync"
	"time"
)

// ttlEntry is one cached value with its expiry.
type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLStore is a small injected map+TTL cache. It replaces process-wide
// singleton caches so tests can construct and expire their own.
type TTLStore struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry
	now     func() time.Time
}

// NewTTLStore creates an empty store.
func NewTTLStore() *TTLStore {
	return &TTLStore{
		entries: make(map[string]ttlEntry),
		now:     time.Now,
	}
}

// Put stores a value for ttl.
func (s *TTLStore) Put(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = ttlEntry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns a live value, or nil, false when absent or expired.
// Expired entries are removed lazily.
func (s *TTLStore) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// CachedProvider wraps a Provider with a TTL cache. Quotes pushed by
// the websocket stream land here too, so most cycles never hit the
// REST upstream for prices.
type CachedProvider struct {
	upstream  Provider
	store     *TTLStore
	quoteTTL  time.Duration
	candleTTL time.Duration
}

// NewCachedProvider wraps upstream with the given TTLs.
func NewCachedProvider(upstream Provider, store *TTLStore, quoteTTL, candleTTL time.Duration) *CachedProvider {
	if store == nil {
		store = NewTTLStore()
	}
	return &CachedProvider{
		upstream:  upstream,
		store:     store,
		quoteTTL:  quoteTTL,
		candleTTL: candleTTL,
	}
}

// PushQuote stores a streamed quote into the cache. Implements the
// stream's QuoteSink.
func (c *CachedProvider) PushQuote(quote Quote) {
	c.store.Put("quote:"+quote.Symbol, quote, c.quoteTTL)
}

// GetLatestPrice serves from cache, falling back to the upstream pull.
func (c *CachedProvider) GetLatestPrice(ctx context.Context, symbol string) (Quote, error) {
	if v, ok := c.store.Get("quote:" + symbol); ok {
		return v.(Quote), nil
	}

	quote, err := c.upstream.GetLatestPrice(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	c.store.Put("quote:"+symbol, quote, c.quoteTTL)
	return quote, nil
}

// GetCandles serves from cache, falling back to the upstream pull.
func (c *CachedProvider) GetCandles(ctx context.Context, symbol, timeframe string, lookback int) ([]Candle, error) {
	key := "candles:" + symbol + ":" + timeframe
	if v, ok := c.store.Get(key); ok {
		cached := v.([]Candle)
		if len(cached) >= lookback {
			return cached[len(cached)-lookback:], nil
		}
	}

	candles, err := c.upstream.GetCandles(ctx, symbol, timeframe, lookback)
	if err != nil {
		return nil, err
	}
	c.store.Put(key, candles, c.candleTTL)
	return candles, nil
}
