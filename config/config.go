package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Market data configuration
	MarketData MarketDataConfig

	// Engine configuration
	Engine EngineConfig

	// Dispatch configuration
	Dispatch DispatchConfig

	// API server port
	APIPort int
}

// MarketDataConfig holds upstream market data settings
type MarketDataConfig struct {
	BaseURL        string
	StreamURL      string
	APIKey         string
	QuoteTTLSecs   int
	CandleTTLSecs  int
	StreamEnabled  bool
	RequestTimeout int // seconds
}

// EngineConfig holds scan and scoring parameters
type EngineConfig struct {
	IntradaySpec string // cron spec for the in-session scan
	DailySpec    string // cron spec for the after-close scan

	Timeframes     []string
	CandleLookback int
	Workers        int
	SymbolTimeout  int // seconds

	OpenMinScore float64
	OpenMinStage string

	DailyValidityDays int
	RegimeSymbol      string
	RegimeIntervalMin int
}

// DispatchConfig holds alert delivery settings
type DispatchConfig struct {
	PushGatewayURL string
	PushAPIKey     string
	SecretKey      string // AES key for endpoint secrets, 32 bytes
	MaxAttempts    int
	BackoffSecs    int
	MaxBackoffSecs int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "opportunity_engine"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "engine"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "engine123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		MarketData: MarketDataConfig{
			BaseURL:        getEnvOrDefault("MARKET_DATA_URL", "http://localhost:9000"),
			StreamURL:      getEnvOrDefault("MARKET_DATA_WS_URL", ""),
			APIKey:         getEnvOrDefault("MARKET_DATA_API_KEY", ""),
			QuoteTTLSecs:   getEnvInt("MARKET_DATA_QUOTE_TTL", 10),
			CandleTTLSecs:  getEnvInt("MARKET_DATA_CANDLE_TTL", 60),
			StreamEnabled:  getEnvOrDefault("MARKET_DATA_STREAM_ENABLED", "false") == "true",
			RequestTimeout: getEnvInt("MARKET_DATA_TIMEOUT", 10),
		},

		Engine: EngineConfig{
			IntradaySpec: getEnvOrDefault("ENGINE_INTRADAY_SPEC", "@every 5m"),
			DailySpec:    getEnvOrDefault("ENGINE_DAILY_SPEC", "30 16 * * MON-FRI"),

			Timeframes:     splitList(getEnvOrDefault("ENGINE_TIMEFRAMES", "15m,1h")),
			CandleLookback: getEnvInt("ENGINE_CANDLE_LOOKBACK", 60),
			Workers:        getEnvInt("ENGINE_WORKERS", 8),
			SymbolTimeout:  getEnvInt("ENGINE_SYMBOL_TIMEOUT", 20),

			OpenMinScore: getEnvFloat("ENGINE_OPEN_MIN_SCORE", 50.0),
			OpenMinStage: getEnvOrDefault("ENGINE_OPEN_MIN_STAGE", "APPROACHING"),

			DailyValidityDays: getEnvInt("ENGINE_DAILY_VALIDITY_DAYS", 10),
			RegimeSymbol:      getEnvOrDefault("ENGINE_REGIME_SYMBOL", "SPY"),
			RegimeIntervalMin: getEnvInt("ENGINE_REGIME_INTERVAL", 15),
		},

		Dispatch: DispatchConfig{
			PushGatewayURL: getEnvOrDefault("DISPATCH_PUSH_URL", ""),
			PushAPIKey:     getEnvOrDefault("DISPATCH_PUSH_API_KEY", ""),
			SecretKey:      getEnvOrDefault("DISPATCH_SECRET_KEY", ""),
			MaxAttempts:    getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
			BackoffSecs:    getEnvInt("DISPATCH_BACKOFF_SECS", 2),
			MaxBackoffSecs: getEnvInt("DISPATCH_MAX_BACKOFF_SECS", 30),
		},

		APIPort: getEnvInt("API_PORT", 8080),
	}
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
