package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"opportunity-engine/api"
	"opportunity-engine/cache"
	"opportunity-engine/config"
	"opportunity-engine/database"
	"opportunity-engine/database/automation"
	"opportunity-engine/database/rules"
	"opportunity-engine/marketdata"
	"opportunity-engine/notifications"
	"opportunity-engine/realtime"
)

// App represents the main application
type App struct {
	config     *config.Config
	db         *database.Database
	redis      *cache.RedisClient
	repo       *database.EngineRepository
	rulesRepo  *rules.Repository
	autoRepo   *automation.Repository
	broker     *realtime.Broker
	provider   *marketdata.CachedProvider
	stream     *marketdata.StreamClient
	dispatcher *notifications.Dispatcher
	regime     *RegimeDetector
	tracker    *OpportunityTracker
	scanner    *Scanner
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start starts the application
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database Connection
	fmt.Println("🗄️  Connecting to database...")

	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	// 2. Redis Connection
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)
	if redisClient == nil {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	} else {
		a.redis = redisClient
	}

	// 3. Initialize schema and repositories
	a.repo = database.NewEngineRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	a.rulesRepo = rules.NewRepository(a.db.DB())
	a.autoRepo = automation.NewRepository(a.db.DB())

	// 4. Market data provider, with an optional streaming overlay
	httpProvider := marketdata.NewHTTPProvider(
		a.config.MarketData.BaseURL,
		a.config.MarketData.APIKey,
		time.Duration(a.config.MarketData.RequestTimeout)*time.Second,
	)
	a.provider = marketdata.NewCachedProvider(
		httpProvider,
		marketdata.NewTTLStore(),
		time.Duration(a.config.MarketData.QuoteTTLSecs)*time.Second,
		time.Duration(a.config.MarketData.CandleTTLSecs)*time.Second,
	)

	// 5. Realtime broker for dashboard SSE
	a.broker = realtime.NewBroker()
	go a.broker.Run()

	// 6. Alert dispatcher and sinks
	retry := notifications.RetryPolicy{
		MaxAttempts:    a.config.Dispatch.MaxAttempts,
		InitialBackoff: time.Duration(a.config.Dispatch.BackoffSecs) * time.Second,
		MaxBackoff:     time.Duration(a.config.Dispatch.MaxBackoffSecs) * time.Second,
	}
	a.dispatcher = notifications.NewDispatcher(a.autoRepo, a.redis, retry, []byte(a.config.Dispatch.SecretKey))
	a.dispatcher.AddSink(notifications.NewFeedSink(a.broker, a.redis))
	if a.config.Dispatch.PushGatewayURL != "" {
		a.dispatcher.AddSink(notifications.NewPushSink(a.config.Dispatch.PushGatewayURL, a.config.Dispatch.PushAPIKey))
		log.Println("✅ Push notifications ENABLED")
	} else {
		log.Println("ℹ️  Push notifications DISABLED")
	}

	// 7. Regime detector
	a.regime = NewRegimeDetector(
		a.repo,
		a.provider,
		a.config.Engine.RegimeSymbol,
		time.Duration(a.config.Engine.RegimeIntervalMin)*time.Minute,
	)
	go a.regime.Start()

	// 8. Scan pipeline
	intake := NewSignalIntake([]Detector{NewBreakoutDetector()})
	aggregator := NewConfluenceAggregator(a.repo, a.config.Engine.OpenMinScore, a.config.Engine.OpenMinStage)
	a.tracker = NewOpportunityTracker(a.repo, a.provider, a.config.Engine.DailyValidityDays)
	evaluator := NewRuleEvaluator(a.rulesRepo)

	a.scanner = NewScanner(ScannerDeps{
		Intake:        intake,
		Aggregator:    aggregator,
		Tracker:       a.tracker,
		Evaluator:     evaluator,
		Dispatcher:    &dispatchAdapter{dispatcher: a.dispatcher},
		Rules:         a.rulesRepo,
		Watchlists:    a.repo,
		Universe:      a.repo,
		Opportunities: a.repo,
		Regime:        a.regime,
		Provider:      a.provider,
		Redis:         a.redis,
	},
		a.config.Engine.Timeframes,
		a.config.Engine.CandleLookback,
		a.config.Engine.Workers,
		time.Duration(a.config.Engine.SymbolTimeout)*time.Second,
	)
	if err := a.scanner.Start(a.config.Engine.IntradaySpec, a.config.Engine.DailySpec); err != nil {
		return fmt.Errorf("scanner start failed: %w", err)
	}

	// 9. API server
	apiServer := api.NewServer(a.repo, a.rulesRepo, a.autoRepo, a.dispatcher, a.broker, []byte(a.config.Dispatch.SecretKey))
	apiServer.SetScanner(a.scanner)
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// Setup WaitGroup for goroutines
	var wg sync.WaitGroup

	// 10. Optional quote stream keeps the price cache warm between polls
	if a.config.MarketData.StreamEnabled && a.config.MarketData.StreamURL != "" {
		symbols, err := a.repo.GetScanSymbols()
		if err != nil {
			log.Printf("⚠️  Failed to load symbols for streaming: %v", err)
		} else if len(symbols) > 0 {
			a.stream = marketdata.NewStreamClient(
				a.config.MarketData.StreamURL,
				a.config.MarketData.APIKey,
				symbols,
				a.provider,
			)
			if err := a.stream.Connect(); err != nil {
				log.Printf("⚠️  Quote stream connection failed: %v", err)
				a.stream = nil
			} else {
				log.Println("✅ Quote stream connected")
				a.stream.StartPing(ctx, 25*time.Second)

				wg.Add(1)
				go func() {
					defer wg.Done()
					a.stream.Run(ctx)
				}()

				wg.Add(1)
				go func() {
					defer wg.Done()
					a.stream.RunHealthMonitor(ctx)
				}()
			}
		}
	}

	// 11. Wait for interrupt and perform graceful shutdown
	err = a.gracefulShutdown(cancel)
	wg.Wait()
	return err
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	// Setup signal handling
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	// Wait for interrupt signal
	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	// Cancel context to stop all goroutines
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown tasks with timeout
	shutdownComplete := make(chan struct{})
	go func() {
		if a.scanner != nil {
			fmt.Println("🔄 Stopping scanner...")
			a.scanner.Stop()
		}
		if a.regime != nil {
			fmt.Println("📈 Stopping regime detector...")
			a.regime.Stop()
		}

		if a.stream != nil {
			fmt.Println("📡 Closing quote stream...")
			a.stream.Close()
		}

		// Close database connection
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Printf("Error closing database: %v", err)
			} else {
				fmt.Println("✅ Database connection closed")
			}
		}

		// Close Redis connection
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				log.Printf("Error closing redis: %v", err)
			} else {
				fmt.Println("✅ Redis connection closed")
			}
		}

		close(shutdownComplete)
	}()

	// Wait for shutdown to complete or timeout
	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}

// dispatchAdapter bridges fired alerts into the notifications package.
type dispatchAdapter struct {
	dispatcher *notifications.Dispatcher
}

func (da *dispatchAdapter) Dispatch(alert FiredAlert, state SymbolState) {
	short := false
	for _, sig := range state.Signals {
		if sig.ShortStyle {
			short = true
			break
		}
	}
	da.dispatcher.Dispatch(alert.Rule, alert.Event, notifications.TradeSetup{
		Symbol:     state.Symbol,
		Timeframe:  state.Timeframe,
		StrategyID: primaryStrategy(state),
		Price:      state.Price,
		Resistance: state.Resistance,
		Stop:       state.Stop,
		Short:      short,
	})
}

func primaryStrategy(state SymbolState) string {
	if len(state.Signals) == 0 {
		return ""
	}
	return state.Signals[0].StrategyID
}
