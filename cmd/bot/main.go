package main

import (
	"context"
	"flag"
	"log" // Standard log only for fatal errors before the logger is ready
	"os"
	"os/signal"
	"syscall"
	"time"

	"swingbot/config"
	"swingbot/internal/adapters/binanceclient"
	"swingbot/internal/adapters/logger"
	"swingbot/internal/adapters/sqlite"
	"swingbot/internal/adapters/statestore"
	"swingbot/internal/adapters/webhook"
	"swingbot/internal/app"
	"swingbot/internal/domain"
	"swingbot/internal/executor"
	"swingbot/internal/indicator"
	"swingbot/internal/ports"
	"swingbot/internal/reporter"
)

func main() {
	resetState := flag.Bool("reset-state", false, "delete the persisted lifecycle snapshot and exit (clears FAULTED)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.Log)
	defer appLogger.Sync()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.Log.Level, "output": cfg.Log.Output})

	// 3. Initialize State Store
	stateRepo, err := statestore.New(cfg.StatePath)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to open state store")
		log.Fatalf("FATAL: Failed to open state store: %v", err)
	}
	defer func() {
		if err := stateRepo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing state store")
		}
	}()

	if *resetState {
		if err := stateRepo.Reset(); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to reset persisted state")
			log.Fatalf("FATAL: Failed to reset persisted state: %v", err)
		}
		appLogger.Info(ctx, "Persisted lifecycle state cleared")
		return
	}

	// 4. Initialize Trade Journal
	tradeRepo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := tradeRepo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing trade journal")
		}
	}()

	// 5. Initialize Broker Adapter and Executor
	broker, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var notifier ports.Notifier
	if cfg.WebhookURL != "" {
		notifier = webhook.New(cfg.WebhookURL, cfg.WebhookTimeout)
		appLogger.Info(ctx, "Webhook notifier enabled")
	}

	exec, err := executor.New(broker, notifier, appLogger, cfg.Retry)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize executor")
		log.Fatalf("FATAL: Failed to initialize executor: %v", err)
	}

	// 6. Initialize Signal Engine and Lifecycle Service
	engine, err := indicator.New(cfg.Indicator, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal engine")
		log.Fatalf("FATAL: Failed to initialize signal engine: %v", err)
	}

	service, err := app.New(app.Config{
		Symbol:          cfg.Symbol,
		Timeframe:       cfg.Timeframe,
		Risk:            cfg.Risk,
		MaxTradesPerDay: cfg.MaxTradesPerDay,
	}, appLogger, exec, engine, stateRepo, tradeRepo)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize lifecycle service")
		log.Fatalf("FATAL: Failed to initialize lifecycle service: %v", err)
	}

	// 7. Reconcile persisted belief against the broker before trading
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := service.ReconcileOnStartup(runCtx)
	if err != nil {
		appLogger.Error(runCtx, err, "FATAL: Startup reconciliation failed")
		log.Fatalf("FATAL: Startup reconciliation failed: %v", err)
	}
	appLogger.Info(runCtx, "Startup reconciliation done", map[string]interface{}{
		"phase": result.Phase, "adopted": result.Adopted, "discrepancies": result.Discrepancies,
	})

	// 8. Run the polling loop
	runLoop(runCtx, cfg, appLogger, exec, service)

	// 9. Shutdown report
	rep := reporter.New(tradeRepo, os.Stdout)
	if err := rep.WriteSummary(ctx, cfg.Symbol, 50); err != nil {
		appLogger.Error(ctx, err, "Failed to write trade summary")
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

// runLoop fetches bars and equity on every poll interval and hands them to
// the lifecycle service. It returns when the context is cancelled.
func runLoop(ctx context.Context, cfg *config.Config, appLogger ports.Logger, exec *executor.Executor, service *app.Service) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	appLogger.Info(ctx, "Trading loop started", map[string]interface{}{
		"symbol": cfg.Symbol, "timeframe": cfg.Timeframe, "pollInterval": cfg.PollInterval.String(),
	})

	barLimit := service.MinBars() + 10

	for {
		select {
		case <-ctx.Done():
			appLogger.Info(ctx, "Shutdown signal received, stopping trading loop")
			return
		case <-ticker.C:
			tickCtx, tickCancel := context.WithTimeout(ctx, cfg.PollInterval)

			bars, err := exec.GetBars(tickCtx, cfg.Symbol, cfg.Timeframe, barLimit)
			if err != nil {
				appLogger.Error(tickCtx, err, "Failed to fetch bars, skipping tick")
				tickCancel()
				continue
			}
			equity, err := exec.GetAccountEquity(tickCtx)
			if err != nil {
				appLogger.Error(tickCtx, err, "Failed to fetch account equity, skipping tick")
				tickCancel()
				continue
			}

			outcome, err := service.OnTick(tickCtx, bars, equity)
			if err != nil {
				appLogger.Error(tickCtx, err, "Tick finished with error", map[string]interface{}{"phase": outcome.Phase})
			} else if outcome.Action != domain.ActionNone {
				appLogger.Info(tickCtx, "Tick finished", map[string]interface{}{
					"action": outcome.Action, "phase": outcome.Phase,
				})
			}
			tickCancel()
		}
	}
}
