package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"mtrade/config"
	"mtrade/internal/adapters/binanceclient"
	"mtrade/internal/adapters/logger"
	"mtrade/internal/adapters/sqlite"
	"mtrade/internal/api"
	"mtrade/internal/backtest"
	"mtrade/internal/indicators"
	"mtrade/internal/session"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Bar Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Symbol: cfg.Symbol,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bar store")
		log.Fatalf("FATAL: Failed to initialize bar store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing bar store")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Logger:    appLogger,
		Keepalive: cfg.KeepaliveTimeout,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	indicatorCfg := indicators.Config{
		EMAFast:   cfg.EMAFastPeriod,
		EMASlow:   cfg.EMASlowPeriod,
		RSIPeriod: cfg.RSIPeriod,
		CMFPeriod: cfg.CMFPeriod,
	}

	// 5. Initialize Session Manager
	manager, err := session.NewManager(session.ManagerConfig{
		Logger:     appLogger,
		History:    store,
		Exchange:   binanceClient,
		Indicators: indicatorCfg,
		Interval:   cfg.KlineInterval,
		FeeRate:    cfg.FeeRate,
		Reconnect:  cfg.ReconnectDelay,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize session manager")
		log.Fatalf("FATAL: Failed to initialize session manager: %v", err)
	}

	// 6. Initialize HTTP Server
	server, err := api.NewServer(api.ServerConfig{
		Addr:       cfg.HTTPAddr,
		Logger:     appLogger,
		Manager:    manager,
		History:    store,
		Indicators: indicatorCfg,
		Backtest: backtest.Config{
			InitialCash: cfg.InitialCash,
			FeeRate:     cfg.BacktestFeeRate,
			SlippageBPS: cfg.SlippageBPS,
		},
		WindowSize: cfg.WindowSize,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize HTTP server")
		log.Fatalf("FATAL: Failed to initialize HTTP server: %v", err)
	}

	// 7. Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "HTTP server exited with error")
		log.Fatalf("FATAL: HTTP server exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
