package main

import (
	"context"
	"flag"
	"log"
	"time"

	"mtrade/config"
	"mtrade/internal/adapters/binanceclient"
	"mtrade/internal/adapters/logger"
	"mtrade/internal/adapters/sqlite"
	"mtrade/internal/domain"
	"mtrade/internal/utils"
)

// intervalDurations maps kline interval names to wall-clock durations for
// gap detection.
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

func main() {
	var (
		symbolFlag   = flag.String("symbol", "", "Trading pair to ingest (defaults to SYMBOL from config)")
		intervalFlag = flag.String("interval", "", "Kline interval (defaults to KLINE_INTERVAL from config)")
		startFlag    = flag.String("start", "", "Range start, RFC3339 (default: 3 months ago)")
		endFlag      = flag.String("end", "", "Range end, RFC3339 (default: now)")
		retriesFlag  = flag.Int("retries", 3, "Fetch attempts per run before giving up")
		csvFlag      = flag.String("csv", "", "Optional CSV export path")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)
	ctx := context.Background()

	symbol := cfg.Symbol
	if *symbolFlag != "" {
		symbol = *symbolFlag
	}
	interval := cfg.KlineInterval
	if *intervalFlag != "" {
		interval = *intervalFlag
	}
	barDuration, ok := intervalDurations[interval]
	if !ok {
		log.Fatalf("FATAL: Unsupported interval %q", interval)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -3, 0)
	if *startFlag != "" {
		start, err = time.Parse(time.RFC3339, *startFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -start: %v", err)
		}
	}
	if *endFlag != "" {
		end, err = time.Parse(time.RFC3339, *endFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -end: %v", err)
		}
	}

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Logger:    appLogger,
		Keepalive: cfg.KeepaliveTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Symbol: symbol,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bar store: %v", err)
	}
	defer store.Close()

	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol": symbol, "interval": interval,
		"start": start.Format(time.RFC3339), "end": end.Format(time.RFC3339),
	})

	// Bounded retries with a linearly growing pause between attempts.
	var bars []domain.Bar
	for attempt := 1; attempt <= *retriesFlag; attempt++ {
		bars, err = binanceClient.BarsRange(ctx, symbol, interval, start, end)
		if err == nil {
			break
		}
		appLogger.Warn(ctx, "Fetch attempt failed", map[string]interface{}{
			"attempt": attempt, "error": err.Error(),
		})
		if attempt < *retriesFlag {
			time.Sleep(time.Duration(attempt) * cfg.ReconnectDelay)
		}
	}
	if err != nil {
		log.Fatalf("FATAL: Fetch failed after %d attempts: %v", *retriesFlag, err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(bars)})

	n, err := store.InsertBars(ctx, bars)
	if err != nil {
		log.Fatalf("FATAL: Failed to store bars: %v", err)
	}
	appLogger.Info(ctx, "Stored bars", map[string]interface{}{"count": n})

	gaps, err := store.DetectGaps(ctx, start, end, barDuration)
	if err != nil {
		log.Fatalf("FATAL: Gap detection failed: %v", err)
	}
	for _, gap := range gaps {
		appLogger.Warn(ctx, "Gap in stored data", map[string]interface{}{
			"start": gap.Start.Format(time.RFC3339), "end": gap.End.Format(time.RFC3339),
		})
	}

	if *csvFlag != "" {
		if err := utils.WriteBarsCSV(bars, symbol, *csvFlag); err != nil {
			log.Fatalf("FATAL: Failed to write CSV: %v", err)
		}
		appLogger.Info(ctx, "Saved CSV export", map[string]interface{}{"filename": *csvFlag})
	}
}
