package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mtrade/config"
	"mtrade/internal/adapters/logger"
	"mtrade/internal/adapters/sqlite"
	"mtrade/internal/backtest"
	"mtrade/internal/domain"
	"mtrade/internal/indicators"
)

// loadActions reads a JSON array of actions, one per bar of the replayed
// range. A missing file path means an all-Hold replay.
func loadActions(path string) ([]domain.Action, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read actions file: %w", err)
	}
	var actions []domain.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("parse actions file: %w", err)
	}
	return actions, nil
}

func main() {
	var (
		symbolFlag  = flag.String("symbol", "", "Trading pair (defaults to SYMBOL from config)")
		startFlag   = flag.String("start", "", "Range start, RFC3339")
		endFlag     = flag.String("end", "", "Range end, RFC3339")
		windowFlag  = flag.Int("window", 0, "Replay the most recent N bars instead of a range")
		actionsFlag = flag.String("actions", "", "Path to a JSON array of per-bar actions")
		cashFlag    = flag.Float64("cash", 0, "Initial cash (defaults to INITIAL_CASH)")
		outFlag     = flag.String("out", "", "Optional path for the full JSON result")
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

	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Symbol: symbol,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bar store: %v", err)
	}
	defer store.Close()

	var bars []domain.Bar
	switch {
	case *startFlag != "" && *endFlag != "":
		start, err := time.Parse(time.RFC3339, *startFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -start: %v", err)
		}
		end, err := time.Parse(time.RFC3339, *endFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -end: %v", err)
		}
		bars, err = store.FetchRange(ctx, start, end)
		if err != nil {
			log.Fatalf("FATAL: Failed to load bars: %v", err)
		}
	default:
		window := *windowFlag
		if window <= 0 {
			window = cfg.WindowSize
		}
		bars, err = store.LatestWindow(ctx, window)
		if err != nil {
			log.Fatalf("FATAL: Failed to load bars: %v", err)
		}
	}

	actions, err := loadActions(*actionsFlag)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	frame := indicators.ComputeFeatures(symbol, bars, indicators.Config{
		EMAFast:   cfg.EMAFastPeriod,
		EMASlow:   cfg.EMASlowPeriod,
		RSIPeriod: cfg.RSIPeriod,
		CMFPeriod: cfg.CMFPeriod,
	})

	btCfg := backtest.Config{
		InitialCash: cfg.InitialCash,
		FeeRate:     cfg.BacktestFeeRate,
		SlippageBPS: cfg.SlippageBPS,
	}
	if *cashFlag > 0 {
		btCfg.InitialCash = *cashFlag
	}

	result, err := backtest.Run(actions, &frame, btCfg)
	if err != nil {
		log.Fatalf("FATAL: Backtest failed: %v", err)
	}

	fmt.Printf("Backtest %s: %d bars, %d trades\n", symbol, len(frame.Rows), len(result.Trades))
	fmt.Printf("  Initial cash:  %.2f\n", result.InitialCash)
	fmt.Printf("  Final equity:  %.2f\n", result.FinalState.Equity)
	fmt.Printf("  Return:        %+.2f%%\n", (result.FinalState.Equity/result.InitialCash-1)*100)
	fmt.Printf("  Max drawdown:  %.2f%%\n", result.FinalState.MaxDrawdown*100)

	if *outFlag != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatalf("FATAL: Failed to encode result: %v", err)
		}
		if err := os.WriteFile(*outFlag, data, 0644); err != nil {
			log.Fatalf("FATAL: Failed to write result: %v", err)
		}
		appLogger.Info(ctx, "Wrote full result", map[string]interface{}{"filename": *outFlag})
	}
}
