package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mtrade/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API. Keys are optional: public market data endpoints and
	// kline streams work unauthenticated.
	APIKey    string
	SecretKey string

	// Market data
	Symbol        string
	KlineInterval string

	// Session defaults
	InitialCash float64
	FeeRate     float64 // Fee applied to live/paper session fills

	// Backtest defaults
	BacktestFeeRate float64
	SlippageBPS     float64
	WindowSize      int // Fallback history window when no range is given

	// Indicator periods
	EMAFastPeriod int
	EMASlowPeriod int
	RSIPeriod     int
	CMFPeriod     int

	// Database
	DBPath string

	// HTTP server
	HTTPAddr string

	// Logging
	LogLevel slog.Level

	// Connection settings for the exchange client
	ReconnectDelay   time.Duration
	KeepaliveTimeout time.Duration
	PollTimeout      time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	cfg.Symbol = getEnv("SYMBOL", "BTCUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	if cfg.KlineInterval == "" {
		errs = append(errs, "KLINE_INTERVAL must be set")
	}

	cfg.InitialCash, err = getEnvAsFloatRequired("INITIAL_CASH", 10_000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CASH: %v", err))
	} else if cfg.InitialCash <= 0 {
		errs = append(errs, "INITIAL_CASH must be positive")
	}

	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 || cfg.FeeRate >= 1.0 {
		errs = append(errs, "FEE_RATE must be in [0.0, 1.0)")
	}

	cfg.BacktestFeeRate, err = getEnvAsFloatRequired("BACKTEST_FEE_RATE", 0.0005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BACKTEST_FEE_RATE: %v", err))
	} else if cfg.BacktestFeeRate < 0 || cfg.BacktestFeeRate >= 1.0 {
		errs = append(errs, "BACKTEST_FEE_RATE must be in [0.0, 1.0)")
	}

	cfg.SlippageBPS, err = getEnvAsFloatRequired("SLIPPAGE_BPS", 5.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_BPS: %v", err))
	} else if cfg.SlippageBPS < 0 {
		errs = append(errs, "SLIPPAGE_BPS cannot be negative")
	}

	cfg.WindowSize = getEnvAsInt("WINDOW_SIZE", 500)
	if cfg.WindowSize <= 0 {
		errs = append(errs, "WINDOW_SIZE must be positive")
	}

	// Indicator periods (using defaults if not set)
	cfg.EMAFastPeriod = getEnvAsInt("EMA_FAST_PERIOD", 12)
	cfg.EMASlowPeriod = getEnvAsInt("EMA_SLOW_PERIOD", 26)
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.CMFPeriod = getEnvAsInt("CMF_PERIOD", 20)

	if cfg.EMAFastPeriod <= 0 || cfg.EMASlowPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.CMFPeriod <= 0 {
		errs = append(errs, "indicator periods (EMA, RSI, CMF) must be positive")
	}
	if cfg.EMAFastPeriod >= cfg.EMASlowPeriod {
		errs = append(errs, "EMA_FAST_PERIOD must be less than EMA_SLOW_PERIOD")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/market.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":3001")

	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	keepaliveSeconds := getEnvAsInt("KEEPALIVE_SECONDS", 15)
	if keepaliveSeconds <= 0 {
		errs = append(errs, "KEEPALIVE_SECONDS must be positive")
	}
	cfg.KeepaliveTimeout = time.Duration(keepaliveSeconds) * time.Second

	pollTimeoutSeconds := getEnvAsInt("POLL_TIMEOUT_SECONDS", 5)
	if pollTimeoutSeconds <= 0 {
		errs = append(errs, "POLL_TIMEOUT_SECONDS must be positive")
	}
	cfg.PollTimeout = time.Duration(pollTimeoutSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
