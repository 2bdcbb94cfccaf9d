package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"swingbot/internal/adapters/logger"
	"swingbot/internal/domain"
	"swingbot/internal/executor"
	"swingbot/internal/indicator"
	"swingbot/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbol          string
	Timeframe       string        // kline interval, e.g. "1h"
	PollInterval    time.Duration // how often to fetch bars and tick
	MaxTradesPerDay int
	Risk            risk.Parameters

	// Signal Parameters
	Indicator indicator.Config

	// Executor retry behaviour
	Retry executor.RetryPolicy

	// Persistence
	StatePath string // BadgerDB directory for the lifecycle snapshot
	DBPath    string // SQLite file for the trade journal

	// Notifications
	WebhookURL     string
	WebhookTimeout time.Duration

	// Logging
	Log logger.Config
}

// Load loads configuration from environment variables (.env file).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Timeframe = getEnv("TIMEFRAME", "1h")

	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 60)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	cfg.MaxTradesPerDay, err = getEnvAsIntRequired("MAX_TRADES_PER_DAY", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_TRADES_PER_DAY: %v", err))
	} else if cfg.MaxTradesPerDay < 0 {
		errs = append(errs, "MAX_TRADES_PER_DAY cannot be negative")
	}

	cfg.Risk.RiskFraction, err = getEnvAsFloatRequired("RISK_FRACTION", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_FRACTION: %v", err))
	}
	cfg.Risk.StopFraction, err = getEnvAsFloatRequired("STOP_FRACTION", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_FRACTION: %v", err))
	}
	cfg.Risk.RewardFraction, err = getEnvAsFloatRequired("REWARD_FRACTION", 0.03)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REWARD_FRACTION: %v", err))
	}
	cfg.Risk.TrailFraction, err = getEnvAsFloatRequired("TRAIL_FRACTION", 0.03)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRAIL_FRACTION: %v", err))
	}
	if verr := cfg.Risk.Validate(); verr != nil {
		errs = append(errs, fmt.Sprintf("invalid risk parameters: %v", verr))
	}

	// Signal Parameters (using defaults if not set)
	cfg.Indicator.ShortSMAPeriod = getEnvAsInt("SHORT_SMA_PERIOD", 20)
	cfg.Indicator.LongSMAPeriod = getEnvAsInt("LONG_SMA_PERIOD", 50)
	cfg.Indicator.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.Indicator.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", 30.0)
	cfg.Indicator.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", 70.0)
	cfg.Indicator.MACDFast = getEnvAsInt("MACD_FAST_PERIOD", 12)
	cfg.Indicator.MACDSlow = getEnvAsInt("MACD_SLOW_PERIOD", 26)
	cfg.Indicator.MACDSignal = getEnvAsInt("MACD_SIGNAL_PERIOD", 9)
	cfg.Indicator.BollingerPeriod = getEnvAsInt("BOLLINGER_PERIOD", 20)
	cfg.Indicator.BollingerStdDev = getEnvAsFloat("BOLLINGER_STDDEV", 2.0)
	cfg.Indicator.SqueezeThreshold = getEnvAsFloat("SQUEEZE_THRESHOLD", 4.0)
	cfg.Indicator.RequireConfirmation = getEnvAsBool("REQUIRE_CONFIRMATION", false)

	rulesStr := getEnv("SIGNAL_RULES", "golden_cross")
	for _, name := range strings.Split(rulesStr, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.Indicator.Rules = append(cfg.Indicator.Rules, domain.SignalRule(name))
		}
	}

	if cfg.Indicator.ShortSMAPeriod <= 0 || cfg.Indicator.LongSMAPeriod <= 0 || cfg.Indicator.RSIPeriod <= 0 {
		errs = append(errs, "indicator periods (SMA, RSI) must be positive")
	}
	if cfg.Indicator.ShortSMAPeriod >= cfg.Indicator.LongSMAPeriod {
		errs = append(errs, "SHORT_SMA_PERIOD must be less than LONG_SMA_PERIOD")
	}
	if cfg.Indicator.RSIOverbought <= cfg.Indicator.RSIOversold || cfg.Indicator.RSIOverbought > 100 || cfg.Indicator.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Executor retry behaviour
	cfg.Retry.MaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.Retry.InitialDelay = time.Duration(getEnvAsInt("RETRY_INITIAL_DELAY_MS", 1000)) * time.Millisecond
	cfg.Retry.MaxDelay = time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", 30000)) * time.Millisecond
	if cfg.Retry.MaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}

	// Persistence
	cfg.StatePath = getEnv("STATE_PATH", "./data/state")
	cfg.DBPath = getEnv("DB_PATH", "./data/swingbot.db")
	if cfg.StatePath == "" {
		errs = append(errs, "STATE_PATH must be set")
	}
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Notifications (optional)
	cfg.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.WebhookTimeout = time.Duration(getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 5)) * time.Second

	// Logging
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Output = getEnv("LOG_OUTPUT", "console")
	cfg.Log.File = getEnv("LOG_FILE", "./logs/swingbot.log")
	cfg.Log.MaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.Log.MaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.Log.MaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 30)
	cfg.Log.Compress = getEnvAsBool("LOG_COMPRESS", true)

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

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
