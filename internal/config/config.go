package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/polysignal/consensuswatch/internal/secrets"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Data API (trades, positions, activity)
	DataAPIBaseURL string
	DataAPIRPS     float64
	DataAPIProxy   string // optional forward proxy, falls back to direct on failure

	// CLOB API (market status + token prices)
	CLOBAPIBaseURL string
	CLOBAPIRPS     float64

	// HashDive (optional last-price source)
	HashDiveBaseURL string
	HashDiveAPIKey  string

	// Analyzer worker pool
	AnalyzerWorkers  int
	RequestTimeout   time.Duration
	MaxRetries       int
	RetryBackoffBase float64
	RetryJitter      float64
	MaxOutboundCalls int // shared semaphore across workers + monitor
	ReclaimAfter     time.Duration
	AnalysisCacheTTL time.Duration
	DequeueBatchSize int
	IdleSleep        time.Duration

	// Quality filter thresholds
	MinTrades         int
	MinMarkets        int
	MinVolumeUSD      float64
	MinWinRate        float64
	MinROI            float64
	MinAvgPnLUSD      float64
	MinAvgStakeUSD    float64
	MaxDailyFrequency float64
	InactivityDays    int
	LookbackDays      int
	MaxPositions      int

	// Trade monitor
	PollInterval    time.Duration
	WalletDelay     time.Duration
	TradeFetchLimit int
	HeartbeatLoops  int

	// Consensus engine
	MinConsensus     int
	WindowMinutes    int
	CooldownMinutes  int
	ConflictMinutes  int
	RefreshMinutes   int
	MinTotalPosUSD   float64
	SuppressDedupMin int

	// Maintenance
	MaxTrackedWallets int
	WalletMaxIdleDays int

	// Alerts
	AlertMode      string // log, telegram, or comma-separated list
	TelegramToken  string
	TelegramChatID int64

	// Metrics/Health
	HealthPort int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "production"),
		DatabaseDSN:         secrets.GetOptional("DATABASE_DSN", "consensuswatch:consensuswatch@tcp(mysql:3306)/consensuswatch?parseTime=true"),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime: time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,

		DataAPIBaseURL: getEnv("DATA_API_BASE_URL", "https://data-api.polymarket.com"),
		DataAPIRPS:     getEnvFloat("DATA_API_RPS", 3.0),
		DataAPIProxy:   getEnv("DATA_API_PROXY", ""),

		CLOBAPIBaseURL: getEnv("CLOB_API_BASE_URL", "https://clob.polymarket.com"),
		CLOBAPIRPS:     getEnvFloat("CLOB_API_RPS", 5.0),

		HashDiveBaseURL: getEnv("HASHDIVE_BASE_URL", "https://hashdive.com/api"),
		HashDiveAPIKey:  secrets.GetOptional("HASHDIVE_API_KEY", ""),

		AnalyzerWorkers:  getEnvInt("ANALYZER_WORKERS", 3),
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 20)) * time.Second,
		MaxRetries:       getEnvInt("MAX_RETRIES", 6),
		RetryBackoffBase: getEnvFloat("RETRY_BACKOFF_BASE", 1.2),
		RetryJitter:      getEnvFloat("RETRY_JITTER", 0.1),
		MaxOutboundCalls: getEnvInt("MAX_OUTBOUND_CALLS", 6),
		ReclaimAfter:     time.Duration(getEnvInt("RECLAIM_AFTER_MIN", 15)) * time.Minute,
		AnalysisCacheTTL: time.Duration(getEnvInt("ANALYSIS_CACHE_TTL_MIN", 180)) * time.Minute,
		DequeueBatchSize: getEnvInt("DEQUEUE_BATCH_SIZE", 10),
		IdleSleep:        time.Duration(getEnvInt("IDLE_SLEEP_SEC", 5)) * time.Second,

		MinTrades:         getEnvInt("MIN_TRADES", 6),
		MinMarkets:        getEnvInt("MIN_MARKETS", 12),
		MinVolumeUSD:      getEnvFloat("MIN_VOLUME_USD", 25000.0),
		MinWinRate:        getEnvFloat("MIN_WIN_RATE", 0.70),
		MinROI:            getEnvFloat("MIN_ROI", 0.0025),
		MinAvgPnLUSD:      getEnvFloat("MIN_AVG_PNL_USD", 50.0),
		MinAvgStakeUSD:    getEnvFloat("MIN_AVG_STAKE_USD", 100.0),
		MaxDailyFrequency: getEnvFloat("MAX_DAILY_FREQUENCY", 40.0),
		InactivityDays:    getEnvInt("INACTIVITY_DAYS", 14),
		LookbackDays:      getEnvInt("LOOKBACK_DAYS", 90),
		MaxPositions:      getEnvInt("MAX_POSITIONS", 500),

		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_SEC", 7)) * time.Second,
		WalletDelay:     time.Duration(getEnvInt("WALLET_DELAY_MS", 250)) * time.Millisecond,
		TradeFetchLimit: getEnvInt("TRADE_FETCH_LIMIT", 20),
		HeartbeatLoops:  getEnvInt("HEARTBEAT_LOOPS", 50),

		MinConsensus:     getEnvInt("MIN_CONSENSUS", 3),
		WindowMinutes:    getEnvInt("ALERT_WINDOW_MIN", 15),
		CooldownMinutes:  getEnvInt("ALERT_COOLDOWN_MIN", 30),
		ConflictMinutes:  getEnvInt("CONFLICT_WINDOW_MIN", 60),
		RefreshMinutes:   getEnvInt("ALERT_REFRESH_MIN", 60),
		MinTotalPosUSD:   getEnvFloat("MIN_TOTAL_POSITION_USD", 1000.0),
		SuppressDedupMin: getEnvInt("SUPPRESS_DEDUP_MIN", 30),

		MaxTrackedWallets: getEnvInt("MAX_TRACKED_WALLETS", 1000),
		WalletMaxIdleDays: getEnvInt("WALLET_MAX_IDLE_DAYS", 30),

		AlertMode:      getEnv("ALERT_MODE", "log"),
		TelegramToken:  secrets.GetOptional("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),

		HealthPort: getEnvInt("HEALTH_PORT", 8080),
	}

	// A 2-wallet consensus is the hard floor; anything below is meaningless.
	if cfg.MinConsensus < 2 {
		cfg.MinConsensus = 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.AnalyzerWorkers < 1 {
		return fmt.Errorf("ANALYZER_WORKERS must be at least 1")
	}
	if c.RetryBackoffBase <= 1.0 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be greater than 1.0")
	}
	if c.WindowMinutes < 1 {
		return fmt.Errorf("ALERT_WINDOW_MIN must be at least 1")
	}

	hasTelegram := false
	for _, mode := range strings.Split(c.AlertMode, ",") {
		mode = strings.TrimSpace(mode)
		switch mode {
		case "log":
		case "telegram":
			hasTelegram = true
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, telegram)", mode)
		}
	}

	if hasTelegram {
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when telegram is in ALERT_MODE")
		}
		if c.TelegramChatID == 0 {
			return fmt.Errorf("TELEGRAM_CHAT_ID is required when telegram is in ALERT_MODE")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
