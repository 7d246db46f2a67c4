package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	LogFile  string
	HTTPPort string
	DryRun   bool

	// Polymarket API
	PolymarketWSURL      string
	PolymarketGammaURL   string
	PolymarketCLOBURL    string
	PolymarketAPIKey     string
	PolymarketSecret     string
	PolymarketPassphrase string
	PrivateKey           string
	ProxyAddress         string
	SignatureType        int
	PolygonRPCURL        string

	// REST client
	HTTPRequestTimeout time.Duration
	RequestsPerSecond  float64
	RequestRetries     int
	MetadataTTL        time.Duration

	// Window
	WindowSlugPrefix string
	WindowLength     time.Duration
	UnitPayout       float64

	// Lifecycle
	ScanInterval           time.Duration
	DiscoveryGracePeriod   time.Duration
	DiscoveryHaltAfter     time.Duration
	SettlementMaxRetries   int
	SettlementRetryBackoff time.Duration

	// WebSocket
	UseWSS                  bool
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int
	WSMaxBookAge            time.Duration

	// Arbitrage Detection
	ArbThreshold    float64
	ArbMaxTradeSize float64
	ArbMinOrderSize float64
	ArbLotSize      float64
	ArbCostBuffer   float64
	ArbTakerFee     float64

	// Execution
	TimeInForce         string
	RecoveryTimeInForce string
	FillTimeout         time.Duration
	RecoveryTimeout     time.Duration
	FillPollInterval    time.Duration
	FillPollMax         time.Duration
	QuoteRetries        int
	SubmitRetries       int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration

	// Circuit Breaker
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
	ExecutionCooldown  time.Duration

	// Risk
	MaxDailyLoss          float64
	MaxPositionSize       float64
	MaxTradesPerDay       int
	MinBalanceRequired    float64
	MaxBalanceUtilization float64
	RiskDayLocation       string

	// Storage
	StorageBackend string // "file", "sqlite", "postgres" or "memory"
	StoragePath    string
	ConsoleOutput  bool
	PostgresHost   string
	PostgresPort   string
	PostgresUser   string
	PostgresPass   string
	PostgresDB     string
	PostgresSSL    string

	// Dry-run simulation
	SimSeed            uint64
	SimStartBalance    float64
	SimArbProbability  float64
	SimFillProbability float64
	SimPartialFillRate float64
	SimMaxDepth        float64
	SimSettlementDelay time.Duration

	// Alerts
	TelegramToken  string
	TelegramChatID int64
	AlertMinLevel  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := Load()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Load reads configuration from the environment without validating it, so
// command-line flags can override values before Validate runs.
func Load() *Config {
	return &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		DryRun:   getBoolOrDefault("DRY_RUN", true),

		// Polymarket API defaults
		PolymarketWSURL:      getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolymarketGammaURL:   getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketCLOBURL:    getEnvOrDefault("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		PolymarketAPIKey:     getAliasedEnv("POLYMARKET_API_KEY", "API_KEY"),
		PolymarketSecret:     getAliasedEnv("POLYMARKET_SECRET", "API_SECRET"),
		PolymarketPassphrase: getAliasedEnv("POLYMARKET_PASSPHRASE", "API_PASSPHRASE"),
		PrivateKey:           getAliasedEnv("POLYMARKET_PRIVATE_KEY", "PRIVATE_KEY"),
		ProxyAddress:         getAliasedEnv("POLYMARKET_PROXY_ADDRESS", "FUNDER"),
		SignatureType:        getIntOrDefault("SIGNATURE_TYPE", 0),
		PolygonRPCURL:        getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com"),

		// REST client defaults
		HTTPRequestTimeout: getDurationOrDefault("HTTP_REQUEST_TIMEOUT", 10*time.Second),
		RequestsPerSecond:  getFloat64OrDefault("REQUESTS_PER_SECOND", 10),
		RequestRetries:     getIntOrDefault("REQUEST_RETRIES", 2),
		MetadataTTL:        getDurationOrDefault("METADATA_TTL", 30*time.Minute),

		// Window defaults
		WindowSlugPrefix: getEnvOrDefault("WINDOW_SLUG_PREFIX", "btc-updown-15m"),
		WindowLength:     getDurationOrDefault("WINDOW_LENGTH", 15*time.Minute),
		UnitPayout:       getFloat64OrDefault("UNIT_PAYOUT", 1.0),

		// Lifecycle defaults
		ScanInterval:           getDurationOrDefault("SCAN_INTERVAL", time.Second),
		DiscoveryGracePeriod:   getDurationOrDefault("DISCOVERY_GRACE_PERIOD", 30*time.Second),
		DiscoveryHaltAfter:     getDurationOrDefault("DISCOVERY_HALT_AFTER", 0),
		SettlementMaxRetries:   getIntOrDefault("SETTLEMENT_MAX_RETRIES", 5),
		SettlementRetryBackoff: getDurationOrDefault("SETTLEMENT_RETRY_BACKOFF", 5*time.Second),

		// WebSocket defaults
		UseWSS:                  getBoolOrDefault("USE_WSS", false),
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),
		WSMaxBookAge:            getDurationOrDefault("WS_MAX_BOOK_AGE", 5*time.Second),

		// Arbitrage defaults
		ArbThreshold:    getFloat64OrDefault("ARB_THRESHOLD", 0.99),
		ArbMaxTradeSize: getFloat64OrDefault("ARB_MAX_TRADE_SIZE", 5),
		ArbMinOrderSize: getFloat64OrDefault("ARB_MIN_ORDER_SIZE", 5),
		ArbLotSize:      getFloat64OrDefault("ARB_LOT_SIZE", 0.01),
		ArbCostBuffer:   getFloat64OrDefault("ARB_COST_BUFFER", 0),
		ArbTakerFee:     getFloat64OrDefault("ARB_TAKER_FEE", 0),

		// Execution defaults
		TimeInForce:         getEnvOrDefault("TIME_IN_FORCE", "FOK"),
		RecoveryTimeInForce: getEnvOrDefault("RECOVERY_TIME_IN_FORCE", "FAK"),
		FillTimeout:         getDurationOrDefault("FILL_TIMEOUT", 15*time.Second),
		RecoveryTimeout:     getDurationOrDefault("RECOVERY_TIMEOUT", 5*time.Second),
		FillPollInterval:    getDurationOrDefault("FILL_POLL_INTERVAL", 500*time.Millisecond),
		FillPollMax:         getDurationOrDefault("FILL_POLL_MAX", 2*time.Second),
		QuoteRetries:        getIntOrDefault("QUOTE_RETRIES", 3),
		SubmitRetries:       getIntOrDefault("SUBMIT_RETRIES", 2),
		RetryInitialDelay:   getDurationOrDefault("RETRY_INITIAL_DELAY", 100*time.Millisecond),
		RetryMaxDelay:       getDurationOrDefault("RETRY_MAX_DELAY", time.Second),

		// Circuit breaker defaults
		BreakerMaxFailures: getIntOrDefault("BREAKER_MAX_FAILURES", 3),
		BreakerCooldown:    getDurationOrDefault("BREAKER_COOLDOWN", 60*time.Second),
		ExecutionCooldown:  getDurationOrDefault("EXECUTION_COOLDOWN", 2*time.Second),

		// Risk defaults (zero disables a check)
		MaxDailyLoss:          getFloat64OrDefault("MAX_DAILY_LOSS", 0),
		MaxPositionSize:       getFloat64OrDefault("MAX_POSITION_SIZE", 0),
		MaxTradesPerDay:       getIntOrDefault("MAX_TRADES_PER_DAY", 0),
		MinBalanceRequired:    getFloat64OrDefault("MIN_BALANCE_REQUIRED", 0),
		MaxBalanceUtilization: getFloat64OrDefault("MAX_BALANCE_UTILIZATION", 0),
		RiskDayLocation:       getEnvOrDefault("RISK_DAY_LOCATION", "UTC"),

		// Storage defaults
		StorageBackend: getEnvOrDefault("STORAGE_BACKEND", "file"),
		StoragePath:    getEnvOrDefault("STORAGE_PATH", "data/ledger.jsonl"),
		ConsoleOutput:  getBoolOrDefault("CONSOLE_OUTPUT", false),
		PostgresHost:   getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:   getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser:   getEnvOrDefault("POSTGRES_USER", "updown"),
		PostgresPass:   getEnvOrDefault("POSTGRES_PASSWORD", "updown"),
		PostgresDB:     getEnvOrDefault("POSTGRES_DB", "updown_arb"),
		PostgresSSL:    getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		// Simulation defaults
		SimSeed:            getUint64OrDefault("SIM_SEED", 1),
		SimStartBalance:    getFloat64OrDefault("SIM_START_BALANCE", 100),
		SimArbProbability:  getFloat64OrDefault("SIM_ARB_PROBABILITY", 0.2),
		SimFillProbability: getFloat64OrDefault("SIM_FILL_PROBABILITY", 0.9),
		SimPartialFillRate: getFloat64OrDefault("SIM_PARTIAL_FILL_RATE", 0.05),
		SimMaxDepth:        getFloat64OrDefault("SIM_MAX_DEPTH", 50),
		SimSettlementDelay: getDurationOrDefault("SIM_SETTLEMENT_DELAY", 10*time.Second),

		// Alert defaults
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: getInt64OrDefault("TELEGRAM_CHAT_ID", 0),
		AlertMinLevel:  getEnvOrDefault("ALERT_MIN_LEVEL", "warning"),
	}
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if !c.DryRun {
		var missing []string
		for name, v := range map[string]string{
			"POLYMARKET_API_KEY":     c.PolymarketAPIKey,
			"POLYMARKET_SECRET":      c.PolymarketSecret,
			"POLYMARKET_PASSPHRASE":  c.PolymarketPassphrase,
			"POLYMARKET_PRIVATE_KEY": c.PrivateKey,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("live trading requires %s", strings.Join(missing, ", "))
		}
	}

	if c.PolymarketGammaURL == "" {
		return fmt.Errorf("POLYMARKET_GAMMA_API_URL cannot be empty")
	}

	if c.UseWSS && c.PolymarketWSURL == "" {
		return fmt.Errorf("USE_WSS requires POLYMARKET_WS_URL")
	}

	if c.ArbThreshold <= 0 || c.ArbThreshold > 1.0 {
		return fmt.Errorf("ARB_THRESHOLD must be in (0, 1.0], got %f", c.ArbThreshold)
	}

	if c.ArbMaxTradeSize <= 0 {
		return fmt.Errorf("ARB_MAX_TRADE_SIZE must be > 0, got %f", c.ArbMaxTradeSize)
	}

	if c.ArbCostBuffer < 0 {
		return fmt.Errorf("ARB_COST_BUFFER cannot be negative, got %f", c.ArbCostBuffer)
	}

	if c.WindowLength <= 0 {
		return fmt.Errorf("WINDOW_LENGTH must be positive, got %s", c.WindowLength)
	}

	if c.FillTimeout <= 0 || c.RecoveryTimeout <= 0 {
		return fmt.Errorf("FILL_TIMEOUT and RECOVERY_TIMEOUT must be positive")
	}

	if c.SettlementMaxRetries < 1 {
		return fmt.Errorf("SETTLEMENT_MAX_RETRIES must be at least 1, got %d", c.SettlementMaxRetries)
	}

	if c.BreakerMaxFailures < 0 || c.BreakerCooldown < 0 || c.ExecutionCooldown < 0 {
		return fmt.Errorf("BREAKER_MAX_FAILURES, BREAKER_COOLDOWN and EXECUTION_COOLDOWN cannot be negative")
	}

	if c.MaxDailyLoss < 0 || c.MaxPositionSize < 0 || c.MaxTradesPerDay < 0 ||
		c.MinBalanceRequired < 0 || c.MaxBalanceUtilization < 0 {
		return fmt.Errorf("risk limits cannot be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.StorageBackend {
	case "file", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be file, sqlite, postgres or memory, got %q", c.StorageBackend)
	}

	if (c.TelegramToken == "") != (c.TelegramChatID == 0) {
		return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	return nil
}

// Warnings lists settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var out []string
	if c.MaxBalanceUtilization > 1.0 {
		out = append(out, "MAX_BALANCE_UTILIZATION > 1.0 may overuse funds")
	}
	if !c.DryRun && c.MaxDailyLoss == 0 && c.MaxPositionSize == 0 {
		out = append(out, "live trading without MAX_DAILY_LOSS or MAX_POSITION_SIZE")
	}
	if c.DiscoveryHaltAfter > 0 && c.DiscoveryHaltAfter < c.DiscoveryGracePeriod {
		out = append(out, "DISCOVERY_HALT_AFTER is shorter than DISCOVERY_GRACE_PERIOD")
	}
	return out
}

// Location resolves RISK_DAY_LOCATION.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.RiskDayLocation)
	if err != nil {
		return nil, fmt.Errorf("RISK_DAY_LOCATION %q: %w", c.RiskDayLocation, err)
	}
	return loc, nil
}

// ExecutionMode names the venue the engine trades against.
func (c *Config) ExecutionMode() string {
	if c.DryRun {
		return "dry-run"
	}
	return "live"
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getAliasedEnv reads key, falling back to alias.
func getAliasedEnv(key, alias string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return os.Getenv(alias)
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getUint64OrDefault(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	uintVal, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return uintVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
