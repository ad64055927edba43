package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading process.
type Config struct {
	Environment string
	LogLevel    string
	TradingMode string // "paper" is the only supported mode; anything else is forced back
	HTTPPort    string

	// Equity broker (Alpaca-style REST)
	EquityBaseURL   string
	EquityAPIKey    string
	EquityAPISecret string

	// Crypto exchange (Binance-style signed REST + websocket)
	CryptoName           string
	CryptoRESTBaseURL    string
	CryptoWebsocketURL   string
	CryptoAPIKey         string
	CryptoAPISecret      string
	CryptoStakingEnabled bool

	// Staking provider
	StakingProvider     string
	StakingAPIBaseURL   string
	StakingCooldownDays int
	StakingAutoCompound bool

	// Signal producer
	StrategyModelName string
	StrategySymbol    string
	StrategyInterval  time.Duration

	// Venue call timeout applied by the engine around place/cancel attempts.
	// Zero keeps the legacy block-forever behaviour.
	VenueCallTimeout time.Duration

	// Optional venues.yaml overriding the env-configured venue pair
	VenuesConfigPath string

	// Credential store
	CredentialsDBPath string
	EncryptionKey     string // 32 bytes enables at-rest encryption of secrets

	// API
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string // bcrypt hash; empty disables login
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TradingMode: getEnv("TRADING_MODE", "paper"),
		HTTPPort:    getEnv("PORT", "8080"),

		EquityBaseURL:   getEnv("EQUITY_BASE_URL", "https://paper-api.example-broker.com/v2"),
		EquityAPIKey:    os.Getenv("EQUITY_API_KEY"),
		EquityAPISecret: os.Getenv("EQUITY_API_SECRET"),

		CryptoName:           getEnv("CRYPTO_NAME", "binance"),
		CryptoRESTBaseURL:    getEnv("CRYPTO_REST_BASE_URL", "https://testnet.binance.vision"),
		CryptoWebsocketURL:   getEnv("CRYPTO_WS_URL", "wss://testnet.binance.vision/ws"),
		CryptoAPIKey:         os.Getenv("CRYPTO_API_KEY"),
		CryptoAPISecret:      os.Getenv("CRYPTO_API_SECRET"),
		CryptoStakingEnabled: getEnvBool("CRYPTO_STAKING_ENABLED", true),

		StakingProvider:     getEnv("STAKING_PROVIDER", "lido"),
		StakingAPIBaseURL:   getEnv("STAKING_API_BASE_URL", "https://stake.example-provider.com"),
		StakingCooldownDays: getEnvInt("STAKING_COOLDOWN_DAYS", 7),
		StakingAutoCompound: getEnvBool("STAKING_AUTO_COMPOUND", false),

		StrategyModelName: getEnv("STRATEGY_MODEL_NAME", "transformer_v1"),
		StrategySymbol:    getEnv("STRATEGY_SYMBOL", "DEMO"),
		StrategyInterval:  getEnvDuration("STRATEGY_INTERVAL", 5*time.Second),

		VenueCallTimeout: getEnvDuration("VENUE_CALL_TIMEOUT", 0),

		VenuesConfigPath: getEnv("VENUES_CONFIG_PATH", "./venues.yaml"),

		CredentialsDBPath: getEnv("CREDENTIALS_DB_PATH", "./data/credentials.db"),
		EncryptionKey:     os.Getenv("CREDENTIALS_ENCRYPTION_KEY"),

		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
