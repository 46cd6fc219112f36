package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Limits is the per-market risk configuration. Loaded once at startup and
// immutable for the process lifetime.
type Limits struct {
	// MaxNetExposure is the exposure ceiling in currency units.
	MaxNetExposure decimal.Decimal
	// LimitEpsilon blocks new exposure once within this margin of the ceiling.
	LimitEpsilon decimal.Decimal
	// MaxOpenOrders caps concurrent non-terminal orders per market.
	MaxOpenOrders int
	// MinEdge is the minimum edge required to act.
	MinEdge decimal.Decimal
	// ClipSize is the standard per-decision order quantity.
	ClipSize decimal.Decimal
	// SkewThreshold triggers the offsetting hedge when |yes-no| exceeds it.
	SkewThreshold decimal.Decimal
	// HedgeOnlyFloor is the time-to-resolution below which only
	// exposure-reducing orders are permitted.
	HedgeOnlyFloor time.Duration
	// HedgeWindow is how close to resolution the skew hedge activates.
	HedgeWindow time.Duration
	// LowTierFloor is the time-to-resolution below which signals grade LOW.
	LowTierFloor time.Duration
}

// Config holds all configuration for the engine.
type Config struct {
	// Markets
	Assets       []string // reference symbols, e.g. BTCUSDT,ETHUSDT
	TickInterval time.Duration

	// Mode
	PaperMode bool
	Debug     bool

	// Feeds
	ReferenceAPIURL string
	BookWSURL       string
	ChainlinkRPCURL string // optional; preferred reference source when set
	ChainlinkFeeds  map[string]string
	SnapshotTimeout time.Duration

	// Venue
	VenueAPIURL     string
	VenueAPIKey     string
	VenueAPISecret  string
	VenuePassphrase string
	EthPrivateKey   string // hex, order signing

	// Execution
	MaxRetries    int
	SubmitTimeout time.Duration
	CancelTimeout time.Duration
	SlippageBps   int

	// Risk
	Limits Limits

	// Storage
	DatabaseDSN string // sqlite path or postgres DSN

	// Telegram
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Assets:       splitList(getEnv("ASSETS", "BTCUSDT")),
		TickInterval: getEnvDuration("TICK_INTERVAL", time.Second),

		PaperMode: getEnvBool("PAPER_MODE", true),
		Debug:     getEnvBool("DEBUG", false),

		ReferenceAPIURL: getEnv("REFERENCE_API_URL", "https://api.binance.com/api/v3/ticker/price"),
		BookWSURL:       getEnv("BOOK_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		ChainlinkRPCURL: os.Getenv("CHAINLINK_RPC_URL"),
		ChainlinkFeeds: map[string]string{
			"BTCUSDT": getEnv("CHAINLINK_BTC_FEED", "0xc907E116054Ad103354f2D350FD2514433D57F6f"),
			"ETHUSDT": getEnv("CHAINLINK_ETH_FEED", "0xF9680D99D6C9589e2a93a78A04A279e509205945"),
		},
		SnapshotTimeout: getEnvDuration("SNAPSHOT_TIMEOUT", 2*time.Second),

		VenueAPIURL:     getEnv("VENUE_API_URL", "https://clob.polymarket.com"),
		VenueAPIKey:     os.Getenv("VENUE_API_KEY"),
		VenueAPISecret:  os.Getenv("VENUE_API_SECRET"),
		VenuePassphrase: os.Getenv("VENUE_PASSPHRASE"),
		EthPrivateKey:   os.Getenv("ETH_PRIVATE_KEY"),

		MaxRetries:    getEnvInt("MAX_RETRIES", 3),
		SubmitTimeout: getEnvDuration("SUBMIT_TIMEOUT", 5*time.Second),
		CancelTimeout: getEnvDuration("CANCEL_TIMEOUT", 2*time.Second),
		SlippageBps:   getEnvInt("SLIPPAGE_BPS", 10),

		Limits: Limits{
			MaxNetExposure: getEnvDecimal("MAX_NET_EXPOSURE", decimal.NewFromInt(100)),
			LimitEpsilon:   getEnvDecimal("LIMIT_EPSILON", decimal.NewFromFloat(0.5)),
			MaxOpenOrders:  getEnvInt("MAX_OPEN_ORDERS", 4),
			MinEdge:        getEnvDecimal("MIN_EDGE", decimal.NewFromFloat(0.05)),
			ClipSize:       getEnvDecimal("CLIP_SIZE", decimal.NewFromInt(20)),
			SkewThreshold:  getEnvDecimal("SKEW_THRESHOLD", decimal.NewFromInt(10)),
			HedgeOnlyFloor: getEnvDuration("HEDGE_ONLY_FLOOR", 60*time.Second),
			HedgeWindow:    getEnvDuration("HEDGE_WINDOW", 5*time.Minute),
			LowTierFloor:   getEnvDuration("LOW_TIER_FLOOR", 90*time.Second),
		},

		DatabaseDSN: getEnv("DATABASE_DSN", "data/engine.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("ASSETS must name at least one reference symbol")
	}
	if cfg.Limits.MinEdge.IsNegative() {
		return nil, fmt.Errorf("MIN_EDGE must be >= 0")
	}
	if !cfg.PaperMode && cfg.EthPrivateKey == "" {
		return nil, fmt.Errorf("ETH_PRIVATE_KEY required when PAPER_MODE=false")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
