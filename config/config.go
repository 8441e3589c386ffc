// Package config loads the engine configuration from environment variables,
// with an optional YAML file overriding the strategy section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"futures-signal-engine/internal/execution"

	"github.com/go-playground/validator/v10"
)

// Strategy holds the parameters that may change between cycles.
type Strategy struct {
	Symbol          string  `yaml:"symbol" validate:"required,uppercase"`
	Interval        string  `yaml:"interval" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w 1M"`
	RSIPeriod       int     `yaml:"rsi_period" validate:"gte=1"`
	SMAPeriod       int     `yaml:"sma_period" validate:"gte=1"`
	StopLossPercent float64 `yaml:"stop_loss_percent" validate:"gte=0,lt=100"`
	Leverage        int     `yaml:"leverage" validate:"gte=1,lte=125"`
	PositionPercent float64 `yaml:"position_percent" validate:"gt=0,lte=100"`
	KlineLimit      int     `yaml:"kline_limit" validate:"gte=0,lte=1500"`
}

// Params converts the strategy section into cycle parameters.
func (s Strategy) Params() execution.Params {
	return execution.Params{
		Symbol:          s.Symbol,
		Interval:        s.Interval,
		RSIPeriod:       s.RSIPeriod,
		SMAPeriod:       s.SMAPeriod,
		StopLossPercent: s.StopLossPercent,
		Leverage:        s.Leverage,
		PositionPercent: s.PositionPercent,
		KlineLimit:      s.KlineLimit,
	}
}

// Config holds all application configuration.
type Config struct {
	// Binance credentials
	APIKey    string
	APISecret string
	Testnet   bool

	// Paper trading
	DryRun       bool
	PaperBalance float64 `validate:"gt=0"`

	Strategy   Strategy
	ConfigFile string
	QuoteAsset string `validate:"required"`

	// Scheduling and exchange guards
	TickInterval       time.Duration `validate:"gte=1s"`
	FilterCacheTTL     time.Duration `validate:"gte=0"`
	ExchangeRateLimit  float64       `validate:"gt=0"`
	BreakerMaxFailures int           `validate:"gte=1"`
	BreakerReset       time.Duration `validate:"gt=0"`

	// Servers
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string `validate:"omitempty,oneof=debug info warn warning error"`

	// Infrastructure; Redis is off when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	LockEnabled   bool
	LockTTL       time.Duration `validate:"gt=0"`
	StatePersist  bool

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string `validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads configuration from environment variables with sensible
// defaults, applies the CONFIG_FILE overlay when set, and validates.
func Load() (*Config, error) {
	var errs []string
	c := &Config{
		APIKey:    getEnv("BINANCE_API_KEY", ""),
		APISecret: getEnv("BINANCE_API_SECRET", ""),
		Testnet:   envBool("BINANCE_TESTNET", false, &errs),

		DryRun:       envBool("DRY_RUN", true, &errs),
		PaperBalance: envFloat("PAPER_BALANCE", 10000, &errs),

		Strategy: Strategy{
			Symbol:          strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
			Interval:        getEnv("INTERVAL", "1h"),
			RSIPeriod:       envInt("RSI_PERIOD", 14, &errs),
			SMAPeriod:       envInt("SMA_PERIOD", 14, &errs),
			StopLossPercent: envFloat("STOP_LOSS_PERCENT", 2, &errs),
			Leverage:        envInt("LEVERAGE", 10, &errs),
			PositionPercent: envFloat("POSITION_PERCENT", 10, &errs),
			KlineLimit:      envInt("KLINE_LIMIT", execution.DefaultKlineLimit, &errs),
		},
		ConfigFile: getEnv("CONFIG_FILE", ""),
		QuoteAsset: getEnv("QUOTE_ASSET", "USDT"),

		TickInterval:       envDuration("TICK_INTERVAL", time.Minute, &errs),
		FilterCacheTTL:     envDuration("FILTER_CACHE_TTL", 0, &errs),
		ExchangeRateLimit:  envFloat("EXCHANGE_RATE_LIMIT", 10, &errs),
		BreakerMaxFailures: envInt("BREAKER_MAX_FAILURES", 5, &errs),
		BreakerReset:       envDuration("BREAKER_RESET", 30*time.Second, &errs),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0, &errs),
		LockEnabled:   envBool("LOCK_ENABLED", false, &errs),
		LockTTL:       envDuration("LOCK_TTL", 5*time.Minute, &errs),
		StatePersist:  envBool("STATE_PERSIST", false, &errs),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	if c.ConfigFile != "" {
		s, err := LoadStrategyFile(c.ConfigFile, c.Strategy)
		if err != nil {
			return nil, err
		}
		c.Strategy = s
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field ranges, then the cross-field rules of the cycle
// parameters (kline limit against the indicator periods).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("config: BINANCE_API_KEY and BINANCE_API_SECRET are required unless DRY_RUN=true")
	}
	if (c.LockEnabled || c.StatePersist) && c.RedisAddr == "" {
		return fmt.Errorf("config: REDIS_ADDR is required for LOCK_ENABLED or STATE_PERSIST")
	}
	if c.LockEnabled && !c.StatePersist {
		return fmt.Errorf("config: LOCK_ENABLED requires STATE_PERSIST so replicas share the position")
	}
	if err := c.Strategy.Params().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidateStrategy validates a strategy section on its own.
func ValidateStrategy(s Strategy) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return s.Params().Validate()
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func envBool(key string, fallback bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}
