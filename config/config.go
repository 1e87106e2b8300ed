package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"trendwatch/internal/indicator"
	"trendwatch/internal/model"
)

// Bar source names accepted by BAR_SOURCE.
const (
	SourceYahoo   = "yahoo"
	SourceSQLite  = "sqlite"
	SourceParquet = "parquet"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Watch list (TOML); empty means the built-in default list
	WatchlistPath string

	// Bar source
	BarSource    string
	YahooBaseURL string
	SQLitePath   string
	ParquetDir   string
	ArchiveBars  bool // copy fetched Yahoo bars into SQLite

	// Infrastructure; empty addresses disable the component
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string
	GatewayAddr   string

	// Scheduling
	CycleInterval time.Duration
	Concurrency   int

	// Logging
	LogLevel  string
	LogFormat string

	// Classifier and alerts
	Indicator      indicator.Params
	PullbackAlerts bool
	AlertHistory   int

	// Notification channels; empty disables the channel
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads a .env file if present, then configuration from environment
// variables with sensible defaults. Call Validate before use.
func Load() *Config {
	_ = godotenv.Load()

	def := indicator.DefaultParams()
	return &Config{
		WatchlistPath: getEnv("WATCHLIST_PATH", ""),

		BarSource:    strings.ToLower(getEnv("BAR_SOURCE", SourceYahoo)),
		YahooBaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		SQLitePath:   getEnv("SQLITE_PATH", "data/bars.db"),
		ParquetDir:   getEnv("PARQUET_DIR", "data/parquet"),
		ArchiveBars:  getBool("ARCHIVE_BARS", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		CycleInterval: getDuration("CYCLE_INTERVAL", 5*time.Minute),
		Concurrency:   getInt("CONCURRENCY", 4),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Indicator: indicator.Params{
			FastWindow:        getInt("SMA_FAST", def.FastWindow),
			SlowWindow:        getInt("SMA_SLOW", def.SlowWindow),
			VolumeWindow:      getInt("VOLUME_WINDOW", def.VolumeWindow),
			StrengthThreshold: getFloat("STRENGTH_THRESHOLD", def.StrengthThreshold),
		},
		PullbackAlerts: getBool("PULLBACK_ALERTS", true),
		AlertHistory:   getInt("ALERT_HISTORY", 200),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.BarSource {
	case SourceYahoo, SourceSQLite, SourceParquet:
	default:
		errs = append(errs, fmt.Errorf("BAR_SOURCE %q: want yahoo, sqlite or parquet", c.BarSource))
	}
	if err := c.Indicator.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Indicator.FastWindow >= c.Indicator.SlowWindow {
		errs = append(errs, fmt.Errorf("SMA_FAST (%d) must be below SMA_SLOW (%d)",
			c.Indicator.FastWindow, c.Indicator.SlowWindow))
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, errors.New("CYCLE_INTERVAL must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("CONCURRENCY must be positive"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	return errors.Join(errs...)
}

// DefaultWatchlist covers FX majors, the DAX, metals and bitcoin on hourly
// and daily bars.
func DefaultWatchlist() model.Watchlist {
	return model.Watchlist{
		Instruments: []model.Instrument{
			{Name: "EUR/USD", Symbol: "EURUSD=X"},
			{Name: "USD/JPY", Symbol: "USDJPY=X"},
			{Name: "GBP/USD", Symbol: "GBPUSD=X"},
			{Name: "AUD/USD", Symbol: "AUDUSD=X"},
			{Name: "GER30", Symbol: "^GDAXI"},
			{Name: "Gold", Symbol: "GC=F"},
			{Name: "Silver", Symbol: "SI=F"},
			{Name: "BTC/USD", Symbol: "BTC-USD"},
		},
		Timeframes: []model.Timeframe{
			{Interval: "1h", Lookback: "5d"},
			{Interval: "1d", Lookback: "1mo"},
		},
	}
}

// LoadWatchlist decodes a TOML watch list. An empty path returns the default
// list. Timeframes missing from the file fall back to the default ones.
func LoadWatchlist(path string) (model.Watchlist, error) {
	if path == "" {
		return DefaultWatchlist(), nil
	}

	var w model.Watchlist
	if _, err := toml.DecodeFile(path, &w); err != nil {
		return model.Watchlist{}, fmt.Errorf("config: decode watchlist %s: %w", path, err)
	}
	if len(w.Timeframes) == 0 {
		w.Timeframes = DefaultWatchlist().Timeframes
	}
	for i := range w.Instruments {
		if w.Instruments[i].Name == "" {
			w.Instruments[i].Name = w.Instruments[i].Symbol
		}
	}
	if err := w.Validate(); err != nil {
		return model.Watchlist{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return w, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		slog.Warn("config: invalid number, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config: invalid boolean, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
