// Package config defines the top-level configuration for the paper trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAPER_* environment variables.
type Config struct {
	Portfolio PortfolioConfig `toml:"portfolio"`
	S3        S3Config        `toml:"s3"`
	Oracle    OracleConfig    `toml:"oracle"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Poll      PollConfig      `toml:"poll"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PortfolioConfig holds the simulation parameters baked into every new
// portfolio document.
type PortfolioConfig struct {
	PositionSize    float64 `toml:"position_size"`
	MinScore        float64 `toml:"min_score"`
	TrailActivation float64 `toml:"trail_activation"`
	TrailDistance   float64 `toml:"trail_distance"`
	StopLoss        float64 `toml:"stop_loss"`
	HistoryLimit    int     `toml:"history_limit"`
}

// S3Config holds the S3-compatible object storage parameters for the shared
// portfolio document.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// PointerKey is the fixed object naming the current portfolio document;
	// Prefix is where document versions are written.
	PointerKey string `toml:"pointer_key"`
	Prefix     string `toml:"prefix"`
}

// OracleConfig holds the price oracle parameters.
type OracleConfig struct {
	DexscreenerURL   string            `toml:"dexscreener_url"`
	GeckoTerminalURL string            `toml:"geckoterminal_url"`
	ChunkSize        int               `toml:"chunk_size"`
	ChunkDelay       duration          `toml:"chunk_delay"`
	CacheTTL         duration          `toml:"cache_ttl"`
	// Networks maps signal chain names to GeckoTerminal network slugs,
	// merged over the built-in defaults.
	Networks map[string]string `toml:"networks"`
}

// RedisConfig holds the optional quote cache connection parameters. An empty
// addr disables the cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the optional trade journal connection. An empty DSN
// disables the journal.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// PollConfig bounds one polling invocation and the background schedule.
type PollConfig struct {
	Iterations int      `toml:"iterations"`
	CycleDelay duration `toml:"cycle_delay"`
	Interval   duration `toml:"interval"`
}

// ServerConfig holds the HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds chat notification credentials. Senders with empty
// credentials are skipped.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML files can use "30s" / "5m" strings.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the built-in configuration, suitable as a base to merge a
// TOML file over.
func Defaults() Config {
	return Config{
		Portfolio: PortfolioConfig{
			PositionSize:    100.0,
			MinScore:        0,
			TrailActivation: 1.5,
			TrailDistance:   0.10,
			StopLoss:        0.15,
			HistoryLimit:    200,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			PointerKey:     "portfolio/current",
			Prefix:         "portfolio/",
		},
		Oracle: OracleConfig{
			ChunkSize:  30,
			ChunkDelay: duration{500 * time.Millisecond},
			CacheTTL:   duration{30 * time.Second},
			Networks:   map[string]string{},
		},
		Poll: PollConfig{
			Iterations: 3,
			CycleDelay: duration{10 * time.Second},
			Interval:   duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "trailing_activated", "position_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"poll":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, poll, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Portfolio — fractions must stay inside (0,1); the activation multiple
	// must be above break-even or the trail would arm instantly.
	if c.Portfolio.PositionSize <= 0 {
		errs = append(errs, "portfolio: position_size must be > 0")
	}
	if c.Portfolio.TrailActivation <= 1 {
		errs = append(errs, fmt.Sprintf("portfolio: trail_activation must be > 1, got %g", c.Portfolio.TrailActivation))
	}
	if c.Portfolio.TrailDistance <= 0 || c.Portfolio.TrailDistance >= 1 {
		errs = append(errs, fmt.Sprintf("portfolio: trail_distance must be in (0,1), got %g", c.Portfolio.TrailDistance))
	}
	if c.Portfolio.StopLoss <= 0 || c.Portfolio.StopLoss >= 1 {
		errs = append(errs, fmt.Sprintf("portfolio: stop_loss must be in (0,1), got %g", c.Portfolio.StopLoss))
	}
	if c.Portfolio.HistoryLimit < 0 {
		errs = append(errs, "portfolio: history_limit must be >= 0")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.PointerKey == "" {
		errs = append(errs, "s3: pointer_key must not be empty")
	}

	// Oracle
	if c.Oracle.ChunkSize < 1 {
		errs = append(errs, "oracle: chunk_size must be >= 1")
	}

	// Poll
	if c.Poll.Iterations < 1 {
		errs = append(errs, "poll: iterations must be >= 1")
	}
	if c.Mode != "serve" && c.Poll.Interval.Duration <= 0 {
		errs = append(errs, "poll: interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify — the Telegram token and chat ID travel together.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
