package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Portfolio ──
	setFloat64(&cfg.Portfolio.PositionSize, "PAPER_PORTFOLIO_POSITION_SIZE")
	setFloat64(&cfg.Portfolio.MinScore, "PAPER_PORTFOLIO_MIN_SCORE")
	setFloat64(&cfg.Portfolio.TrailActivation, "PAPER_PORTFOLIO_TRAIL_ACTIVATION")
	setFloat64(&cfg.Portfolio.TrailDistance, "PAPER_PORTFOLIO_TRAIL_DISTANCE")
	setFloat64(&cfg.Portfolio.StopLoss, "PAPER_PORTFOLIO_STOP_LOSS")
	setInt(&cfg.Portfolio.HistoryLimit, "PAPER_PORTFOLIO_HISTORY_LIMIT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPER_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PointerKey, "PAPER_S3_POINTER_KEY")
	setStr(&cfg.S3.Prefix, "PAPER_S3_PREFIX")

	// ── Oracle ──
	setStr(&cfg.Oracle.DexscreenerURL, "PAPER_ORACLE_DEXSCREENER_URL")
	setStr(&cfg.Oracle.GeckoTerminalURL, "PAPER_ORACLE_GECKOTERMINAL_URL")
	setInt(&cfg.Oracle.ChunkSize, "PAPER_ORACLE_CHUNK_SIZE")
	setDuration(&cfg.Oracle.ChunkDelay, "PAPER_ORACLE_CHUNK_DELAY")
	setDuration(&cfg.Oracle.CacheTTL, "PAPER_ORACLE_CACHE_TTL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PAPER_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPER_POSTGRES_DSN")

	// ── Poll ──
	setInt(&cfg.Poll.Iterations, "PAPER_POLL_ITERATIONS")
	setDuration(&cfg.Poll.CycleDelay, "PAPER_POLL_CYCLE_DELAY")
	setDuration(&cfg.Poll.Interval, "PAPER_POLL_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PAPER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PAPER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPER_MODE")
	setStr(&cfg.LogLevel, "PAPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
