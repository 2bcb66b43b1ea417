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
// built-in defaults, applies BITBOND_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BITBOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Custody, "BITBOND_ENGINE_CUSTODY")
	setStr(&cfg.Engine.Escrow, "BITBOND_ENGINE_ESCROW")
	setStr(&cfg.Engine.Treasury, "BITBOND_ENGINE_TREASURY")
	setUint64(&cfg.Engine.BlocksPerDay, "BITBOND_ENGINE_BLOCKS_PER_DAY")
	setStr(&cfg.Engine.BaseTokenURI, "BITBOND_ENGINE_BASE_TOKEN_URI")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "BITBOND_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "BITBOND_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "BITBOND_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BITBOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BITBOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BITBOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BITBOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BITBOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BITBOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BITBOND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BITBOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BITBOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BITBOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BITBOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BITBOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BITBOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BITBOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BITBOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BITBOND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BITBOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BITBOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "BITBOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BITBOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BITBOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BITBOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BITBOND_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BITBOND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BITBOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BITBOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BITBOND_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BITBOND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BITBOND_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureMaxSkew, "BITBOND_SERVER_SIGNATURE_MAX_SKEW")

	// ── Tracker ──
	setDuration(&cfg.Tracker.PollInterval, "BITBOND_TRACKER_POLL_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BITBOND_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BITBOND_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BITBOND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BITBOND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BITBOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BITBOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BITBOND_MODE")
	setStr(&cfg.LogLevel, "BITBOND_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
