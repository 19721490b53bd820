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
// built-in defaults, applies BONDVAULT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BONDVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "BONDVAULT_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "BONDVAULT_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "BONDVAULT_OPERATOR_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "BONDVAULT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "BONDVAULT_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BONDVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDVAULT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BONDVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDVAULT_S3_FORCE_PATH_STYLE")

	// ── Lido ──
	setBool(&cfg.Lido.Enabled, "BONDVAULT_LIDO_ENABLED")
	setStr(&cfg.Lido.StrategyID, "BONDVAULT_LIDO_STRATEGY_ID")
	setStr(&cfg.Lido.StETHAddress, "BONDVAULT_LIDO_STETH_ADDRESS")
	setStr(&cfg.Lido.WithdrawalQueue, "BONDVAULT_LIDO_WITHDRAWAL_QUEUE")

	// ── Restake ──
	setBool(&cfg.Restake.Enabled, "BONDVAULT_RESTAKE_ENABLED")
	setStr(&cfg.Restake.StrategyID, "BONDVAULT_RESTAKE_STRATEGY_ID")
	setStr(&cfg.Restake.StrategyManager, "BONDVAULT_RESTAKE_STRATEGY_MANAGER")
	setStr(&cfg.Restake.DelegationManager, "BONDVAULT_RESTAKE_DELEGATION_MANAGER")
	setStr(&cfg.Restake.Vault, "BONDVAULT_RESTAKE_VAULT")
	setStr(&cfg.Restake.Token, "BONDVAULT_RESTAKE_TOKEN")

	// ── Oracle ──
	setDuration(&cfg.Oracle.MaxAge, "BONDVAULT_ORACLE_MAX_AGE")

	// ── Bonds ──
	setDuration(&cfg.Bonds.LockTTL, "BONDVAULT_BONDS_LOCK_TTL")
	setBool(&cfg.Bonds.DistributedLock, "BONDVAULT_BONDS_DISTRIBUTED_LOCK")
	setDuration(&cfg.Bonds.RateCacheTTL, "BONDVAULT_BONDS_RATE_CACHE_TTL")

	// ── Staking ──
	setBool(&cfg.Staking.Enabled, "BONDVAULT_STAKING_ENABLED")

	// ── Solvency ──
	setDuration(&cfg.Solvency.Interval, "BONDVAULT_SOLVENCY_INTERVAL")
	setBool(&cfg.Solvency.Archive, "BONDVAULT_SOLVENCY_ARCHIVE")
	setStr(&cfg.Solvency.ArchivePrefix, "BONDVAULT_SOLVENCY_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BONDVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BONDVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BONDVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BONDVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BONDVAULT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BONDVAULT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BONDVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BONDVAULT_NOTIFY_EVENTS")

	// ── Roles ──
	setStringSlice(&cfg.Roles.Admins, "BONDVAULT_ROLES_ADMINS")
	setStringSlice(&cfg.Roles.Distributors, "BONDVAULT_ROLES_DISTRIBUTORS")
	setStringSlice(&cfg.Roles.Treasurers, "BONDVAULT_ROLES_TREASURERS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDVAULT_MODE")
	setStr(&cfg.LogLevel, "BONDVAULT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
