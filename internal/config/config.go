// Package config defines the top-level configuration for the bond vault and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BONDVAULT_* environment variables.
type Config struct {
	Operator Operator       `toml:"operator"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Lido     LidoConfig     `toml:"lido"`
	Restake  RestakeConfig  `toml:"restake"`
	Oracle   OracleConfig   `toml:"oracle"`
	Bonds    BondsConfig    `toml:"bonds"`
	Staking  StakingConfig  `toml:"staking"`
	Solvency SolvencyConfig `toml:"solvency"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Roles    RolesConfig    `toml:"roles"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Operator holds the key used to sign backend transactions.
type Operator struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint the platform clients dial.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LidoConfig holds the queued-unstake strategy's deployment addresses.
type LidoConfig struct {
	Enabled         bool   `toml:"enabled"`
	StrategyID      string `toml:"strategy_id"`
	StETHAddress    string `toml:"steth_address"`
	WithdrawalQueue string `toml:"withdrawal_queue"`
}

// RestakeConfig holds the delayed-withdrawal strategy's deployment addresses.
type RestakeConfig struct {
	Enabled           bool   `toml:"enabled"`
	StrategyID        string `toml:"strategy_id"`
	StrategyManager   string `toml:"strategy_manager"`
	DelegationManager string `toml:"delegation_manager"`
	Vault             string `toml:"vault"`
	Token             string `toml:"token"`
}

// OracleConfig maps token addresses to Chainlink feed addresses. MaxAge
// bounds how old a feed round may be before it is rejected as stale; zero
// disables the check.
type OracleConfig struct {
	Feeds  map[string]string `toml:"feeds"`
	MaxAge duration          `toml:"max_age"`
}

// BondsConfig holds bond lifecycle parameters.
type BondsConfig struct {
	LockTTL         duration `toml:"lock_ttl"`
	DistributedLock bool     `toml:"distributed_lock"`
	RateCacheTTL    duration `toml:"rate_cache_ttl"`
}

// StakingConfig holds the reward staking pool parameters.
type StakingConfig struct {
	Enabled bool `toml:"enabled"`
}

// SolvencyConfig holds the solvency monitor's schedule and sinks.
type SolvencyConfig struct {
	Interval      duration `toml:"interval"`
	Archive       bool     `toml:"archive"`
	ArchivePrefix string   `toml:"archive_prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// RolesConfig assigns protocol roles to account addresses.
type RolesConfig struct {
	Admins       []string `toml:"admins"`
	Distributors []string `toml:"distributors"`
	Treasurers   []string `toml:"treasurers"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bondvault-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Lido: LidoConfig{
			Enabled:    false,
			StrategyID: "lido",
		},
		Restake: RestakeConfig{
			Enabled:    false,
			StrategyID: "restake",
		},
		Oracle: OracleConfig{
			Feeds:  map[string]string{},
			MaxAge: duration{time.Hour},
		},
		Bonds: BondsConfig{
			LockTTL:         duration{30 * time.Second},
			DistributedLock: false,
			RateCacheTTL:    duration{time.Minute},
		},
		Staking: StakingConfig{
			Enabled: true,
		},
		Solvency: SolvencyConfig{
			Interval:      duration{10 * time.Minute},
			Archive:       true,
			ArchivePrefix: "solvency",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"bond_settled", "solvency_report", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func isHexAddress(s string) bool {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return false
		}
	}
	return true
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator key is needed whenever a backend is enabled.
	if c.Lido.Enabled || c.Restake.Enabled {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set when a strategy backend is enabled")
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty when a strategy backend is enabled")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
	}

	// Lido
	if c.Lido.Enabled {
		if c.Lido.StrategyID == "" {
			errs = append(errs, "lido: strategy_id must not be empty")
		}
		if !isHexAddress(c.Lido.StETHAddress) {
			errs = append(errs, fmt.Sprintf("lido: steth_address %q is not a valid address", c.Lido.StETHAddress))
		}
		if !isHexAddress(c.Lido.WithdrawalQueue) {
			errs = append(errs, fmt.Sprintf("lido: withdrawal_queue %q is not a valid address", c.Lido.WithdrawalQueue))
		}
	}

	// Restake
	if c.Restake.Enabled {
		if c.Restake.StrategyID == "" {
			errs = append(errs, "restake: strategy_id must not be empty")
		}
		for name, addr := range map[string]string{
			"strategy_manager":   c.Restake.StrategyManager,
			"delegation_manager": c.Restake.DelegationManager,
			"vault":              c.Restake.Vault,
			"token":              c.Restake.Token,
		} {
			if !isHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("restake: %s %q is not a valid address", name, addr))
			}
		}
	}
	if c.Lido.Enabled && c.Restake.Enabled && c.Lido.StrategyID == c.Restake.StrategyID {
		errs = append(errs, fmt.Sprintf("strategy_id %q is used by both lido and restake", c.Lido.StrategyID))
	}

	// Oracle
	if c.Oracle.MaxAge.Duration < 0 {
		errs = append(errs, "oracle: max_age must be >= 0")
	}
	for token, feed := range c.Oracle.Feeds {
		if !isHexAddress(token) {
			errs = append(errs, fmt.Sprintf("oracle: token %q is not a valid address", token))
		}
		if !isHexAddress(feed) {
			errs = append(errs, fmt.Sprintf("oracle: feed %q for token %s is not a valid address", feed, token))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Solvency.Archive {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when solvency archival is on")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when solvency archival is on")
		}
	}

	// Bonds
	if c.Bonds.LockTTL.Duration <= 0 {
		errs = append(errs, "bonds: lock_ttl must be > 0")
	}

	// Solvency
	if c.Solvency.Interval.Duration <= 0 {
		errs = append(errs, "solvency: interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Roles
	for role, addrs := range map[string][]string{
		"admins":       c.Roles.Admins,
		"distributors": c.Roles.Distributors,
		"treasurers":   c.Roles.Treasurers,
	} {
		for _, addr := range addrs {
			if !isHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("roles: %s entry %q is not a valid address", role, addr))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
