package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"
log_level = "debug"

[bonds]
lock_ttl = "45s"
distributed_lock = true

[solvency]
interval = "2m"

[postgres]
host = "db.internal"
port = 5433
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Bonds.LockTTL.Duration)
	assert.True(t, cfg.Bonds.DistributedLock)
	assert.Equal(t, 2*time.Minute, cfg.Solvency.Interval.Duration)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
[bonds]
lock_ttl = "not-a-duration"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"

[redis]
addr = "file-redis:6379"
`)

	t.Setenv("BONDVAULT_MODE", "full")
	t.Setenv("BONDVAULT_REDIS_ADDR", "env-redis:6379")
	t.Setenv("BONDVAULT_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("BONDVAULT_BONDS_LOCK_TTL", "90s")
	t.Setenv("BONDVAULT_ROLES_ADMINS", "0xA11CE00000000000000000000000000000000001, 0xB0B0000000000000000000000000000000000002")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 90*time.Second, cfg.Bonds.LockTTL.Duration)
	assert.Equal(t, []string{
		"0xA11CE00000000000000000000000000000000001",
		"0xB0B0000000000000000000000000000000000002",
	}, cfg.Roles.Admins)
}

func TestValidateCatchesProblems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "replay" },
			message: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			message: "unknown log_level",
		},
		{
			name: "backend enabled without operator key",
			mutate: func(c *Config) {
				c.Lido.Enabled = true
				c.Lido.StETHAddress = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
				c.Lido.WithdrawalQueue = "0x889edC2eDab5f40e902b864aD4d7AdE8E412F9B1"
			},
			message: "private_key or encrypted_key_path",
		},
		{
			name: "lido bad address",
			mutate: func(c *Config) {
				c.Operator.PrivateKey = "ab"
				c.Lido.Enabled = true
				c.Lido.StETHAddress = "not-an-address"
				c.Lido.WithdrawalQueue = "0x889edC2eDab5f40e902b864aD4d7AdE8E412F9B1"
			},
			message: "steth_address",
		},
		{
			name: "restake missing vault",
			mutate: func(c *Config) {
				c.Operator.PrivateKey = "ab"
				c.Restake.Enabled = true
				c.Restake.StrategyManager = "0x858646372CC42E1A627fcE94aa7A7033e7CF075A"
				c.Restake.DelegationManager = "0x39053D51B77DC0d36036Fc1fCc8Cb819df8Ef37A"
				c.Restake.Token = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
			},
			message: "vault",
		},
		{
			name: "duplicate strategy id",
			mutate: func(c *Config) {
				c.Operator.PrivateKey = "ab"
				c.Lido.Enabled = true
				c.Lido.StETHAddress = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
				c.Lido.WithdrawalQueue = "0x889edC2eDab5f40e902b864aD4d7AdE8E412F9B1"
				c.Restake.Enabled = true
				c.Restake.StrategyID = c.Lido.StrategyID
				c.Restake.StrategyManager = "0x858646372CC42E1A627fcE94aa7A7033e7CF075A"
				c.Restake.DelegationManager = "0x39053D51B77DC0d36036Fc1fCc8Cb819df8Ef37A"
				c.Restake.Vault = "0x93c4b944D05dfe6df7645A86cd2206016c51564D"
				c.Restake.Token = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
			},
			message: "used by both",
		},
		{
			name:    "zero lock ttl",
			mutate:  func(c *Config) { c.Bonds.LockTTL.Duration = 0 },
			message: "lock_ttl",
		},
		{
			name:    "pool mins above max",
			mutate:  func(c *Config) { c.Postgres.PoolMinConns = 20 },
			message: "pool_min_conns",
		},
		{
			name: "archival without bucket",
			mutate: func(c *Config) {
				c.Solvency.Archive = true
				c.S3.Bucket = ""
			},
			message: "bucket",
		},
		{
			name:    "bad role address",
			mutate:  func(c *Config) { c.Roles.Admins = []string{"alice"} },
			message: "roles: admins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
