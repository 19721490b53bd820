package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/bondvault/internal/blob/s3"
	"github.com/alanyoungcy/bondvault/internal/cache/redis"
	"github.com/alanyoungcy/bondvault/internal/config"
	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/notify"
	"github.com/alanyoungcy/bondvault/internal/platform/chainlink"
	"github.com/alanyoungcy/bondvault/internal/platform/eigenlayer"
	"github.com/alanyoungcy/bondvault/internal/platform/lido"
	"github.com/alanyoungcy/bondvault/internal/store/postgres"
	"github.com/alanyoungcy/bondvault/internal/strategy"
)

// stakingPoolAccount is the synthetic ledger address that holds staked reward
// tokens. Stakes transfer to it, withdrawals transfer out of it, and it is
// the minter identity for pending-reward payouts.
var stakingPoolAccount = common.BytesToAddress([]byte("bondvault:staking"))

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	BondStore         domain.BondStore
	RateStore         domain.RateStore
	TokenStore        domain.TokenWhitelistStore
	StrategyStore     domain.StrategyRegistryStore
	TreasuryStore     domain.TreasuryStore
	StakingStore      domain.StakingStore
	ClaimRegistry     domain.ClaimRegistry
	RewardLedger      *postgres.RewardLedger
	AuditStore        domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Chain
	Registry *strategy.Registry
	Oracle   domain.PriceOracle

	// Blob storage
	Reports  *s3blob.Reader
	Archiver *s3blob.Archiver

	// Access control and notifications
	Roles    *domain.RoleSet
	Notifier *notify.Notifier
}

// needsChain returns true when any strategy backend transacts on-chain.
func needsChain(cfg *config.Config) bool {
	return cfg.Lido.Enabled || cfg.Restake.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.BondStore = postgres.NewBondStore(pool)
	deps.TokenStore = postgres.NewTokenWhitelistStore(pool)
	deps.StrategyStore = postgres.NewStrategyRegistryStore(pool)
	deps.TreasuryStore = postgres.NewTreasuryStore(pool)
	deps.StakingStore = postgres.NewStakingStore(pool)
	deps.ClaimRegistry = postgres.NewClaimStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.RewardLedger = postgres.NewRewardLedger(pool, stakingPoolAccount)
	rateStore := postgres.NewRateStore(pool)
	deps.RateStore = rateStore

	if cfg.Staking.Enabled {
		if err := deps.RewardLedger.GrantMinter(ctx, stakingPoolAccount); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: grant reward minter: %w", err)
		}
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient, 10_000)
	if cfg.Bonds.DistributedLock {
		deps.LockManager = redis.NewLockManager(redisClient)
	}
	if ttl := cfg.Bonds.RateCacheTTL.Duration; ttl > 0 {
		deps.RateStore = redis.NewRateCache(redisClient, rateStore, ttl)
	}

	// --- Chain clients and strategy adapters ---
	deps.Registry = strategy.NewRegistry()

	var eth *ethclient.Client
	if needsChain(cfg) || len(cfg.Oracle.Feeds) > 0 {
		eth, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: eth dial: %w", err)
		}
		closers = append(closers, eth.Close)
	}

	if needsChain(cfg) {
		opts, err := crypto.Transactor(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		}, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}

		if cfg.Lido.Enabled {
			lidoClient, err := lido.New(
				eth,
				common.HexToAddress(cfg.Lido.StETHAddress),
				common.HexToAddress(cfg.Lido.WithdrawalQueue),
				opts,
				logger,
			)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: lido: %w", err)
			}
			deps.Registry.Register(strategy.NewQueuedUnstakeAdapter(
				domain.StrategyID(cfg.Lido.StrategyID), lidoClient, logger,
			))
		}

		if cfg.Restake.Enabled {
			restakeClient, err := eigenlayer.New(
				eth,
				common.HexToAddress(cfg.Restake.StrategyManager),
				common.HexToAddress(cfg.Restake.DelegationManager),
				common.HexToAddress(cfg.Restake.Vault),
				common.HexToAddress(cfg.Restake.Token),
				opts,
				logger,
			)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: eigenlayer: %w", err)
			}
			deps.Registry.Register(strategy.NewDelayedWithdrawalAdapter(
				domain.StrategyID(cfg.Restake.StrategyID), restakeClient, logger,
			))
		}
	}

	// --- Price oracle ---
	if len(cfg.Oracle.Feeds) > 0 {
		feeds := make(map[common.Address]common.Address, len(cfg.Oracle.Feeds))
		for token, feed := range cfg.Oracle.Feeds {
			feeds[common.HexToAddress(token)] = common.HexToAddress(feed)
		}
		oracle, err := chainlink.NewOracle(eth, feeds, cfg.Oracle.MaxAge.Duration, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle: %w", err)
		}
		deps.Oracle = oracle
	} else {
		deps.Oracle = parOracle{}
	}

	// --- S3 report archive ---
	if cfg.Solvency.Archive {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Reports = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, cfg.Solvency.ArchivePrefix)
	}

	// --- Access control ---
	deps.Roles = domain.NewRoleSet()
	for _, addr := range cfg.Roles.Admins {
		deps.Roles.Grant(common.HexToAddress(addr), domain.RoleAdmin)
	}
	for _, addr := range cfg.Roles.Distributors {
		deps.Roles.Grant(common.HexToAddress(addr), domain.RoleDistributor)
	}
	for _, addr := range cfg.Roles.Treasurers {
		deps.Roles.Grant(common.HexToAddress(addr), domain.RoleTreasurer)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// parOracle values every holding token at one valuation unit per token. Used
// when no price feeds are configured so solvency reports degrade to a raw
// holdings-vs-liabilities comparison instead of failing.
type parOracle struct{}

func (parOracle) Price(_ context.Context, _ common.Address) (*big.Int, time.Time, error) {
	return big.NewInt(1), time.Now().UTC(), nil
}

var _ domain.PriceOracle = parOracle{}
