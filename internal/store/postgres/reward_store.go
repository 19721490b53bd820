package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// RewardLedger implements domain.RewardToken as a PostgreSQL-backed balance
// ledger. Mint is gated by membership in reward_minters.
type RewardLedger struct {
	pool   *pgxpool.Pool
	minter common.Address
}

// NewRewardLedger creates a RewardLedger that mints on behalf of the given
// minter identity.
func NewRewardLedger(pool *pgxpool.Pool, minter common.Address) *RewardLedger {
	return &RewardLedger{pool: pool, minter: minter}
}

// GrantMinter adds an account to the minter set.
func (s *RewardLedger) GrantMinter(ctx context.Context, account common.Address) error {
	const query = `INSERT INTO reward_minters (account) VALUES ($1) ON CONFLICT DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, account.Hex()); err != nil {
		return fmt.Errorf("postgres: grant minter %s: %w", account.Hex(), err)
	}
	return nil
}

// Mint credits amount to the given account. The ledger's configured minter
// identity must be in the minter set.
func (s *RewardLedger) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: mint reward: %w", domain.ErrInvalidAmount)
	}

	var allowed bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM reward_minters WHERE account = $1)`, s.minter.Hex(),
	).Scan(&allowed); err != nil {
		return fmt.Errorf("postgres: minter check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("postgres: mint reward as %s: %w", s.minter.Hex(), domain.ErrNotAuthorized)
	}

	const query = `
		INSERT INTO reward_balances (account, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET balance = reward_balances.balance + EXCLUDED.balance`
	if _, err := s.pool.Exec(ctx, query, to.Hex(), bigOrZero(amount)); err != nil {
		return fmt.Errorf("postgres: mint reward to %s: %w", to.Hex(), err)
	}
	return nil
}

// BalanceOf returns the account's balance, zero for unknown accounts.
func (s *RewardLedger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	const query = `SELECT balance::text FROM reward_balances WHERE account = $1`
	var balance string
	err := s.pool.QueryRow(ctx, query, account.Hex()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("postgres: balance of %s: %w", account.Hex(), err)
	}
	return parseBig(balance)
}

// Transfer moves amount between accounts in one transaction. The debit's
// CHECK (balance >= 0) rejects overdrafts.
func (s *RewardLedger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: transfer reward: %w", domain.ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: transfer reward: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE reward_balances SET balance = balance - $2::numeric WHERE account = $1 AND balance >= $2::numeric`,
		from.Hex(), bigOrZero(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s of %s: %w", from.Hex(), amount, domain.ErrInvalidAmount)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO reward_balances (account, balance) VALUES ($1, $2::numeric)
		 ON CONFLICT (account) DO UPDATE SET balance = reward_balances.balance + EXCLUDED.balance`,
		to.Hex(), bigOrZero(amount),
	); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: transfer reward: commit: %w", err)
	}
	return nil
}

var _ domain.RewardToken = (*RewardLedger)(nil)
