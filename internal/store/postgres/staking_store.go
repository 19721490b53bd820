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

// StakingStore implements domain.StakingStore using PostgreSQL.
type StakingStore struct {
	pool *pgxpool.Pool
}

// NewStakingStore creates a new StakingStore.
func NewStakingStore(pool *pgxpool.Pool) *StakingStore {
	return &StakingStore{pool: pool}
}

// PoolState returns the single-row accumulator state.
func (s *StakingStore) PoolState(ctx context.Context) (domain.StakingPoolState, error) {
	const query = `
		SELECT total_shares::text, acc_reward_per_share::text, updated_at
		FROM staking_pool WHERE id = 1`
	var (
		state  domain.StakingPoolState
		shares string
		acc    string
	)
	if err := s.pool.QueryRow(ctx, query).Scan(&shares, &acc, &state.UpdatedAt); err != nil {
		return domain.StakingPoolState{}, fmt.Errorf("postgres: staking pool state: %w", err)
	}
	var err error
	if state.TotalShares, err = parseBig(shares); err != nil {
		return domain.StakingPoolState{}, err
	}
	if state.AccRewardPerShare, err = parseBig(acc); err != nil {
		return domain.StakingPoolState{}, err
	}
	return state, nil
}

// SavePoolState persists the accumulator state.
func (s *StakingStore) SavePoolState(ctx context.Context, state domain.StakingPoolState) error {
	const query = `
		UPDATE staking_pool
		SET total_shares = $1::numeric, acc_reward_per_share = $2::numeric, updated_at = $3
		WHERE id = 1`
	_, err := s.pool.Exec(ctx, query,
		bigOrZero(state.TotalShares), bigOrZero(state.AccRewardPerShare), state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save staking pool state: %w", err)
	}
	return nil
}

// Account returns one staker's account. Unknown owners get a zeroed account,
// not an error.
func (s *StakingStore) Account(ctx context.Context, owner common.Address) (domain.StakingAccount, error) {
	const query = `
		SELECT shares::text, reward_debt::text, updated_at
		FROM staking_accounts WHERE owner = $1`
	var (
		acc    domain.StakingAccount
		shares string
		debt   string
	)
	err := s.pool.QueryRow(ctx, query, owner.Hex()).Scan(&shares, &debt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StakingAccount{
				Owner:      owner,
				Shares:     new(big.Int),
				RewardDebt: new(big.Int),
			}, nil
		}
		return domain.StakingAccount{}, fmt.Errorf("postgres: staking account %s: %w", owner.Hex(), err)
	}
	acc.Owner = owner
	if acc.Shares, err = parseBig(shares); err != nil {
		return domain.StakingAccount{}, err
	}
	if acc.RewardDebt, err = parseBig(debt); err != nil {
		return domain.StakingAccount{}, err
	}
	return acc, nil
}

// SaveAccount upserts a staker's account.
func (s *StakingStore) SaveAccount(ctx context.Context, acc domain.StakingAccount) error {
	const query = `
		INSERT INTO staking_accounts (owner, shares, reward_debt, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4)
		ON CONFLICT (owner) DO UPDATE SET
			shares = EXCLUDED.shares,
			reward_debt = EXCLUDED.reward_debt,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		acc.Owner.Hex(), bigOrZero(acc.Shares), bigOrZero(acc.RewardDebt), acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save staking account %s: %w", acc.Owner.Hex(), err)
	}
	return nil
}

var _ domain.StakingStore = (*StakingStore)(nil)
