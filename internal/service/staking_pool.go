package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// StakingPool is a conventional accumulated-reward-per-share ledger over the
// reward token. Stakers deposit reward tokens; distributors push rewards in;
// pending rewards obey shares*accRewardPerShare/precision − rewardDebt at
// every stake/withdraw/harvest boundary.
type StakingPool struct {
	store   domain.StakingStore
	reward  domain.RewardToken
	auth    domain.Authorizer
	account common.Address
	bus     domain.EventBus
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes accumulator updates; the read-modify-write on the pool
	// state is not safe to interleave.
	mu sync.Mutex
}

// NewStakingPool creates a StakingPool. account is the address the pool
// custodies staked tokens under; bus may be nil.
func NewStakingPool(
	store domain.StakingStore,
	reward domain.RewardToken,
	auth domain.Authorizer,
	account common.Address,
	bus domain.EventBus,
	logger *slog.Logger,
) *StakingPool {
	return &StakingPool{
		store:   store,
		reward:  reward,
		auth:    auth,
		account: account,
		bus:     bus,
		logger:  logger.With(slog.String("component", "staking_pool")),
		now:     time.Now,
	}
}

// Stake moves amount of the reward token from caller into the pool, paying
// out any pending reward first.
func (p *StakingPool) Stake(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("staking: stake: %w", domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, acc, err := p.load(ctx, caller)
	if err != nil {
		return err
	}
	if err := p.payPending(ctx, &acc, state); err != nil {
		return err
	}
	if err := p.reward.Transfer(ctx, caller, p.account, amount); err != nil {
		return fmt.Errorf("staking: transfer in: %w", err)
	}

	acc.Shares = new(big.Int).Add(acc.Shares, amount)
	state.TotalShares = new(big.Int).Add(state.TotalShares, amount)
	return p.save(ctx, state, acc)
}

// Withdraw returns amount of staked tokens to caller, paying out any pending
// reward first. Fails with ErrInvalidAmount for zero or for more than staked.
func (p *StakingPool) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("staking: withdraw: %w", domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, acc, err := p.load(ctx, caller)
	if err != nil {
		return err
	}
	if acc.Shares.Cmp(amount) < 0 {
		return fmt.Errorf("staking: withdraw %s exceeds %s staked: %w",
			amount, acc.Shares, domain.ErrInvalidAmount)
	}
	if err := p.payPending(ctx, &acc, state); err != nil {
		return err
	}
	if err := p.reward.Transfer(ctx, p.account, caller, amount); err != nil {
		return fmt.Errorf("staking: transfer out: %w", err)
	}

	acc.Shares = new(big.Int).Sub(acc.Shares, amount)
	state.TotalShares = new(big.Int).Sub(state.TotalShares, amount)
	return p.save(ctx, state, acc)
}

// Harvest pays out caller's pending reward without touching the stake.
func (p *StakingPool) Harvest(ctx context.Context, caller common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, acc, err := p.load(ctx, caller)
	if err != nil {
		return nil, err
	}
	pending := pendingReward(acc, state)
	if err := p.payPending(ctx, &acc, state); err != nil {
		return nil, err
	}
	if err := p.save(ctx, state, acc); err != nil {
		return nil, err
	}
	return pending, nil
}

// AddReward distributes amount across all current shares. Restricted to the
// distributor role.
func (p *StakingPool) AddReward(ctx context.Context, caller common.Address, amount *big.Int) error {
	if !p.auth.HasRole(caller, domain.RoleDistributor) {
		return fmt.Errorf("staking: add reward: %w", domain.ErrNotAuthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("staking: add reward: %w", domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.store.PoolState(ctx)
	if err != nil {
		return fmt.Errorf("staking: pool state: %w", err)
	}
	if state.TotalShares.Sign() == 0 {
		return fmt.Errorf("staking: add reward with no stakers: %w", domain.ErrInvalidAmount)
	}

	delta := new(big.Int).Mul(amount, domain.RewardPrecision)
	delta.Quo(delta, state.TotalShares)
	state.AccRewardPerShare = new(big.Int).Add(state.AccRewardPerShare, delta)
	state.UpdatedAt = p.now()
	if err := p.store.SavePoolState(ctx, state); err != nil {
		return fmt.Errorf("staking: save pool state: %w", err)
	}

	p.logger.InfoContext(ctx, "reward added",
		slog.String("amount", amount.String()),
		slog.String("acc_per_share", state.AccRewardPerShare.String()),
	)
	if p.bus != nil {
		data, _ := json.Marshal(map[string]any{"amount": amount.String()})
		_ = p.bus.Publish(ctx, domain.EventRewardAdded, data)
	}
	return nil
}

// PendingReward returns the reward owner could harvest right now.
func (p *StakingPool) PendingReward(ctx context.Context, owner common.Address) (*big.Int, error) {
	state, acc, err := p.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	return pendingReward(acc, state), nil
}

func (p *StakingPool) load(ctx context.Context, owner common.Address) (domain.StakingPoolState, domain.StakingAccount, error) {
	state, err := p.store.PoolState(ctx)
	if err != nil {
		return domain.StakingPoolState{}, domain.StakingAccount{}, fmt.Errorf("staking: pool state: %w", err)
	}
	acc, err := p.store.Account(ctx, owner)
	if err != nil {
		return domain.StakingPoolState{}, domain.StakingAccount{}, fmt.Errorf("staking: account %s: %w", owner.Hex(), err)
	}
	return state, acc, nil
}

func (p *StakingPool) save(ctx context.Context, state domain.StakingPoolState, acc domain.StakingAccount) error {
	acc.RewardDebt = rewardDebt(acc.Shares, state.AccRewardPerShare)
	acc.UpdatedAt = p.now()
	state.UpdatedAt = acc.UpdatedAt
	if err := p.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("staking: save account: %w", err)
	}
	if err := p.store.SavePoolState(ctx, state); err != nil {
		return fmt.Errorf("staking: save pool state: %w", err)
	}
	return nil
}

// payPending mints any pending reward to the account owner.
func (p *StakingPool) payPending(ctx context.Context, acc *domain.StakingAccount, state domain.StakingPoolState) error {
	pending := pendingReward(*acc, state)
	if pending.Sign() <= 0 {
		return nil
	}
	if err := p.reward.Mint(ctx, acc.Owner, pending); err != nil {
		return fmt.Errorf("staking: pay pending: %w", err)
	}
	return nil
}

func pendingReward(acc domain.StakingAccount, state domain.StakingPoolState) *big.Int {
	earned := rewardDebt(acc.Shares, state.AccRewardPerShare)
	return earned.Sub(earned, acc.RewardDebt)
}

func rewardDebt(shares, accPerShare *big.Int) *big.Int {
	debt := new(big.Int).Mul(shares, accPerShare)
	return debt.Quo(debt, domain.RewardPrecision)
}
