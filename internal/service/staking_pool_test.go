package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

type stakingFixture struct {
	pool        *StakingPool
	store       *memStakingStore
	token       *memRewardToken
	distributor common.Address
	alice       common.Address
	bob         common.Address
	account     common.Address
}

func newStakingFixture(t *testing.T) *stakingFixture {
	t.Helper()
	f := &stakingFixture{
		store:       newMemStakingStore(),
		token:       newMemRewardToken(),
		distributor: common.HexToAddress("0xD100000000000000000000000000000000000001"),
		alice:       common.HexToAddress("0xA100000000000000000000000000000000000002"),
		bob:         common.HexToAddress("0xB100000000000000000000000000000000000003"),
		account:     common.HexToAddress("0xF100000000000000000000000000000000000004"),
	}
	roles := domain.NewRoleSet()
	roles.Grant(f.distributor, domain.RoleDistributor)
	f.pool = NewStakingPool(f.store, f.token, roles, f.account, nil, testLogger())

	ctx := context.Background()
	require.NoError(t, f.token.Mint(ctx, f.alice, big.NewInt(1000)))
	require.NoError(t, f.token.Mint(ctx, f.bob, big.NewInt(1000)))
	return f
}

func (f *stakingFixture) balance(t *testing.T, of common.Address) string {
	t.Helper()
	bal, err := f.token.BalanceOf(context.Background(), of)
	require.NoError(t, err)
	return bal.String()
}

func TestStakeMovesTokensIntoPool(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(400)))
	assert.Equal(t, "600", f.balance(t, f.alice))
	assert.Equal(t, "400", f.balance(t, f.account))

	state, err := f.store.PoolState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "400", state.TotalShares.String())
}

func TestStakeValidation(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.pool.Stake(ctx, f.alice, big.NewInt(0)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.pool.Stake(ctx, f.alice, nil), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.pool.Withdraw(ctx, f.alice, big.NewInt(0)), domain.ErrInvalidAmount)

	// Withdrawing more than staked is rejected.
	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(100)))
	assert.ErrorIs(t, f.pool.Withdraw(ctx, f.alice, big.NewInt(101)), domain.ErrInvalidAmount)
}

func TestAddRewardRequiresDistributor(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(100)))
	err := f.pool.AddReward(ctx, f.alice, big.NewInt(50))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestAddRewardWithNoStakers(t *testing.T) {
	f := newStakingFixture(t)
	err := f.pool.AddReward(context.Background(), f.distributor, big.NewInt(50))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPendingRewardProRata(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(100)))
	require.NoError(t, f.pool.Stake(ctx, f.bob, big.NewInt(300)))
	require.NoError(t, f.pool.AddReward(ctx, f.distributor, big.NewInt(400)))

	pending, err := f.pool.PendingReward(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "100", pending.String())

	pending, err = f.pool.PendingReward(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "300", pending.String())
}

func TestHarvestPaysPendingOnce(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(100)))
	require.NoError(t, f.pool.AddReward(ctx, f.distributor, big.NewInt(40)))

	paid, err := f.pool.Harvest(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "40", paid.String())
	assert.Equal(t, "940", f.balance(t, f.alice)) // 1000 - 100 staked + 40 reward

	// Nothing further to harvest until more rewards come in.
	paid, err = f.pool.Harvest(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "0", paid.String())

	pending, err := f.pool.PendingReward(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "0", pending.String())
}

func TestRewardOnlyForSharesHeldAtDistribution(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(100)))
	require.NoError(t, f.pool.AddReward(ctx, f.distributor, big.NewInt(100)))

	// Bob stakes after the distribution; the earlier reward is Alice's alone.
	require.NoError(t, f.pool.Stake(ctx, f.bob, big.NewInt(100)))

	pending, err := f.pool.PendingReward(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "0", pending.String())

	pending, err = f.pool.PendingReward(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "100", pending.String())

	// The next distribution splits evenly.
	require.NoError(t, f.pool.AddReward(ctx, f.distributor, big.NewInt(100)))
	pending, err = f.pool.PendingReward(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "50", pending.String())
}

func TestWithdrawSettlesPendingFirst(t *testing.T) {
	f := newStakingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.Stake(ctx, f.alice, big.NewInt(200)))
	require.NoError(t, f.pool.AddReward(ctx, f.distributor, big.NewInt(20)))

	require.NoError(t, f.pool.Withdraw(ctx, f.alice, big.NewInt(200)))
	// 1000 - 200 staked + 200 returned + 20 pending reward.
	assert.Equal(t, "1020", f.balance(t, f.alice))

	state, err := f.store.PoolState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", state.TotalShares.String())
}
