package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RewardPrecision scales accRewardPerShare to keep integer division losses
// negligible.
var RewardPrecision = big.NewInt(1_000_000_000_000) // 1e12

// StakingAccount is one staker's slice of the reward pool. The pending-reward
// invariant is shares*accRewardPerShare/precision − rewardDebt, recomputed on
// every stake/withdraw/harvest boundary.
type StakingAccount struct {
	Owner      common.Address
	Shares     *big.Int
	RewardDebt *big.Int
	UpdatedAt  time.Time
}

// StakingPoolState is the pool-wide accumulator state.
type StakingPoolState struct {
	TotalShares       *big.Int
	AccRewardPerShare *big.Int
	UpdatedAt         time.Time
}
