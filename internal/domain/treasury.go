package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FlowDirection classifies a treasury flow.
type FlowDirection string

const (
	// FlowDeposit is collateral routed into a strategy for a bond.
	FlowDeposit FlowDirection = "deposit"
	// FlowClaim is collateral released back from a strategy at settlement.
	FlowClaim FlowDirection = "claim"
	// FlowPayout is principal+interest paid to a bond holder.
	FlowPayout FlowDirection = "payout"
	// FlowReserve is an unsolicited native transfer held as treasury reserve,
	// attributed to no bond.
	FlowReserve FlowDirection = "reserve"
)

// TreasuryFlow is one movement of value through the treasury.
type TreasuryFlow struct {
	ID        int64
	Direction FlowDirection
	Strategy  StrategyID
	BondID    *BondID
	Token     common.Address
	Amount    *big.Int
	Account   common.Address
	CreatedAt time.Time
}

// StrategyHolding is one adapter's valuation line in a solvency report.
type StrategyHolding struct {
	Strategy  StrategyID
	Kind      StrategyKind
	ValueHeld *big.Int
	Token     common.Address
	Price     *big.Int
	PricedAt  time.Time
	Valuation *big.Int
}

// SolvencyReport compares the valuation of everything the strategies hold
// against the protocol's outstanding liabilities (unsettled principal plus
// locked-in interest).
type SolvencyReport struct {
	GeneratedAt    time.Time
	Holdings       []StrategyHolding
	TotalValuation *big.Int
	Liabilities    *big.Int
	Reserve        *big.Int
	Solvent        bool
}
