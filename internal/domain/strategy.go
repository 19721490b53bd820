package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyID names one configured strategy adapter, e.g. "lido_queued" or
// "eigenlayer_delayed".
type StrategyID string

// StrategyKind tags the finalization model of an adapter.
type StrategyKind string

const (
	// StrategyQueuedUnstake finalizes when the external queue processes an
	// oracle report covering the request.
	StrategyQueuedUnstake StrategyKind = "queued_unstake"
	// StrategyDelayedWithdrawal finalizes when a fixed delay has elapsed
	// since the request was placed.
	StrategyDelayedWithdrawal StrategyKind = "delayed_withdrawal"
)

// PositionState is the per-bond state inside a strategy adapter. Transitions
// are strictly forward: Deposited → RequestPending → Finalized → Claimed.
type PositionState string

const (
	PositionDeposited      PositionState = "deposited"
	PositionRequestPending PositionState = "request_pending"
	PositionFinalized      PositionState = "finalized"
	PositionClaimed        PositionState = "claimed"
)

// StrategyAdapter wraps one external yield backend behind a uniform contract.
// The bond ledger is strategy-agnostic and only ever calls this interface;
// adapters never hold a reference back into the ledger; coordination is by
// bond id on every call.
type StrategyAdapter interface {
	// ID returns the adapter's stable identity.
	ID() StrategyID

	// Kind returns the adapter's finalization model.
	Kind() StrategyKind

	// Deposit routes principal of the given collateral token into the
	// external backend on behalf of bondID.
	Deposit(ctx context.Context, bondID BondID, token common.Address, principal *big.Int) error

	// RequestWithdrawal initiates the backend's asynchronous unlock for
	// bondID's full position and returns the backend's opaque request
	// handle. A second call for the same bond fails with ErrAlreadyRequested.
	RequestWithdrawal(ctx context.Context, bondID BondID) (handle string, err error)

	// IsFinalized reports whether the backend has finalized the request
	// identified by handle. It never claims.
	IsFinalized(ctx context.Context, bondID BondID, handle string) (bool, error)

	// FinalizeAndClaim settles the request with the backend and returns the
	// amount of underlying collateral released to the treasury. Fails with
	// ErrNotYetFinalized or ErrDelayNotElapsed (both matching
	// ErrSettlementNotFinalized) while the backend has not released funds.
	FinalizeAndClaim(ctx context.Context, bondID BondID, handle string) (claimed *big.Int, err error)

	// ValueHeld returns the adapter's current holdings denominated in
	// HoldingToken, for treasury solvency reporting.
	ValueHeld(ctx context.Context) (*big.Int, error)

	// HoldingToken is the token ValueHeld is denominated in.
	HoldingToken() common.Address
}

// PriceOracle converts token holdings into a common valuation unit. The feed
// is an external collaborator; staleness policy belongs to the consumer.
type PriceOracle interface {
	Price(ctx context.Context, token common.Address) (value *big.Int, updatedAt time.Time, err error)
}
