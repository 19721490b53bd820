package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BondStore persists bond positions and their withdrawal requests. The bond
// ledger is the only writer.
type BondStore interface {
	Create(ctx context.Context, pos BondPosition) error
	GetByID(ctx context.Context, id BondID) (BondPosition, error)
	// Delete removes an unsettled position. Used to unwind a deposit whose
	// collateral never reached the strategy.
	Delete(ctx context.Context, id BondID) error
	ListUnsettled(ctx context.Context, opts ListOpts) ([]BondPosition, error)
	// OutstandingLiabilities sums principal+interest over unsettled positions.
	OutstandingLiabilities(ctx context.Context) (*big.Int, error)

	// CreateWithdrawalRequest inserts the request for a bond. It fails with
	// ErrAlreadyRequested when a request already exists for the bond,
	// atomically with the existence check.
	CreateWithdrawalRequest(ctx context.Context, req WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id BondID) (WithdrawalRequest, error)

	// Settle marks the bond settled and records the given treasury flows in
	// one transaction: either all happen or none does, so a failed settle can
	// be retried without double-booking. Fails with ErrAlreadySettled when
	// the bond was settled before.
	Settle(ctx context.Context, id BondID, settledAt time.Time, flows ...TreasuryFlow) error
}

// RateStore persists the duration→bps interest table.
type RateStore interface {
	Set(ctx context.Context, duration time.Duration, rateBps uint16) error
	Delete(ctx context.Context, duration time.Duration) error
	Get(ctx context.Context, duration time.Duration) (uint16, error)
	List(ctx context.Context) (map[time.Duration]uint16, error)
}

// TokenWhitelistStore persists the set of bondable collateral tokens.
type TokenWhitelistStore interface {
	SetAllowed(ctx context.Context, token common.Address, allowed bool) error
	IsAllowed(ctx context.Context, token common.Address) (bool, error)
	List(ctx context.Context) ([]common.Address, error)
}

// StrategyRegistryStore persists strategy approval state. The treasury is the
// only writer.
type StrategyRegistryStore interface {
	SetApproved(ctx context.Context, id StrategyID, approved bool) error
	IsApproved(ctx context.Context, id StrategyID) (bool, error)
	ListApproved(ctx context.Context) ([]StrategyID, error)
}

// TreasuryStore persists treasury flows and the unattributed reserve.
type TreasuryStore interface {
	RecordFlow(ctx context.Context, flow TreasuryFlow) error
	ListFlows(ctx context.Context, opts ListOpts) ([]TreasuryFlow, error)
	// ValueRouted sums deposits minus claims per strategy.
	ValueRouted(ctx context.Context, id StrategyID) (*big.Int, error)
	Reserve(ctx context.Context) (*big.Int, error)
}

// StakingStore persists the staking pool accumulator and per-account shares.
type StakingStore interface {
	PoolState(ctx context.Context) (StakingPoolState, error)
	SavePoolState(ctx context.Context, state StakingPoolState) error
	Account(ctx context.Context, owner common.Address) (StakingAccount, error)
	SaveAccount(ctx context.Context, acc StakingAccount) error
}

// AuditStore persists an append-only audit log of admin and lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
