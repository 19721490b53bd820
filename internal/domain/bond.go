package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BondID identifies a bond position. IDs are assigned monotonically by the
// claim registry and are stable for the life of the claim.
type BondID uint64

// BpsDenominator is the basis-point scale: 10_000 bps = 100%.
const BpsDenominator = 10_000

// BondPosition is a single fixed-term, fixed-rate deposit claim. Every field
// except Settled/SettledAt is immutable after creation; the rate is captured
// from the interest table at deposit time so later table changes never affect
// an issued bond.
type BondPosition struct {
	ID               BondID
	Principal        *big.Int
	CollateralToken  common.Address
	Strategy         StrategyID
	MaturityDuration time.Duration
	InterestRateBps  uint16
	InterestAmount   *big.Int
	DepositedAt      time.Time
	MaturesAt        time.Time
	Settled          bool
	SettledAt        *time.Time
}

// Matured reports whether the position is eligible for a withdrawal request
// at the given instant.
func (p BondPosition) Matured(at time.Time) bool {
	return !at.Before(p.MaturesAt)
}

// Payout is the total owed to the holder at settlement.
func (p BondPosition) Payout() *big.Int {
	return new(big.Int).Add(p.Principal, p.InterestAmount)
}

// InterestAmount computes principal * rateBps / 10_000, truncating toward
// zero. Computed exactly once, at deposit time.
func InterestAmount(principal *big.Int, rateBps uint16) *big.Int {
	out := new(big.Int).Mul(principal, big.NewInt(int64(rateBps)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// WithdrawalRequest records the single in-flight unlock for a bond position.
// At most one request may ever exist per bond; finalization status is not
// stored here but derived by querying the backend through the adapter.
type WithdrawalRequest struct {
	BondID            BondID
	Strategy          StrategyID
	ExternalRequestID string
	RequestedAt       time.Time
}
