// Package strategy implements the pluggable yield-backend adapters that the
// bond ledger routes collateral through. Both adapter variants share one
// contract (domain.StrategyAdapter) and one per-position state machine:
// Deposited → RequestPending → Finalized → Claimed, strictly forward.
package strategy

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// positionRecord is one bond's slice of an adapter's holdings.
type positionRecord struct {
	state       domain.PositionState
	token       common.Address
	principal   *big.Int
	handle      string
	requestedAt time.Time
	claimed     *big.Int
}

// positionTable guards per-bond records for an adapter. The ledger already
// serializes calls per bond; the table's own mutex makes the at-most-one
// request guard hold even without that serialization.
type positionTable struct {
	mu   sync.Mutex
	recs map[domain.BondID]*positionRecord
}

func newPositionTable() *positionTable {
	return &positionTable{recs: make(map[domain.BondID]*positionRecord)}
}

// add records a fresh deposit for bondID.
func (t *positionTable) add(bondID domain.BondID, token common.Address, principal *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.recs[bondID]; ok {
		return fmt.Errorf("strategy: bond %d already deposited", bondID)
	}
	t.recs[bondID] = &positionRecord{
		state:     domain.PositionDeposited,
		token:     token,
		principal: new(big.Int).Set(principal),
	}
	return nil
}

// reserveRequest transitions bondID to RequestPending and returns the
// principal to unlock. The transition is reserved before the backend call so
// a concurrent second request observes RequestPending and fails; the caller
// must invoke rollback() if the backend call does not succeed.
func (t *positionTable) reserveRequest(bondID domain.BondID) (principal *big.Int, rollback func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[bondID]
	if !ok {
		return nil, nil, fmt.Errorf("strategy: %w: bond %d", domain.ErrNoSuchBond, bondID)
	}
	if rec.state != domain.PositionDeposited {
		return nil, nil, fmt.Errorf("strategy: %w: bond %d", domain.ErrAlreadyRequested, bondID)
	}
	rec.state = domain.PositionRequestPending
	rollback = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if rec.state == domain.PositionRequestPending && rec.handle == "" {
			rec.state = domain.PositionDeposited
		}
	}
	return new(big.Int).Set(rec.principal), rollback, nil
}

// confirmRequest stores the backend handle once the request has been placed.
func (t *positionTable) confirmRequest(bondID domain.BondID, handle string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.recs[bondID]; ok {
		rec.handle = handle
		rec.requestedAt = at
	}
}

// get returns a copy of the record for bondID.
func (t *positionTable) get(bondID domain.BondID) (positionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[bondID]
	if !ok {
		return positionRecord{}, fmt.Errorf("strategy: %w: bond %d", domain.ErrNoSuchBond, bondID)
	}
	return *rec, nil
}

// markClaimed advances bondID to Claimed and records the released amount so
// a redelivered claim after a crash can be answered idempotently.
func (t *positionTable) markClaimed(bondID domain.BondID, claimed *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[bondID]
	if !ok {
		return
	}
	if stateRank(domain.PositionClaimed) > stateRank(rec.state) {
		rec.state = domain.PositionClaimed
	}
	rec.claimed = new(big.Int).Set(claimed)
}

// advance moves bondID to the given state. Transitions only ever move
// forward; an attempt to move backward is ignored.
func (t *positionTable) advance(bondID domain.BondID, state domain.PositionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[bondID]
	if !ok {
		return
	}
	if stateRank(state) > stateRank(rec.state) {
		rec.state = state
	}
}

func stateRank(s domain.PositionState) int {
	switch s {
	case domain.PositionDeposited:
		return 0
	case domain.PositionRequestPending:
		return 1
	case domain.PositionFinalized:
		return 2
	case domain.PositionClaimed:
		return 3
	default:
		return -1
	}
}
