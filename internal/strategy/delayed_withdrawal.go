package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// RestakeBackend is the surface of a restaking protocol whose withdrawals are
// gated purely by a fixed elapsed delay (EigenLayer-style): queue the
// withdrawal, wait out the delay, complete it. No external report exists.
type RestakeBackend interface {
	Token() common.Address
	Deposit(ctx context.Context, token common.Address, amount *big.Int) error
	Shares(ctx context.Context) (*big.Int, error)
	QueueWithdrawal(ctx context.Context, amount *big.Int) (handle string, err error)
	CompleteWithdrawal(ctx context.Context, handle string) (released *big.Int, err error)
	WithdrawalDelay(ctx context.Context) (time.Duration, error)
}

// DelayedWithdrawalAdapter drives a RestakeBackend. The finalization
// predicate is now >= requestedAt + delay; the adapter checks it locally and
// never asks the backend to complete early.
type DelayedWithdrawalAdapter struct {
	id        domain.StrategyID
	backend   RestakeBackend
	positions *positionTable
	logger    *slog.Logger
	now       func() time.Time
}

// NewDelayedWithdrawalAdapter creates an adapter with the given identity over
// the given backend.
func NewDelayedWithdrawalAdapter(id domain.StrategyID, backend RestakeBackend, logger *slog.Logger) *DelayedWithdrawalAdapter {
	return &DelayedWithdrawalAdapter{
		id:        id,
		backend:   backend,
		positions: newPositionTable(),
		logger:    logger.With(slog.String("component", "strategy"), slog.String("strategy", string(id))),
		now:       time.Now,
	}
}

// ID implements domain.StrategyAdapter.
func (a *DelayedWithdrawalAdapter) ID() domain.StrategyID { return a.id }

// Kind implements domain.StrategyAdapter.
func (a *DelayedWithdrawalAdapter) Kind() domain.StrategyKind {
	return domain.StrategyDelayedWithdrawal
}

// Deposit routes collateral into the restaking protocol under the adapter's
// account.
func (a *DelayedWithdrawalAdapter) Deposit(ctx context.Context, bondID domain.BondID, token common.Address, principal *big.Int) error {
	if err := a.backend.Deposit(ctx, token, principal); err != nil {
		return fmt.Errorf("strategy %s: deposit: %w", a.id, err)
	}
	if err := a.positions.add(bondID, token, principal); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "collateral deposited",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("token", token.Hex()),
		slog.String("principal", principal.String()),
	)
	return nil
}

// RequestWithdrawal queues the protocol's delayed withdrawal and records the
// initiation time the delay is measured from.
func (a *DelayedWithdrawalAdapter) RequestWithdrawal(ctx context.Context, bondID domain.BondID) (string, error) {
	amount, rollback, err := a.positions.reserveRequest(bondID)
	if err != nil {
		return "", err
	}

	handle, err := a.backend.QueueWithdrawal(ctx, amount)
	if err != nil {
		rollback()
		return "", fmt.Errorf("strategy %s: queue withdrawal: %w", a.id, err)
	}
	a.positions.confirmRequest(bondID, handle, a.now())

	a.logger.InfoContext(ctx, "withdrawal queued",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("handle", handle),
	)
	return handle, nil
}

// IsFinalized reports whether the fixed delay has elapsed since the request
// was queued.
func (a *DelayedWithdrawalAdapter) IsFinalized(ctx context.Context, bondID domain.BondID, handle string) (bool, error) {
	rec, err := a.positions.get(bondID)
	if err != nil {
		return false, err
	}
	if rec.handle != handle {
		return false, fmt.Errorf("strategy %s: unknown handle %s for bond %d: %w",
			a.id, handle, bondID, domain.ErrBackendInconsistency)
	}
	if rec.state == domain.PositionDeposited {
		return false, nil
	}
	delay, err := a.backend.WithdrawalDelay(ctx)
	if err != nil {
		return false, fmt.Errorf("strategy %s: withdrawal delay: %w", a.id, err)
	}
	done := !a.now().Before(rec.requestedAt.Add(delay))
	if done {
		a.positions.advance(bondID, domain.PositionFinalized)
	}
	return done, nil
}

// FinalizeAndClaim completes the queued withdrawal once the delay window has
// passed and returns the released collateral.
func (a *DelayedWithdrawalAdapter) FinalizeAndClaim(ctx context.Context, bondID domain.BondID, handle string) (*big.Int, error) {
	rec, err := a.positions.get(bondID)
	if err != nil {
		return nil, err
	}
	if rec.state == domain.PositionClaimed {
		// Redelivered claim after a crash before the ledger settled.
		if rec.claimed != nil {
			return new(big.Int).Set(rec.claimed), nil
		}
		return nil, fmt.Errorf("strategy %s: %w: bond %d", a.id, domain.ErrAlreadySettled, bondID)
	}
	if rec.handle != handle {
		return nil, fmt.Errorf("strategy %s: unknown handle %s for bond %d: %w",
			a.id, handle, bondID, domain.ErrBackendInconsistency)
	}

	delay, err := a.backend.WithdrawalDelay(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: withdrawal delay: %w", a.id, err)
	}
	if a.now().Before(rec.requestedAt.Add(delay)) {
		return nil, fmt.Errorf("strategy %s: handle %s: %w", a.id, handle, domain.ErrDelayNotElapsed)
	}
	a.positions.advance(bondID, domain.PositionFinalized)

	released, err := a.backend.CompleteWithdrawal(ctx, handle)
	if err != nil {
		// Position stays Finalized; completion can be retried.
		return nil, fmt.Errorf("strategy %s: complete withdrawal: %w", a.id, err)
	}
	if released == nil || released.Sign() <= 0 {
		return nil, fmt.Errorf("strategy %s: completed withdrawal released nothing: %w",
			a.id, domain.ErrBackendInconsistency)
	}
	a.positions.markClaimed(bondID, released)

	a.logger.InfoContext(ctx, "withdrawal completed",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("handle", handle),
		slog.String("released", released.String()),
	)
	return released, nil
}

// ValueHeld returns the adapter's share balance in the restaking protocol.
func (a *DelayedWithdrawalAdapter) ValueHeld(ctx context.Context) (*big.Int, error) {
	shares, err := a.backend.Shares(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: shares: %w", a.id, err)
	}
	return shares, nil
}

// HoldingToken returns the token the backend holds shares in.
func (a *DelayedWithdrawalAdapter) HoldingToken() common.Address {
	return a.backend.Token()
}

var _ domain.StrategyAdapter = (*DelayedWithdrawalAdapter)(nil)
