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

// UnstakeStatus is the backend's view of one queued unstake request.
type UnstakeStatus struct {
	Finalized bool
	Claimed   bool
	Amount    *big.Int
}

// UnstakeBackend is the surface of a liquid-staking protocol with an
// oracle-report-driven withdrawal queue (Lido-style). Stake converts native
// currency into the receipt token; RequestUnstake queues receipt tokens for
// redemption and the queue finalizes requests only when a published report
// covers them.
type UnstakeBackend interface {
	ReceiptToken() common.Address
	Stake(ctx context.Context, amount *big.Int) (received *big.Int, err error)
	ReceiptBalance(ctx context.Context) (*big.Int, error)
	RequestUnstake(ctx context.Context, amount *big.Int) (handle string, err error)
	UnstakeStatus(ctx context.Context, handle string) (UnstakeStatus, error)
	ClaimUnstake(ctx context.Context, handle string) (claimed *big.Int, err error)
}

// QueuedUnstakeAdapter drives an UnstakeBackend. Finalization depends on the
// external queue's reports, never on elapsed time.
type QueuedUnstakeAdapter struct {
	id        domain.StrategyID
	backend   UnstakeBackend
	positions *positionTable
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueuedUnstakeAdapter creates an adapter with the given identity over the
// given backend.
func NewQueuedUnstakeAdapter(id domain.StrategyID, backend UnstakeBackend, logger *slog.Logger) *QueuedUnstakeAdapter {
	return &QueuedUnstakeAdapter{
		id:        id,
		backend:   backend,
		positions: newPositionTable(),
		logger:    logger.With(slog.String("component", "strategy"), slog.String("strategy", string(id))),
		now:       time.Now,
	}
}

// ID implements domain.StrategyAdapter.
func (a *QueuedUnstakeAdapter) ID() domain.StrategyID { return a.id }

// Kind implements domain.StrategyAdapter.
func (a *QueuedUnstakeAdapter) Kind() domain.StrategyKind { return domain.StrategyQueuedUnstake }

// Deposit stakes native collateral for the receipt token, or books the
// receipt token directly when the bond was funded with it.
func (a *QueuedUnstakeAdapter) Deposit(ctx context.Context, bondID domain.BondID, token common.Address, principal *big.Int) error {
	switch {
	case domain.IsNativeToken(token):
		received, err := a.backend.Stake(ctx, principal)
		if err != nil {
			return fmt.Errorf("strategy %s: stake: %w", a.id, err)
		}
		if received == nil || received.Sign() <= 0 {
			return fmt.Errorf("strategy %s: stake returned no receipt tokens: %w", a.id, domain.ErrBackendInconsistency)
		}
		if err := a.positions.add(bondID, token, received); err != nil {
			return err
		}
	case token == a.backend.ReceiptToken():
		if err := a.positions.add(bondID, token, principal); err != nil {
			return err
		}
	default:
		return fmt.Errorf("strategy %s: %w: %s", a.id, domain.ErrTokenNotAllowed, token.Hex())
	}

	a.logger.InfoContext(ctx, "collateral deposited",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("token", token.Hex()),
		slog.String("principal", principal.String()),
	)
	return nil
}

// RequestWithdrawal queues the bond's receipt tokens for redemption with the
// external queue and returns the queue's request handle.
func (a *QueuedUnstakeAdapter) RequestWithdrawal(ctx context.Context, bondID domain.BondID) (string, error) {
	amount, rollback, err := a.positions.reserveRequest(bondID)
	if err != nil {
		return "", err
	}

	handle, err := a.backend.RequestUnstake(ctx, amount)
	if err != nil {
		rollback()
		return "", fmt.Errorf("strategy %s: request unstake: %w", a.id, err)
	}
	a.positions.confirmRequest(bondID, handle, a.now())

	a.logger.InfoContext(ctx, "withdrawal requested",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("handle", handle),
	)
	return handle, nil
}

// IsFinalized reports whether the queue has processed a report covering the
// request.
func (a *QueuedUnstakeAdapter) IsFinalized(ctx context.Context, bondID domain.BondID, handle string) (bool, error) {
	rec, err := a.positions.get(bondID)
	if err != nil {
		return false, err
	}
	status, err := a.backend.UnstakeStatus(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("strategy %s: unstake status: %w", a.id, err)
	}
	if status.Claimed && rec.state != domain.PositionClaimed {
		return false, fmt.Errorf("strategy %s: queue reports handle %s claimed but position is %s: %w",
			a.id, handle, rec.state, domain.ErrBackendInconsistency)
	}
	if status.Finalized {
		a.positions.advance(bondID, domain.PositionFinalized)
	}
	return status.Finalized, nil
}

// FinalizeAndClaim settles the request with the queue and returns the amount
// of native currency released.
func (a *QueuedUnstakeAdapter) FinalizeAndClaim(ctx context.Context, bondID domain.BondID, handle string) (*big.Int, error) {
	rec, err := a.positions.get(bondID)
	if err != nil {
		return nil, err
	}
	if rec.state == domain.PositionClaimed {
		// The claim already went through on a previous attempt that failed
		// before the ledger settled; answer it idempotently.
		if rec.claimed != nil {
			return new(big.Int).Set(rec.claimed), nil
		}
		return nil, fmt.Errorf("strategy %s: %w: bond %d", a.id, domain.ErrAlreadySettled, bondID)
	}

	status, err := a.backend.UnstakeStatus(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: unstake status: %w", a.id, err)
	}
	if status.Claimed {
		return nil, fmt.Errorf("strategy %s: handle %s already claimed externally: %w",
			a.id, handle, domain.ErrBackendInconsistency)
	}
	if !status.Finalized {
		return nil, fmt.Errorf("strategy %s: handle %s: %w", a.id, handle, domain.ErrNotYetFinalized)
	}
	a.positions.advance(bondID, domain.PositionFinalized)

	claimed, err := a.backend.ClaimUnstake(ctx, handle)
	if err != nil {
		// Position stays Finalized; the claim can be retried.
		return nil, fmt.Errorf("strategy %s: claim unstake: %w", a.id, err)
	}
	if claimed == nil || claimed.Sign() <= 0 {
		return nil, fmt.Errorf("strategy %s: finalized claim released nothing: %w", a.id, domain.ErrBackendInconsistency)
	}
	a.positions.markClaimed(bondID, claimed)

	a.logger.InfoContext(ctx, "withdrawal claimed",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("handle", handle),
		slog.String("claimed", claimed.String()),
	)
	return claimed, nil
}

// ValueHeld returns the adapter's receipt-token balance.
func (a *QueuedUnstakeAdapter) ValueHeld(ctx context.Context) (*big.Int, error) {
	bal, err := a.backend.ReceiptBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: receipt balance: %w", a.id, err)
	}
	return bal, nil
}

// HoldingToken returns the backend's receipt token.
func (a *QueuedUnstakeAdapter) HoldingToken() common.Address {
	return a.backend.ReceiptToken()
}

var _ domain.StrategyAdapter = (*QueuedUnstakeAdapter)(nil)
