package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// defaultBondLockTTL bounds how long a distributed per-bond lock may be held
// while an adapter call is in flight with the external backend.
const defaultBondLockTTL = 30 * time.Second

// BondManager is the public entry point of the protocol. It owns the bond
// ledger (positions and withdrawal requests), enforces maturity and ownership
// rules, and drives the two-phase withdrawal against the treasury's strategy
// adapters.
type BondManager struct {
	bonds    domain.BondStore
	rates    domain.RateStore
	tokens   domain.TokenWhitelistStore
	claims   domain.ClaimRegistry
	treasury *Treasury
	auth     domain.Authorizer
	locks    domain.LockManager
	bus      domain.EventBus
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
	lockTTL  time.Duration

	bondMu sync.Map // domain.BondID -> *sync.Mutex
}

// NewBondManager creates a BondManager. locks, bus and audit may be nil; when
// locks is set every per-bond mutation additionally takes a distributed lock
// so the guard holds across replicas.
func NewBondManager(
	bonds domain.BondStore,
	rates domain.RateStore,
	tokens domain.TokenWhitelistStore,
	claims domain.ClaimRegistry,
	treasury *Treasury,
	auth domain.Authorizer,
	locks domain.LockManager,
	bus domain.EventBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BondManager {
	return &BondManager{
		bonds:    bonds,
		rates:    rates,
		tokens:   tokens,
		claims:   claims,
		treasury: treasury,
		auth:     auth,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		logger:   logger.With(slog.String("component", "bond_manager")),
		now:      time.Now,
		lockTTL:  defaultBondLockTTL,
	}
}

// WithLockTTL overrides the distributed lock TTL.
func (m *BondManager) WithLockTTL(ttl time.Duration) *BondManager {
	if ttl > 0 {
		m.lockTTL = ttl
	}
	return m
}

// Deposit locks principal of collateralToken for maturityDuration, routes it
// through the chosen strategy and mints the ownership claim to beneficiary
// (or to caller when beneficiary is the zero address). The interest rate is
// captured from the table now and never changes for this bond.
func (m *BondManager) Deposit(
	ctx context.Context,
	caller common.Address,
	beneficiary common.Address,
	collateralToken common.Address,
	strategyID domain.StrategyID,
	principal *big.Int,
	maturityDuration time.Duration,
) (domain.BondPosition, error) {
	if principal == nil || principal.Sign() <= 0 {
		return domain.BondPosition{}, fmt.Errorf("bond: deposit: %w", domain.ErrInvalidAmount)
	}
	if beneficiary == (common.Address{}) {
		beneficiary = caller
	}

	rateBps, err := m.rates.Get(ctx, maturityDuration)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BondPosition{}, fmt.Errorf("bond: deposit %s: %w", maturityDuration, domain.ErrMaturityNotSupported)
		}
		return domain.BondPosition{}, fmt.Errorf("bond: rate lookup: %w", err)
	}

	allowed, err := m.tokens.IsAllowed(ctx, collateralToken)
	if err != nil {
		return domain.BondPosition{}, fmt.Errorf("bond: whitelist lookup: %w", err)
	}
	if !allowed {
		return domain.BondPosition{}, fmt.Errorf("bond: deposit %s: %w", collateralToken.Hex(), domain.ErrTokenNotAllowed)
	}

	// Validate the strategy before minting so a rejected deposit never
	// leaves a dangling claim.
	approved, err := m.treasury.IsApproved(ctx, strategyID)
	if err != nil {
		return domain.BondPosition{}, fmt.Errorf("bond: approval lookup: %w", err)
	}
	if !approved {
		return domain.BondPosition{}, fmt.Errorf("bond: strategy %q: %w", strategyID, domain.ErrStrategyNotApproved)
	}

	bondID, err := m.claims.Mint(ctx, beneficiary)
	if err != nil {
		return domain.BondPosition{}, fmt.Errorf("bond: mint claim: %w", err)
	}

	// Persist the position before any collateral moves: routing is the last
	// fallible step, so a failure on either side can be unwound without
	// stranding funds in the strategy.
	depositedAt := m.now()
	pos := domain.BondPosition{
		ID:               bondID,
		Principal:        new(big.Int).Set(principal),
		CollateralToken:  collateralToken,
		Strategy:         strategyID,
		MaturityDuration: maturityDuration,
		InterestRateBps:  rateBps,
		InterestAmount:   domain.InterestAmount(principal, rateBps),
		DepositedAt:      depositedAt,
		MaturesAt:        depositedAt.Add(maturityDuration),
	}
	if err := m.bonds.Create(ctx, pos); err != nil {
		m.burnClaim(ctx, bondID)
		return domain.BondPosition{}, fmt.Errorf("bond: create position: %w", err)
	}

	if err := m.treasury.RouteDeposit(ctx, bondID, strategyID, collateralToken, principal); err != nil {
		m.unwindDeposit(ctx, bondID)
		return domain.BondPosition{}, err
	}

	m.logger.InfoContext(ctx, "bond created",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("owner", beneficiary.Hex()),
		slog.String("strategy", string(strategyID)),
		slog.String("principal", principal.String()),
		slog.String("interest", pos.InterestAmount.String()),
		slog.Duration("maturity", maturityDuration),
	)
	m.publish(ctx, domain.EventBondCreated, map[string]any{
		"bond_id":    bondID,
		"owner":      beneficiary.Hex(),
		"strategy":   strategyID,
		"principal":  principal.String(),
		"interest":   pos.InterestAmount.String(),
		"matures_at": pos.MaturesAt,
	})
	return pos, nil
}

// WithdrawRequest initiates the asynchronous unlock for a matured bond. At
// most one request may ever exist per bond.
func (m *BondManager) WithdrawRequest(ctx context.Context, caller common.Address, bondID domain.BondID) (domain.WithdrawalRequest, error) {
	unlock, err := m.lockBond(ctx, bondID)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	defer unlock()

	pos, err := m.loadOwned(ctx, caller, bondID)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if pos.Settled {
		return domain.WithdrawalRequest{}, fmt.Errorf("bond %d: %w", bondID, domain.ErrAlreadySettled)
	}
	if !pos.Matured(m.now()) {
		return domain.WithdrawalRequest{}, fmt.Errorf("bond %d matures at %s: %w", bondID, pos.MaturesAt, domain.ErrBondNotMatured)
	}
	if _, err := m.bonds.GetWithdrawalRequest(ctx, bondID); err == nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("bond %d: %w", bondID, domain.ErrAlreadyRequested)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.WithdrawalRequest{}, fmt.Errorf("bond: request lookup: %w", err)
	}

	adapter, err := m.treasury.AdapterFor(ctx, pos.Strategy)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	handle, err := adapter.RequestWithdrawal(ctx, bondID)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	req := domain.WithdrawalRequest{
		BondID:            bondID,
		Strategy:          pos.Strategy,
		ExternalRequestID: handle,
		RequestedAt:       m.now(),
	}
	if err := m.bonds.CreateWithdrawalRequest(ctx, req); err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("bond: persist request: %w", err)
	}

	m.logger.InfoContext(ctx, "withdrawal requested",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("strategy", string(pos.Strategy)),
		slog.String("handle", handle),
	)
	m.publish(ctx, domain.EventWithdrawalRequested, map[string]any{
		"bond_id":  bondID,
		"strategy": pos.Strategy,
		"handle":   handle,
	})
	return req, nil
}

// Withdraw settles a bond whose withdrawal request the backend has finalized:
// it claims the collateral from the strategy, records the inflow and, in one
// transaction, records the principal+interest payout to caller and marks the
// bond settled.
func (m *BondManager) Withdraw(ctx context.Context, caller common.Address, bondID domain.BondID) (*big.Int, error) {
	unlock, err := m.lockBond(ctx, bondID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pos, err := m.loadOwned(ctx, caller, bondID)
	if err != nil {
		return nil, err
	}
	if pos.Settled {
		return nil, fmt.Errorf("bond %d: %w", bondID, domain.ErrAlreadySettled)
	}

	req, err := m.bonds.GetWithdrawalRequest(ctx, bondID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("bond %d has no withdrawal request: %w", bondID, domain.ErrSettlementNotFinalized)
		}
		return nil, fmt.Errorf("bond: request lookup: %w", err)
	}

	adapter, err := m.treasury.AdapterFor(ctx, pos.Strategy)
	if err != nil {
		return nil, err
	}
	claimed, err := adapter.FinalizeAndClaim(ctx, bondID, req.ExternalRequestID)
	if err != nil {
		return nil, err
	}
	payout := pos.Payout()
	settledAt := m.now()
	claimFlow := m.treasury.ClaimFlow(bondID, pos.Strategy, pos.CollateralToken, claimed)
	payoutFlow := m.treasury.PayoutFlow(bondID, pos.Strategy, pos.CollateralToken, payout, caller)
	if err := m.bonds.Settle(ctx, bondID, settledAt, claimFlow, payoutFlow); err != nil {
		return nil, fmt.Errorf("bond: settle: %w", err)
	}

	m.logger.InfoContext(ctx, "bond settled",
		slog.Uint64("bond_id", uint64(bondID)),
		slog.String("owner", caller.Hex()),
		slog.String("payout", payout.String()),
		slog.String("claimed", claimed.String()),
	)
	m.publish(ctx, domain.EventBondSettled, map[string]any{
		"bond_id": bondID,
		"owner":   caller.Hex(),
		"payout":  payout.String(),
	})
	return payout, nil
}

// SetInterestRates replaces rate entries for the given maturities. Admin
// only; both slices must have equal length and a rate of zero deletes the
// entry, making the maturity unsupported.
func (m *BondManager) SetInterestRates(ctx context.Context, caller common.Address, durations []time.Duration, ratesBps []uint16) error {
	if !m.auth.HasRole(caller, domain.RoleAdmin) {
		return fmt.Errorf("bond: set interest rates: %w", domain.ErrNotAdmin)
	}
	if len(durations) != len(ratesBps) {
		return fmt.Errorf("bond: set interest rates: %d durations vs %d rates: %w",
			len(durations), len(ratesBps), domain.ErrInvalidArrayLength)
	}
	for i, d := range durations {
		if ratesBps[i] == 0 {
			if err := m.rates.Delete(ctx, d); err != nil {
				return fmt.Errorf("bond: delete rate %s: %w", d, err)
			}
			continue
		}
		if err := m.rates.Set(ctx, d, ratesBps[i]); err != nil {
			return fmt.Errorf("bond: set rate %s: %w", d, err)
		}
	}

	m.logger.InfoContext(ctx, "interest rates updated", slog.Int("entries", len(durations)))
	m.logAudit(ctx, domain.EventRatesUpdated, map[string]any{
		"durations": durations,
		"rates_bps": ratesBps,
	})
	m.publish(ctx, domain.EventRatesUpdated, map[string]any{"entries": len(durations)})
	return nil
}

// SetBondableTokens toggles the collateral whitelist for the given tokens.
// Admin only.
func (m *BondManager) SetBondableTokens(ctx context.Context, caller common.Address, tokens []common.Address, allowed bool) error {
	if !m.auth.HasRole(caller, domain.RoleAdmin) {
		return fmt.Errorf("bond: set bondable tokens: %w", domain.ErrNotAdmin)
	}
	for _, tok := range tokens {
		if tok == (common.Address{}) {
			return fmt.Errorf("bond: set bondable tokens: %w", domain.ErrZeroAddress)
		}
	}
	for _, tok := range tokens {
		if err := m.tokens.SetAllowed(ctx, tok, allowed); err != nil {
			return fmt.Errorf("bond: set token %s: %w", tok.Hex(), err)
		}
	}

	m.logAudit(ctx, domain.EventTokensUpdated, map[string]any{
		"tokens":  tokens,
		"allowed": allowed,
	})
	m.publish(ctx, domain.EventTokensUpdated, map[string]any{"count": len(tokens), "allowed": allowed})
	return nil
}

// Bond returns the position for bondID.
func (m *BondManager) Bond(ctx context.Context, bondID domain.BondID) (domain.BondPosition, error) {
	pos, err := m.bonds.GetByID(ctx, bondID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BondPosition{}, fmt.Errorf("bond %d: %w", bondID, domain.ErrNoSuchBond)
		}
		return domain.BondPosition{}, err
	}
	return pos, nil
}

// BondRequest returns the withdrawal request for bondID, if any.
func (m *BondManager) BondRequest(ctx context.Context, bondID domain.BondID) (domain.WithdrawalRequest, error) {
	return m.bonds.GetWithdrawalRequest(ctx, bondID)
}

// InterestRate returns the current table rate for a maturity. Fails with
// ErrMaturityNotSupported when no entry exists.
func (m *BondManager) InterestRate(ctx context.Context, duration time.Duration) (uint16, error) {
	rate, err := m.rates.Get(ctx, duration)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("maturity %s: %w", duration, domain.ErrMaturityNotSupported)
		}
		return 0, err
	}
	return rate, nil
}

// InterestRates returns the whole duration→bps table.
func (m *BondManager) InterestRates(ctx context.Context) (map[time.Duration]uint16, error) {
	return m.rates.List(ctx)
}

// Unsettled lists unsettled positions.
func (m *BondManager) Unsettled(ctx context.Context, opts domain.ListOpts) ([]domain.BondPosition, error) {
	return m.bonds.ListUnsettled(ctx, opts)
}

// OutstandingLiabilities sums principal+interest across unsettled positions.
func (m *BondManager) OutstandingLiabilities(ctx context.Context) (*big.Int, error) {
	return m.bonds.OutstandingLiabilities(ctx)
}

// unwindDeposit removes the position and claim of a deposit whose collateral
// never reached the strategy.
func (m *BondManager) unwindDeposit(ctx context.Context, bondID domain.BondID) {
	if err := m.bonds.Delete(ctx, bondID); err != nil {
		m.logger.ErrorContext(ctx, "deposit unwind: delete position failed",
			slog.Uint64("bond_id", uint64(bondID)),
			slog.String("error", err.Error()),
		)
	}
	m.burnClaim(ctx, bondID)
}

func (m *BondManager) burnClaim(ctx context.Context, bondID domain.BondID) {
	if err := m.claims.Burn(ctx, bondID); err != nil {
		m.logger.ErrorContext(ctx, "deposit unwind: burn claim failed",
			slog.Uint64("bond_id", uint64(bondID)),
			slog.String("error", err.Error()),
		)
	}
}

// loadOwned loads bondID and verifies that caller currently holds the
// ownership claim.
func (m *BondManager) loadOwned(ctx context.Context, caller common.Address, bondID domain.BondID) (domain.BondPosition, error) {
	pos, err := m.bonds.GetByID(ctx, bondID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BondPosition{}, fmt.Errorf("bond %d: %w", bondID, domain.ErrNoSuchBond)
		}
		return domain.BondPosition{}, fmt.Errorf("bond: load %d: %w", bondID, err)
	}
	owner, err := m.claims.OwnerOf(ctx, bondID)
	if err != nil {
		return domain.BondPosition{}, fmt.Errorf("bond: owner of %d: %w", bondID, err)
	}
	if owner != caller {
		return domain.BondPosition{}, fmt.Errorf("bond %d owned by %s: %w", bondID, owner.Hex(), domain.ErrNotBondOwner)
	}
	return pos, nil
}

// lockBond serializes state-changing calls per bond: an in-process mutex
// always, plus the distributed lock when one is configured.
func (m *BondManager) lockBond(ctx context.Context, bondID domain.BondID) (func(), error) {
	muAny, _ := m.bondMu.LoadOrStore(bondID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()

	if m.locks == nil {
		return mu.Unlock, nil
	}
	release, err := m.locks.Acquire(ctx, fmt.Sprintf("bond:%d", bondID), m.lockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("bond %d: %w", bondID, err)
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

func (m *BondManager) logAudit(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *BondManager) publish(ctx context.Context, channel string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = m.bus.Publish(ctx, channel, data)
	_ = m.bus.StreamAppend(ctx, "stream:"+channel, data)
}
