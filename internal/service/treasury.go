// Package service contains the application services of the bond protocol:
// the bond manager facade over the ledger, the treasury, the staking pool and
// the solvency monitor.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/strategy"
)

// Treasury owns the strategy registry and every movement of value: deposits
// into strategies, claims released by them, payouts to bond holders and the
// unattributed native reserve.
type Treasury struct {
	registry  *strategy.Registry
	approvals domain.StrategyRegistryStore
	flows     domain.TreasuryStore
	oracle    domain.PriceOracle
	auth      domain.Authorizer
	bus       domain.EventBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewTreasury creates a Treasury. bus and audit may be nil.
func NewTreasury(
	registry *strategy.Registry,
	approvals domain.StrategyRegistryStore,
	flows domain.TreasuryStore,
	oracle domain.PriceOracle,
	auth domain.Authorizer,
	bus domain.EventBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Treasury {
	return &Treasury{
		registry:  registry,
		approvals: approvals,
		flows:     flows,
		oracle:    oracle,
		auth:      auth,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "treasury")),
		now:       time.Now,
	}
}

// SetStrategies toggles approval for the given strategies. Admin only; the
// list must be non-empty and every ID must name a configured adapter.
func (t *Treasury) SetStrategies(ctx context.Context, caller common.Address, ids []domain.StrategyID, approved bool) error {
	if !t.auth.HasRole(caller, domain.RoleAdmin) {
		return fmt.Errorf("treasury: set strategies: %w", domain.ErrNotAdmin)
	}
	if len(ids) == 0 {
		return fmt.Errorf("treasury: set strategies: %w", domain.ErrEmptyStrategyList)
	}
	for _, id := range ids {
		if _, err := t.registry.Get(id); err != nil {
			return fmt.Errorf("treasury: set strategies: %w", err)
		}
	}
	for _, id := range ids {
		if err := t.approvals.SetApproved(ctx, id, approved); err != nil {
			return fmt.Errorf("treasury: set strategies: %w", err)
		}
	}

	t.logger.InfoContext(ctx, "strategy approvals changed",
		slog.Any("strategies", ids),
		slog.Bool("approved", approved),
	)
	t.logAudit(ctx, domain.EventStrategiesUpdated, map[string]any{
		"strategies": ids,
		"approved":   approved,
	})
	t.publish(ctx, domain.EventStrategiesUpdated, map[string]any{
		"strategies": ids,
		"approved":   approved,
	})
	return nil
}

// IsApproved reports whether the strategy may receive deposits.
func (t *Treasury) IsApproved(ctx context.Context, id domain.StrategyID) (bool, error) {
	return t.approvals.IsApproved(ctx, id)
}

// AdapterFor resolves an approved strategy adapter. It fails with
// ErrStrategyNotApproved for unknown or unapproved IDs.
func (t *Treasury) AdapterFor(ctx context.Context, id domain.StrategyID) (domain.StrategyAdapter, error) {
	ok, err := t.approvals.IsApproved(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("treasury: approval lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("treasury: strategy %q: %w", id, domain.ErrStrategyNotApproved)
	}
	return t.registry.Get(id)
}

// RouteDeposit forwards bond collateral into the given strategy and records
// the flow. An error means no collateral moved: once the adapter holds the
// funds the deposit stands, and a failed flow insert is only logged so the
// caller never unwinds a custodied position.
func (t *Treasury) RouteDeposit(ctx context.Context, bondID domain.BondID, id domain.StrategyID, token common.Address, principal *big.Int) error {
	adapter, err := t.AdapterFor(ctx, id)
	if err != nil {
		return err
	}
	if err := adapter.Deposit(ctx, bondID, token, principal); err != nil {
		return err
	}
	flow := domain.TreasuryFlow{
		Direction: domain.FlowDeposit,
		Strategy:  id,
		BondID:    &bondID,
		Token:     token,
		Amount:    principal,
		CreatedAt: t.now(),
	}
	if err := t.flows.RecordFlow(ctx, flow); err != nil {
		t.logger.ErrorContext(ctx, "deposit flow not recorded",
			slog.Uint64("bond_id", uint64(bondID)),
			slog.String("strategy", string(id)),
			slog.String("amount", principal.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ClaimFlow builds the record of collateral released by a strategy. The
// ledger persists it atomically with the bond's settled transition, so a
// retried settle never books the claim twice.
func (t *Treasury) ClaimFlow(bondID domain.BondID, id domain.StrategyID, token common.Address, claimed *big.Int) domain.TreasuryFlow {
	return domain.TreasuryFlow{
		Direction: domain.FlowClaim,
		Strategy:  id,
		BondID:    &bondID,
		Token:     token,
		Amount:    claimed,
		CreatedAt: t.now(),
	}
}

// PayoutFlow builds the payout record that the ledger persists atomically
// with the bond's settled transition.
func (t *Treasury) PayoutFlow(bondID domain.BondID, id domain.StrategyID, token common.Address, amount *big.Int, to common.Address) domain.TreasuryFlow {
	return domain.TreasuryFlow{
		Direction: domain.FlowPayout,
		Strategy:  id,
		BondID:    &bondID,
		Token:     token,
		Amount:    amount,
		Account:   to,
		CreatedAt: t.now(),
	}
}

// ReceiveReserve books an unsolicited native transfer as treasury reserve.
// Attributed to no bond.
func (t *Treasury) ReceiveReserve(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("treasury: receive reserve: %w", domain.ErrInvalidAmount)
	}
	flow := domain.TreasuryFlow{
		Direction: domain.FlowReserve,
		Token:     domain.NativeToken,
		Amount:    amount,
		Account:   from,
		CreatedAt: t.now(),
	}
	if err := t.flows.RecordFlow(ctx, flow); err != nil {
		return fmt.Errorf("treasury: record reserve flow: %w", err)
	}
	t.logger.InfoContext(ctx, "reserve received",
		slog.String("from", from.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Flows lists recent treasury flows.
func (t *Treasury) Flows(ctx context.Context, opts domain.ListOpts) ([]domain.TreasuryFlow, error) {
	return t.flows.ListFlows(ctx, opts)
}

// Solvency values the holdings of every approved strategy through the price
// oracle and compares the total plus reserve against the given liabilities.
func (t *Treasury) Solvency(ctx context.Context, liabilities *big.Int) (domain.SolvencyReport, error) {
	approved, err := t.approvals.ListApproved(ctx)
	if err != nil {
		return domain.SolvencyReport{}, fmt.Errorf("treasury: list approved: %w", err)
	}

	report := domain.SolvencyReport{
		GeneratedAt:    t.now(),
		TotalValuation: new(big.Int),
		Liabilities:    liabilities,
	}
	for _, id := range approved {
		adapter, err := t.registry.Get(id)
		if err != nil {
			return domain.SolvencyReport{}, err
		}
		held, err := adapter.ValueHeld(ctx)
		if err != nil {
			return domain.SolvencyReport{}, err
		}
		token := adapter.HoldingToken()
		price, pricedAt, err := t.oracle.Price(ctx, token)
		if err != nil {
			return domain.SolvencyReport{}, fmt.Errorf("treasury: price %s: %w", token.Hex(), err)
		}
		valuation := new(big.Int).Mul(held, price)
		report.Holdings = append(report.Holdings, domain.StrategyHolding{
			Strategy:  id,
			Kind:      adapter.Kind(),
			ValueHeld: held,
			Token:     token,
			Price:     price,
			PricedAt:  pricedAt,
			Valuation: valuation,
		})
		report.TotalValuation.Add(report.TotalValuation, valuation)
	}

	reserve, err := t.flows.Reserve(ctx)
	if err != nil {
		return domain.SolvencyReport{}, fmt.Errorf("treasury: reserve: %w", err)
	}
	report.Reserve = reserve

	covered := new(big.Int).Add(report.TotalValuation, reserve)
	report.Solvent = liabilities == nil || covered.Cmp(liabilities) >= 0
	return report, nil
}

func (t *Treasury) logAudit(ctx context.Context, event string, detail map[string]any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, event, detail); err != nil {
		t.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Treasury) publish(ctx context.Context, channel string, payload map[string]any) {
	if t.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = t.bus.Publish(ctx, channel, data)
	_ = t.bus.StreamAppend(ctx, "stream:"+channel, data)
}
