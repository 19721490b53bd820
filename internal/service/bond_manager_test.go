package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const month = 30 * 24 * time.Hour

func TestDepositCreatesBond(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)

	assert.Equal(t, domain.BondID(1), pos.ID)
	assert.Equal(t, uint16(500), pos.InterestRateBps)
	assert.Equal(t, "50000", pos.InterestAmount.String())
	assert.Equal(t, f.now.Add(month), pos.MaturesAt)
	assert.False(t, pos.Settled)

	// Zero beneficiary defaults to the caller.
	owner, err := f.claims.OwnerOf(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, f.holder, owner)

	// Collateral was routed through the adapter and the flow recorded.
	assert.Equal(t, 1, f.adapter.deposits)
	flows, err := f.flows.ListFlows(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, domain.FlowDeposit, flows[0].Direction)
	assert.Equal(t, "1000000", flows[0].Amount.String())
}

func TestDepositMintsToBeneficiary(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	beneficiary := common.HexToAddress("0xC0FFEE0000000000000000000000000000000004")

	pos, err := f.manager.Deposit(ctx, f.holder, beneficiary, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)

	owner, err := f.claims.OwnerOf(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, beneficiary, owner)
}

func TestDepositValidation(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	otherToken := common.HexToAddress("0x9000000000000000000000000000000000000009")

	tests := []struct {
		name      string
		principal *big.Int
		token     common.Address
		strategy  domain.StrategyID
		maturity  time.Duration
		wantErr   error
	}{
		{"zero principal", big.NewInt(0), f.token, f.adapter.id, month, domain.ErrInvalidAmount},
		{"nil principal", nil, f.token, f.adapter.id, month, domain.ErrInvalidAmount},
		{"unsupported maturity", big.NewInt(1000), f.token, f.adapter.id, 7 * 24 * time.Hour, domain.ErrMaturityNotSupported},
		{"token not whitelisted", big.NewInt(1000), otherToken, f.adapter.id, month, domain.ErrTokenNotAllowed},
		{"strategy not approved", big.NewInt(1000), f.token, "unknown", month, domain.ErrStrategyNotApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Deposit(ctx, f.holder, common.Address{}, tt.token, tt.strategy, tt.principal, tt.maturity)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// No claim was minted by any rejected deposit.
	_, err := f.claims.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDepositRateLockedAtIssue(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	require.Equal(t, uint16(500), pos.InterestRateBps)

	// Raising the table rate must not touch the issued bond.
	require.NoError(t, f.manager.SetInterestRates(ctx, f.admin, []time.Duration{month}, []uint16{900}))

	got, err := f.manager.Bond(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), got.InterestRateBps)
	assert.Equal(t, "50000", got.InterestAmount.String())

	// New deposits pick up the new rate.
	pos2, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	assert.Equal(t, uint16(900), pos2.InterestRateBps)
}

func TestSetInterestRates(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	err := f.manager.SetInterestRates(ctx, f.holder, []time.Duration{month}, []uint16{100})
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	err = f.manager.SetInterestRates(ctx, f.admin, []time.Duration{month, 2 * month}, []uint16{100})
	assert.ErrorIs(t, err, domain.ErrInvalidArrayLength)

	// Rate zero deletes the entry and makes the maturity unsupported.
	require.NoError(t, f.manager.SetInterestRates(ctx, f.admin, []time.Duration{month}, []uint16{0}))
	_, err = f.manager.InterestRate(ctx, month)
	assert.ErrorIs(t, err, domain.ErrMaturityNotSupported)

	_, err = f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	assert.ErrorIs(t, err, domain.ErrMaturityNotSupported)
}

func TestSetBondableTokens(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	tok := common.HexToAddress("0x4000000000000000000000000000000000000004")

	err := f.manager.SetBondableTokens(ctx, f.holder, []common.Address{tok}, true)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	err = f.manager.SetBondableTokens(ctx, f.admin, []common.Address{{}}, true)
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	require.NoError(t, f.manager.SetBondableTokens(ctx, f.admin, []common.Address{tok}, true))
	allowed, err := f.tokens.IsAllowed(ctx, tok)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, f.manager.SetBondableTokens(ctx, f.admin, []common.Address{tok}, false))
	allowed, err = f.tokens.IsAllowed(ctx, tok)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWithdrawRequestBeforeMaturity(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)

	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrBondNotMatured)

	// Exactly at maturity the request is allowed.
	f.advance(month)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	assert.NoError(t, err)
}

func TestWithdrawRequestOwnership(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	stranger := common.HexToAddress("0xDEAD000000000000000000000000000000000005")

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)
	f.advance(month)

	_, err = f.manager.WithdrawRequest(ctx, stranger, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotBondOwner)

	_, err = f.manager.WithdrawRequest(ctx, f.holder, domain.BondID(99))
	assert.ErrorIs(t, err, domain.ErrNoSuchBond)

	// Transferring the claim moves the right to request with it.
	require.NoError(t, f.claims.Transfer(ctx, f.holder, stranger, pos.ID))
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotBondOwner)
	_, err = f.manager.WithdrawRequest(ctx, stranger, pos.ID)
	assert.NoError(t, err)
}

func TestWithdrawRequestAtMostOnce(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)
	f.advance(month)

	req, err := f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ExternalRequestID)

	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRequested)
	assert.Equal(t, 1, f.adapter.requests)
}

func TestWithdrawWithoutRequest(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)
	f.advance(month)

	_, err = f.manager.Withdraw(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrSettlementNotFinalized)
}

func TestWithdrawNotFinalized(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)
	f.advance(month)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	require.NoError(t, err)

	f.adapter.finalizeErr = domain.ErrNotYetFinalized
	_, err = f.manager.Withdraw(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotYetFinalized)
	assert.ErrorIs(t, err, domain.ErrSettlementNotFinalized)

	got, err := f.manager.Bond(ctx, pos.ID)
	require.NoError(t, err)
	assert.False(t, got.Settled)
}

func TestWithdrawSettlesOnce(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	f.advance(month)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	require.NoError(t, err)

	payout, err := f.manager.Withdraw(ctx, f.holder, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "1050000", payout.String())

	got, err := f.manager.Bond(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Settled)
	require.NotNil(t, got.SettledAt)

	// The settled bond no longer counts toward liabilities.
	liabilities, err := f.manager.OutstandingLiabilities(ctx)
	require.NoError(t, err)
	assert.Zero(t, liabilities.Sign())

	// A second settlement attempt and a late request both fail.
	_, err = f.manager.Withdraw(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestWithdrawRecordsClaimFlow(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	f.adapter.claimAmount = big.NewInt(1_020_000)

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	f.advance(month)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	require.NoError(t, err)
	_, err = f.manager.Withdraw(ctx, f.holder, pos.ID)
	require.NoError(t, err)

	// The deposit flow is booked directly; claim and payout settle with the
	// bond in one transaction.
	flows, err := f.flows.ListFlows(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, domain.FlowDeposit, flows[0].Direction)

	require.Len(t, f.bonds.flows, 2)
	assert.Equal(t, domain.FlowClaim, f.bonds.flows[0].Direction)
	assert.Equal(t, "1020000", f.bonds.flows[0].Amount.String())
	assert.Equal(t, domain.FlowPayout, f.bonds.flows[1].Direction)
	assert.Equal(t, "1050000", f.bonds.flows[1].Amount.String())
	assert.Equal(t, f.holder, f.bonds.flows[1].Account)
}

func TestDepositUnwindsOnStoreFailure(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	f.bonds.createErr = errors.New("connection reset")
	_, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.Error(t, err)

	// No collateral moved and the minted claim was burned.
	assert.Equal(t, 0, f.adapter.deposits)
	_, err = f.claims.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The ledger is fully clean for the next deposit.
	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.NoError(t, err)
	owner, err := f.claims.OwnerOf(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, f.holder, owner)
}

func TestDepositUnwindsOnRouteFailure(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	f.adapter.depositErr = errors.New("backend paused")
	_, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1000), month)
	require.Error(t, err)

	// Neither position nor claim survives a failed routing.
	_, err = f.manager.Bond(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNoSuchBond)
	_, err = f.claims.OwnerOf(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	flows, err := f.flows.ListFlows(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, flows)

	liabilities, err := f.manager.OutstandingLiabilities(ctx)
	require.NoError(t, err)
	assert.Zero(t, liabilities.Sign())
}

func TestWithdrawRetriesAfterSettleFailure(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	f.adapter.claimAmount = big.NewInt(1_020_000)

	pos, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	f.advance(month)
	_, err = f.manager.WithdrawRequest(ctx, f.holder, pos.ID)
	require.NoError(t, err)

	f.bonds.settleErr = errors.New("connection reset")
	_, err = f.manager.Withdraw(ctx, f.holder, pos.ID)
	require.Error(t, err)
	assert.Empty(t, f.bonds.flows)

	payout, err := f.manager.Withdraw(ctx, f.holder, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "1050000", payout.String())

	// The retried settlement booked the claim inflow exactly once.
	var claimFlows int
	for _, flow := range f.bonds.flows {
		if flow.Direction == domain.FlowClaim {
			claimFlows++
		}
	}
	assert.Equal(t, 1, claimFlows)
}

func TestOutstandingLiabilities(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	_, err := f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(1_000_000), month)
	require.NoError(t, err)
	_, err = f.manager.Deposit(ctx, f.holder, common.Address{}, f.token, f.adapter.id, big.NewInt(2_000_000), month)
	require.NoError(t, err)

	liabilities, err := f.manager.OutstandingLiabilities(ctx)
	require.NoError(t, err)
	// 3_000_000 principal + 5% locked interest.
	assert.Equal(t, "3150000", liabilities.String())
}

func TestInterestAmountTruncates(t *testing.T) {
	assert.Equal(t, "0", domain.InterestAmount(big.NewInt(19), 500).String())
	assert.Equal(t, "4", domain.InterestAmount(big.NewInt(99), 500).String())
	assert.Equal(t, "50", domain.InterestAmount(big.NewInt(1000), 500).String())
}
