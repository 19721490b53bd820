package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

func TestSetStrategies(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	err := f.treasury.SetStrategies(ctx, f.holder, []domain.StrategyID{f.adapter.id}, true)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	err = f.treasury.SetStrategies(ctx, f.admin, nil, true)
	assert.ErrorIs(t, err, domain.ErrEmptyStrategyList)

	// Every ID must name a configured adapter; nothing is written otherwise.
	err = f.treasury.SetStrategies(ctx, f.admin, []domain.StrategyID{f.adapter.id, "ghost"}, false)
	assert.ErrorIs(t, err, domain.ErrStrategyNotApproved)
	approved, err := f.treasury.IsApproved(ctx, f.adapter.id)
	require.NoError(t, err)
	assert.True(t, approved)

	require.NoError(t, f.treasury.SetStrategies(ctx, f.admin, []domain.StrategyID{f.adapter.id}, false))
	approved, err = f.treasury.IsApproved(ctx, f.adapter.id)
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestAdapterForRequiresApproval(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	adapter, err := f.treasury.AdapterFor(ctx, f.adapter.id)
	require.NoError(t, err)
	assert.Equal(t, f.adapter.id, adapter.ID())

	require.NoError(t, f.treasury.SetStrategies(ctx, f.admin, []domain.StrategyID{f.adapter.id}, false))
	_, err = f.treasury.AdapterFor(ctx, f.adapter.id)
	assert.ErrorIs(t, err, domain.ErrStrategyNotApproved)

	_, err = f.treasury.AdapterFor(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrStrategyNotApproved)
}

func TestReceiveReserve(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	from := common.HexToAddress("0x1230000000000000000000000000000000000006")

	err := f.treasury.ReceiveReserve(ctx, from, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	err = f.treasury.ReceiveReserve(ctx, from, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	require.NoError(t, f.treasury.ReceiveReserve(ctx, from, big.NewInt(500)))
	require.NoError(t, f.treasury.ReceiveReserve(ctx, from, big.NewInt(250)))

	reserve, err := f.flows.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "750", reserve.String())

	flows, err := f.treasury.Flows(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, domain.FlowReserve, flows[0].Direction)
	assert.Equal(t, domain.NativeToken, flows[0].Token)
	assert.Equal(t, from, flows[0].Account)
}

func TestSolvencyReport(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()
	f.adapter.held = big.NewInt(900)

	// Holdings valued at price 1, no reserve: 900 vs 1000 owed.
	report, err := f.treasury.Solvency(ctx, big.NewInt(1000))
	require.NoError(t, err)
	assert.False(t, report.Solvent)
	assert.Equal(t, "900", report.TotalValuation.String())
	require.Len(t, report.Holdings, 1)
	assert.Equal(t, f.adapter.id, report.Holdings[0].Strategy)
	assert.Equal(t, "900", report.Holdings[0].Valuation.String())

	// Reserve makes up the shortfall.
	require.NoError(t, f.treasury.ReceiveReserve(ctx, f.holder, big.NewInt(100)))
	report, err = f.treasury.Solvency(ctx, big.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, report.Solvent)
	assert.Equal(t, "100", report.Reserve.String())
}

func TestSolvencySkipsUnapproved(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	require.NoError(t, f.treasury.SetStrategies(ctx, f.admin, []domain.StrategyID{f.adapter.id}, false))

	report, err := f.treasury.Solvency(ctx, big.NewInt(0))
	require.NoError(t, err)
	assert.Empty(t, report.Holdings)
	assert.Equal(t, "0", report.TotalValuation.String())
	assert.True(t, report.Solvent)
}

func TestSolvencyNilLiabilities(t *testing.T) {
	f := newBondFixture()
	ctx := context.Background()

	report, err := f.treasury.Solvency(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Solvent)
}
