package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// fakeUnstakeBackend scripts a Lido-style withdrawal queue.
type fakeUnstakeBackend struct {
	receipt    common.Address
	stakeRate  int64 // receipt tokens per native unit, default 1:1
	balance    *big.Int
	requestErr error
	claimErr   error

	nextHandle int
	statuses   map[string]UnstakeStatus
}

func newFakeUnstakeBackend() *fakeUnstakeBackend {
	return &fakeUnstakeBackend{
		receipt:   common.HexToAddress("0x5E00000000000000000000000000000000000001"),
		stakeRate: 1,
		balance:   big.NewInt(0),
		statuses:  make(map[string]UnstakeStatus),
	}
}

func (b *fakeUnstakeBackend) ReceiptToken() common.Address { return b.receipt }

func (b *fakeUnstakeBackend) Stake(_ context.Context, amount *big.Int) (*big.Int, error) {
	received := new(big.Int).Mul(amount, big.NewInt(b.stakeRate))
	b.balance.Add(b.balance, received)
	return received, nil
}

func (b *fakeUnstakeBackend) ReceiptBalance(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.balance), nil
}

func (b *fakeUnstakeBackend) RequestUnstake(_ context.Context, amount *big.Int) (string, error) {
	if b.requestErr != nil {
		return "", b.requestErr
	}
	b.nextHandle++
	handle := fmt.Sprintf("%d", b.nextHandle)
	b.statuses[handle] = UnstakeStatus{Amount: new(big.Int).Set(amount)}
	return handle, nil
}

func (b *fakeUnstakeBackend) UnstakeStatus(_ context.Context, handle string) (UnstakeStatus, error) {
	return b.statuses[handle], nil
}

func (b *fakeUnstakeBackend) ClaimUnstake(_ context.Context, handle string) (*big.Int, error) {
	if b.claimErr != nil {
		return nil, b.claimErr
	}
	status := b.statuses[handle]
	status.Claimed = true
	b.statuses[handle] = status
	return new(big.Int).Set(status.Amount), nil
}

// finalize marks the handle finalized, as the queue's report processing would.
func (b *fakeUnstakeBackend) finalize(handle string) {
	status := b.statuses[handle]
	status.Finalized = true
	b.statuses[handle] = status
}

func newQueuedFixture() (*QueuedUnstakeAdapter, *fakeUnstakeBackend) {
	backend := newFakeUnstakeBackend()
	adapter := NewQueuedUnstakeAdapter("lido", backend, slog.New(slog.DiscardHandler))
	return adapter, backend
}

func TestQueuedDepositNativeStakes(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()

	err := adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "1000", backend.balance.String())

	held, err := adapter.ValueHeld(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000", held.String())
}

func TestQueuedDepositReceiptTokenBooksDirectly(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()

	err := adapter.Deposit(ctx, 1, backend.receipt, big.NewInt(500))
	require.NoError(t, err)
	// No staking call happened.
	assert.Equal(t, "0", backend.balance.String())
}

func TestQueuedDepositRejectsOtherTokens(t *testing.T) {
	adapter, _ := newQueuedFixture()
	other := common.HexToAddress("0x9900000000000000000000000000000000000099")

	err := adapter.Deposit(context.Background(), 1, other, big.NewInt(500))
	assert.ErrorIs(t, err, domain.ErrTokenNotAllowed)
}

func TestQueuedDepositRejectsDuplicateBond(t *testing.T) {
	adapter, _ := newQueuedFixture()
	ctx := context.Background()

	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(100)))
	assert.Error(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(100)))
}

func TestQueuedRequestWithdrawal(t *testing.T) {
	adapter, _ := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))

	handle, err := adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", handle)

	// The position is RequestPending; a second request fails.
	_, err = adapter.RequestWithdrawal(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyRequested)

	_, err = adapter.RequestWithdrawal(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNoSuchBond)
}

func TestQueuedRequestRollsBackOnBackendError(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))

	backend.requestErr = errors.New("queue unavailable")
	_, err := adapter.RequestWithdrawal(ctx, 1)
	require.Error(t, err)

	// The failed attempt did not consume the single request slot.
	backend.requestErr = nil
	_, err = adapter.RequestWithdrawal(ctx, 1)
	assert.NoError(t, err)
}

func TestQueuedFinalizationFollowsReports(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))
	handle, err := adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)

	done, err := adapter.IsFinalized(ctx, 1, handle)
	require.NoError(t, err)
	assert.False(t, done)

	// Claiming before the report lands fails with the retryable kind.
	_, err = adapter.FinalizeAndClaim(ctx, 1, handle)
	assert.ErrorIs(t, err, domain.ErrNotYetFinalized)
	assert.ErrorIs(t, err, domain.ErrSettlementNotFinalized)

	backend.finalize(handle)
	done, err = adapter.IsFinalized(ctx, 1, handle)
	require.NoError(t, err)
	assert.True(t, done)

	claimed, err := adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, "1000", claimed.String())
}

func TestQueuedClaimIsIdempotent(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))
	handle, err := adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	backend.finalize(handle)

	first, err := adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)

	// A redelivered claim returns the recorded amount without another
	// backend call.
	second, err := adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestQueuedClaimRetriesAfterBackendFailure(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))
	handle, err := adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	backend.finalize(handle)

	backend.claimErr = errors.New("gas spike")
	_, err = adapter.FinalizeAndClaim(ctx, 1, handle)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSettlementNotFinalized)

	backend.claimErr = nil
	claimed, err := adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, "1000", claimed.String())
}

func TestQueuedExternallyClaimedIsInconsistency(t *testing.T) {
	adapter, backend := newQueuedFixture()
	ctx := context.Background()
	require.NoError(t, adapter.Deposit(ctx, 1, domain.NativeToken, big.NewInt(1000)))
	handle, err := adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)

	// Someone claimed the request outside the adapter's control.
	backend.finalize(handle)
	status := backend.statuses[handle]
	status.Claimed = true
	backend.statuses[handle] = status

	_, err = adapter.IsFinalized(ctx, 1, handle)
	assert.ErrorIs(t, err, domain.ErrBackendInconsistency)

	_, err = adapter.FinalizeAndClaim(ctx, 1, handle)
	assert.ErrorIs(t, err, domain.ErrBackendInconsistency)
	assert.NotErrorIs(t, err, domain.ErrSettlementNotFinalized)
}
