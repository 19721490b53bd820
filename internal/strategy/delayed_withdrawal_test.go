package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// fakeRestakeBackend scripts an EigenLayer-style delayed withdrawal.
type fakeRestakeBackend struct {
	token       common.Address
	shares      *big.Int
	delay       time.Duration
	queueErr    error
	completeErr error

	nextHandle int
	queued     map[string]*big.Int
}

func newFakeRestakeBackend() *fakeRestakeBackend {
	return &fakeRestakeBackend{
		token:  common.HexToAddress("0xE100000000000000000000000000000000000001"),
		shares: big.NewInt(0),
		delay:  7 * 24 * time.Hour,
		queued: make(map[string]*big.Int),
	}
}

func (b *fakeRestakeBackend) Token() common.Address { return b.token }

func (b *fakeRestakeBackend) Deposit(_ context.Context, _ common.Address, amount *big.Int) error {
	b.shares.Add(b.shares, amount)
	return nil
}

func (b *fakeRestakeBackend) Shares(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.shares), nil
}

func (b *fakeRestakeBackend) QueueWithdrawal(_ context.Context, amount *big.Int) (string, error) {
	if b.queueErr != nil {
		return "", b.queueErr
	}
	b.nextHandle++
	handle := fmt.Sprintf("0x%02x", b.nextHandle)
	b.queued[handle] = new(big.Int).Set(amount)
	return handle, nil
}

func (b *fakeRestakeBackend) CompleteWithdrawal(_ context.Context, handle string) (*big.Int, error) {
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	amount, ok := b.queued[handle]
	if !ok {
		return nil, errors.New("unknown withdrawal root")
	}
	b.shares.Sub(b.shares, amount)
	return new(big.Int).Set(amount), nil
}

func (b *fakeRestakeBackend) WithdrawalDelay(_ context.Context) (time.Duration, error) {
	return b.delay, nil
}

type delayedFixture struct {
	adapter *DelayedWithdrawalAdapter
	backend *fakeRestakeBackend
	now     time.Time
}

func newDelayedFixture() *delayedFixture {
	f := &delayedFixture{
		backend: newFakeRestakeBackend(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.adapter = NewDelayedWithdrawalAdapter("restake", f.backend, slog.New(slog.DiscardHandler))
	f.adapter.now = func() time.Time { return f.now }
	return f
}

func TestDelayedDepositAndValue(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()

	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))

	held, err := f.adapter.ValueHeld(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2000", held.String())
	assert.Equal(t, f.backend.token, f.adapter.HoldingToken())
}

func TestDelayedFinalizationWaitsOutDelay(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))

	handle, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)

	done, err := f.adapter.IsFinalized(ctx, 1, handle)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = f.adapter.FinalizeAndClaim(ctx, 1, handle)
	assert.ErrorIs(t, err, domain.ErrDelayNotElapsed)
	assert.ErrorIs(t, err, domain.ErrSettlementNotFinalized)

	// One second short of the delay is still too early.
	f.now = f.now.Add(f.backend.delay - time.Second)
	_, err = f.adapter.FinalizeAndClaim(ctx, 1, handle)
	assert.ErrorIs(t, err, domain.ErrDelayNotElapsed)

	// At the boundary the withdrawal completes.
	f.now = f.now.Add(time.Second)
	done, err = f.adapter.IsFinalized(ctx, 1, handle)
	require.NoError(t, err)
	assert.True(t, done)

	released, err := f.adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, "2000", released.String())
	assert.Equal(t, "0", f.backend.shares.String())
}

func TestDelayedUnknownHandle(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))
	_, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)

	_, err = f.adapter.IsFinalized(ctx, 1, "0xff")
	assert.ErrorIs(t, err, domain.ErrBackendInconsistency)

	f.now = f.now.Add(f.backend.delay)
	_, err = f.adapter.FinalizeAndClaim(ctx, 1, "0xff")
	assert.ErrorIs(t, err, domain.ErrBackendInconsistency)
}

func TestDelayedRequestRollsBackOnBackendError(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))

	f.backend.queueErr = errors.New("paused")
	_, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.Error(t, err)

	f.backend.queueErr = nil
	_, err = f.adapter.RequestWithdrawal(ctx, 1)
	assert.NoError(t, err)
}

func TestDelayedClaimIsIdempotent(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))
	handle, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	f.now = f.now.Add(f.backend.delay)

	first, err := f.adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)

	second, err := f.adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
	// Shares were only reduced once.
	assert.Equal(t, "0", f.backend.shares.String())
}

func TestDelayedCompletionRetriesAfterFailure(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))
	handle, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	f.now = f.now.Add(f.backend.delay)

	f.backend.completeErr = errors.New("reverted")
	_, err = f.adapter.FinalizeAndClaim(ctx, 1, handle)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSettlementNotFinalized)

	f.backend.completeErr = nil
	released, err := f.adapter.FinalizeAndClaim(ctx, 1, handle)
	require.NoError(t, err)
	assert.Equal(t, "2000", released.String())
}

func TestDelayedRequestIsSingleUse(t *testing.T) {
	f := newDelayedFixture()
	ctx := context.Background()
	require.NoError(t, f.adapter.Deposit(ctx, 1, f.backend.token, big.NewInt(2000)))

	_, err := f.adapter.RequestWithdrawal(ctx, 1)
	require.NoError(t, err)
	_, err = f.adapter.RequestWithdrawal(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyRequested)
}
