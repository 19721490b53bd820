package strategy

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

func TestRegistryGetAndList(t *testing.T) {
	reg := NewRegistry()
	logger := slog.New(slog.DiscardHandler)
	reg.Register(NewQueuedUnstakeAdapter("lido", newFakeUnstakeBackend(), logger))
	reg.Register(NewDelayedWithdrawalAdapter("restake", newFakeRestakeBackend(), logger))

	a, err := reg.Get("lido")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyQueuedUnstake, a.Kind())

	a, err = reg.Get("restake")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyDelayedWithdrawal, a.Kind())

	assert.Equal(t, []domain.StrategyID{"lido", "restake"}, reg.List())
}

func TestRegistryUnknownStrategy(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrStrategyNotApproved)
}
