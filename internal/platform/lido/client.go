// Package lido talks to a Lido-style liquid-staking deployment: the stETH
// token for staking and the withdrawal queue for redemptions. Only the subset
// of the protocol surface needed by the queued-unstake strategy is bound.
package lido

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bondvault/internal/strategy"
)

const stETHABI = `[
	{"name":"submit","type":"function","stateMutability":"payable","inputs":[{"name":"_referral","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_spender","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const withdrawalQueueABI = `[
	{"name":"requestWithdrawals","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_amounts","type":"uint256[]"},{"name":"_owner","type":"address"}],"outputs":[{"name":"requestIds","type":"uint256[]"}]},
	{"name":"getWithdrawalStatus","type":"function","stateMutability":"view","inputs":[{"name":"_requestIds","type":"uint256[]"}],"outputs":[{"name":"statuses","type":"tuple[]","components":[{"name":"amountOfStETH","type":"uint256"},{"name":"amountOfShares","type":"uint256"},{"name":"owner","type":"address"},{"name":"timestamp","type":"uint256"},{"name":"isFinalized","type":"bool"},{"name":"isClaimed","type":"bool"}]}]},
	{"name":"claimWithdrawal","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_requestId","type":"uint256"}],"outputs":[]},
	{"name":"getWithdrawalRequests","type":"function","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"requestsIds","type":"uint256[]"}]}
]`

// withdrawalStatus mirrors the queue's WithdrawalRequestStatus tuple.
type withdrawalStatus struct {
	AmountOfStETH  *big.Int
	AmountOfShares *big.Int
	Owner          common.Address
	Timestamp      *big.Int
	IsFinalized    bool
	IsClaimed      bool
}

// Client implements strategy.UnstakeBackend over a Lido deployment.
type Client struct {
	eth       *ethclient.Client
	stETH     *bind.BoundContract
	stETHAddr common.Address
	queue     *bind.BoundContract
	opts      *bind.TransactOpts
	account   common.Address
	logger    *slog.Logger
}

// New binds the stETH token and withdrawal queue at the given addresses.
// opts carries the operator key used for staking and claiming.
func New(eth *ethclient.Client, stETHAddr, queueAddr common.Address, opts *bind.TransactOpts, logger *slog.Logger) (*Client, error) {
	tokenABI, err := abi.JSON(strings.NewReader(stETHABI))
	if err != nil {
		return nil, fmt.Errorf("lido: parse stETH abi: %w", err)
	}
	queueParsed, err := abi.JSON(strings.NewReader(withdrawalQueueABI))
	if err != nil {
		return nil, fmt.Errorf("lido: parse queue abi: %w", err)
	}
	return &Client{
		eth:       eth,
		stETH:     bind.NewBoundContract(stETHAddr, tokenABI, eth, eth, eth),
		stETHAddr: stETHAddr,
		queue:     bind.NewBoundContract(queueAddr, queueParsed, eth, eth, eth),
		opts:      opts,
		account:   opts.From,
		logger:    logger.With(slog.String("component", "lido_client")),
	}, nil
}

// ReceiptToken returns the stETH address.
func (c *Client) ReceiptToken() common.Address { return c.stETHAddr }

// Stake submits native currency and returns the stETH received.
func (c *Client) Stake(ctx context.Context, amount *big.Int) (*big.Int, error) {
	before, err := c.ReceiptBalance(ctx)
	if err != nil {
		return nil, err
	}

	opts := *c.opts
	opts.Context = ctx
	opts.Value = amount
	tx, err := c.stETH.Transact(&opts, "submit", common.Address{})
	if err != nil {
		return nil, fmt.Errorf("lido: submit: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return nil, fmt.Errorf("lido: submit wait: %w", err)
	}

	after, err := c.ReceiptBalance(ctx)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(after, before)
	c.logger.DebugContext(ctx, "staked",
		slog.String("amount", amount.String()),
		slog.String("received", received.String()),
	)
	return received, nil
}

// ReceiptBalance returns the operator account's stETH balance.
func (c *Client) ReceiptBalance(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.stETH.Call(callOpts, &out, "balanceOf", c.account); err != nil {
		return nil, fmt.Errorf("lido: balanceOf: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// RequestUnstake queues amount of stETH for redemption and returns the
// queue's request id as the handle.
func (c *Client) RequestUnstake(ctx context.Context, amount *big.Int) (string, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.queue.Transact(&opts, "requestWithdrawals", []*big.Int{amount}, c.account)
	if err != nil {
		return "", fmt.Errorf("lido: requestWithdrawals: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return "", fmt.Errorf("lido: requestWithdrawals wait: %w", err)
	}

	// The request id is the newest entry under our account.
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.queue.Call(callOpts, &out, "getWithdrawalRequests", c.account); err != nil {
		return "", fmt.Errorf("lido: getWithdrawalRequests: %w", err)
	}
	ids := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	if len(ids) == 0 {
		return "", fmt.Errorf("lido: withdrawal request not recorded by queue")
	}
	newest := ids[0]
	for _, id := range ids[1:] {
		if id.Cmp(newest) > 0 {
			newest = id
		}
	}
	return newest.String(), nil
}

// UnstakeStatus queries finalization state for a request handle.
func (c *Client) UnstakeStatus(ctx context.Context, handle string) (strategy.UnstakeStatus, error) {
	id, ok := new(big.Int).SetString(handle, 10)
	if !ok {
		return strategy.UnstakeStatus{}, fmt.Errorf("lido: malformed request handle %q", handle)
	}

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.queue.Call(callOpts, &out, "getWithdrawalStatus", []*big.Int{id}); err != nil {
		return strategy.UnstakeStatus{}, fmt.Errorf("lido: getWithdrawalStatus: %w", err)
	}
	statuses := *abi.ConvertType(out[0], new([]withdrawalStatus)).(*[]withdrawalStatus)
	if len(statuses) != 1 {
		return strategy.UnstakeStatus{}, fmt.Errorf("lido: queue returned %d statuses for one request", len(statuses))
	}
	return strategy.UnstakeStatus{
		Finalized: statuses[0].IsFinalized,
		Claimed:   statuses[0].IsClaimed,
		Amount:    statuses[0].AmountOfStETH,
	}, nil
}

// ClaimUnstake claims a finalized request and returns the native currency
// released.
func (c *Client) ClaimUnstake(ctx context.Context, handle string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(handle, 10)
	if !ok {
		return nil, fmt.Errorf("lido: malformed request handle %q", handle)
	}

	status, err := c.UnstakeStatus(ctx, handle)
	if err != nil {
		return nil, err
	}

	opts := *c.opts
	opts.Context = ctx
	tx, err := c.queue.Transact(&opts, "claimWithdrawal", id)
	if err != nil {
		return nil, fmt.Errorf("lido: claimWithdrawal: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return nil, fmt.Errorf("lido: claimWithdrawal wait: %w", err)
	}

	c.logger.InfoContext(ctx, "withdrawal claimed",
		slog.String("handle", handle),
		slog.String("amount", status.Amount.String()),
	)
	return status.Amount, nil
}

var _ strategy.UnstakeBackend = (*Client)(nil)
