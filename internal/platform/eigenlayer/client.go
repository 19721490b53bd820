// Package eigenlayer talks to a restaking deployment whose withdrawals are
// delay-gated: deposits go through a strategy manager, withdrawals are queued
// on a delegation manager and completed after a fixed number of blocks. Only
// the subset needed by the delayed-withdrawal strategy is bound.
package eigenlayer

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bondvault/internal/strategy"
)

const strategyManagerABI = `[
	{"name":"depositIntoStrategy","type":"function","stateMutability":"nonpayable","inputs":[{"name":"strategy","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"name":"stakerStrategyShares","type":"function","stateMutability":"view","inputs":[{"name":"staker","type":"address"},{"name":"strategy","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const delegationManagerABI = `[
	{"name":"queueWithdrawal","type":"function","stateMutability":"nonpayable","inputs":[{"name":"strategy","type":"address"},{"name":"shares","type":"uint256"}],"outputs":[{"name":"withdrawalRoot","type":"bytes32"}]},
	{"name":"completeQueuedWithdrawal","type":"function","stateMutability":"nonpayable","inputs":[{"name":"withdrawalRoot","type":"bytes32"}],"outputs":[{"name":"released","type":"uint256"}]},
	{"name":"withdrawalDelayBlocks","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// ethBlockTime converts the protocol's block-denominated delay into wall time.
const ethBlockTime = 12 * time.Second

// Client implements strategy.RestakeBackend over an EigenLayer-style
// deployment: one strategy vault reached through the strategy manager, with
// withdrawals queued on the delegation manager.
type Client struct {
	eth        *ethclient.Client
	manager    *bind.BoundContract
	delegation *bind.BoundContract
	vault      common.Address
	token      common.Address
	opts       *bind.TransactOpts
	account    common.Address
	logger     *slog.Logger

	mu     sync.Mutex
	queued map[string]*big.Int // withdrawal root -> shares queued
}

// New binds the strategy manager and delegation manager. vault is the
// protocol-side strategy that holds token.
func New(eth *ethclient.Client, managerAddr, delegationAddr, vault, token common.Address, opts *bind.TransactOpts, logger *slog.Logger) (*Client, error) {
	managerParsed, err := abi.JSON(strings.NewReader(strategyManagerABI))
	if err != nil {
		return nil, fmt.Errorf("eigenlayer: parse manager abi: %w", err)
	}
	delegationParsed, err := abi.JSON(strings.NewReader(delegationManagerABI))
	if err != nil {
		return nil, fmt.Errorf("eigenlayer: parse delegation abi: %w", err)
	}
	return &Client{
		eth:        eth,
		manager:    bind.NewBoundContract(managerAddr, managerParsed, eth, eth, eth),
		delegation: bind.NewBoundContract(delegationAddr, delegationParsed, eth, eth, eth),
		vault:      vault,
		token:      token,
		opts:       opts,
		account:    opts.From,
		logger:     logger.With(slog.String("component", "eigenlayer_client")),
		queued:     make(map[string]*big.Int),
	}, nil
}

// Token returns the collateral token the bound vault accepts.
func (c *Client) Token() common.Address { return c.token }

// Deposit routes amount of token into the vault through the strategy manager.
func (c *Client) Deposit(ctx context.Context, token common.Address, amount *big.Int) error {
	if token != c.token {
		return fmt.Errorf("eigenlayer: vault holds %s, got %s", c.token.Hex(), token.Hex())
	}
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.manager.Transact(&opts, "depositIntoStrategy", c.vault, token, amount)
	if err != nil {
		return fmt.Errorf("eigenlayer: depositIntoStrategy: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return fmt.Errorf("eigenlayer: depositIntoStrategy wait: %w", err)
	}
	c.logger.DebugContext(ctx, "deposited into vault",
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Shares returns the operator account's share balance in the vault.
func (c *Client) Shares(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.manager.Call(callOpts, &out, "stakerStrategyShares", c.account, c.vault); err != nil {
		return nil, fmt.Errorf("eigenlayer: stakerStrategyShares: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// QueueWithdrawal starts the delay clock for amount of shares and returns the
// withdrawal root as the handle.
func (c *Client) QueueWithdrawal(ctx context.Context, amount *big.Int) (string, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.delegation.Transact(&opts, "queueWithdrawal", c.vault, amount)
	if err != nil {
		return "", fmt.Errorf("eigenlayer: queueWithdrawal: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return "", fmt.Errorf("eigenlayer: queueWithdrawal wait: %w", err)
	}
	if len(receipt.Logs) == 0 {
		return "", fmt.Errorf("eigenlayer: queueWithdrawal emitted no withdrawal root")
	}
	// The delegation manager emits the root as the first topic payload of the
	// WithdrawalQueued event.
	root := receipt.Logs[0].Topics[len(receipt.Logs[0].Topics)-1]
	handle := hex.EncodeToString(root.Bytes())

	c.mu.Lock()
	c.queued[handle] = new(big.Int).Set(amount)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "withdrawal queued",
		slog.String("root", handle),
		slog.String("shares", amount.String()),
	)
	return handle, nil
}

// CompleteWithdrawal redeems a matured queued withdrawal and returns the
// released collateral.
func (c *Client) CompleteWithdrawal(ctx context.Context, handle string) (*big.Int, error) {
	rootBytes, err := hex.DecodeString(handle)
	if err != nil || len(rootBytes) != 32 {
		return nil, fmt.Errorf("eigenlayer: malformed withdrawal root %q", handle)
	}
	var root [32]byte
	copy(root[:], rootBytes)

	opts := *c.opts
	opts.Context = ctx
	tx, err := c.delegation.Transact(&opts, "completeQueuedWithdrawal", root)
	if err != nil {
		return nil, fmt.Errorf("eigenlayer: completeQueuedWithdrawal: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return nil, fmt.Errorf("eigenlayer: completeQueuedWithdrawal wait: %w", err)
	}

	c.mu.Lock()
	released := c.queued[handle]
	delete(c.queued, handle)
	c.mu.Unlock()
	if released == nil {
		return nil, fmt.Errorf("eigenlayer: no queued shares recorded for root %s", handle)
	}

	c.logger.InfoContext(ctx, "withdrawal completed",
		slog.String("root", handle),
		slog.String("released", released.String()),
	)
	return released, nil
}

// WithdrawalDelay reads the protocol's block-denominated delay and converts
// it to wall time.
func (c *Client) WithdrawalDelay(ctx context.Context) (time.Duration, error) {
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := c.delegation.Call(callOpts, &out, "withdrawalDelayBlocks"); err != nil {
		return 0, fmt.Errorf("eigenlayer: withdrawalDelayBlocks: %w", err)
	}
	blocks := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return time.Duration(blocks.Int64()) * ethBlockTime, nil
}

var _ strategy.RestakeBackend = (*Client)(nil)
