// Package chainlink reads token prices from Chainlink aggregator feeds. One
// feed address is registered per token; unknown tokens are an error rather
// than a zero price so solvency math never silently drops a holding.
package chainlink

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const aggregatorABI = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]}
]`

// Oracle implements domain.PriceOracle over Chainlink aggregator contracts.
// Rounds older than maxAge are rejected so solvency is never computed from a
// dead feed.
type Oracle struct {
	eth    *ethclient.Client
	parsed abi.ABI
	feeds  map[common.Address]*bind.BoundContract
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewOracle builds an oracle over the token -> feed address mapping. A
// maxAge of zero disables the staleness check.
func NewOracle(eth *ethclient.Client, feeds map[common.Address]common.Address, maxAge time.Duration, logger *slog.Logger) (*Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("chainlink: parse aggregator abi: %w", err)
	}
	o := &Oracle{
		eth:    eth,
		parsed: parsed,
		feeds:  make(map[common.Address]*bind.BoundContract, len(feeds)),
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "chainlink_oracle")),
		now:    time.Now,
	}
	for token, feed := range feeds {
		o.feeds[token] = bind.NewBoundContract(feed, parsed, eth, eth, eth)
	}
	return o, nil
}

// stale reports whether a round updated at updatedAt has outlived maxAge.
func stale(updatedAt, now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(updatedAt) > maxAge
}

// Price returns the latest feed answer for token and the round's update time.
func (o *Oracle) Price(ctx context.Context, token common.Address) (*big.Int, time.Time, error) {
	feed, ok := o.feeds[token]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("chainlink: no feed registered for token %s", token.Hex())
	}

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := feed.Call(callOpts, &out, "latestRoundData"); err != nil {
		return nil, time.Time{}, fmt.Errorf("chainlink: latestRoundData for %s: %w", token.Hex(), err)
	}
	answer := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	updated := *abi.ConvertType(out[3], new(*big.Int)).(**big.Int)
	if answer.Sign() <= 0 {
		return nil, time.Time{}, fmt.Errorf("chainlink: feed for %s reported non-positive answer %s", token.Hex(), answer)
	}

	updatedAt := time.Unix(updated.Int64(), 0).UTC()
	if stale(updatedAt, o.now(), o.maxAge) {
		return nil, time.Time{}, fmt.Errorf("chainlink: feed for %s is stale: last update %s, max age %s",
			token.Hex(), updatedAt, o.maxAge)
	}
	o.logger.DebugContext(ctx, "price read",
		slog.String("token", token.Hex()),
		slog.String("answer", answer.String()),
		slog.Time("updated_at", updatedAt),
	)
	return answer, updatedAt, nil
}

var _ domain.PriceOracle = (*Oracle)(nil)
