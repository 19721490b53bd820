package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the conventional sentinel address used where a token
// identity is expected but the native currency is meant.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNativeToken reports whether token denotes the native currency.
func IsNativeToken(token common.Address) bool {
	return token == NativeToken
}

// RewardToken is the fungible reward-token ledger collaborator. Mint is gated
// by a minter capability on the implementation side; the bond core only
// assumes these three operations behave like a standard token.
type RewardToken interface {
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// ClaimRegistry is the non-fungible ownership-claim collaborator. A claim id
// doubles as the bond id: Mint assigns the next id and records the owner,
// OwnerOf resolves the current holder after any transfers. Burn retires a
// claim whose deposit never completed; ids are never reused.
type ClaimRegistry interface {
	Mint(ctx context.Context, to common.Address) (BondID, error)
	OwnerOf(ctx context.Context, id BondID) (common.Address, error)
	Transfer(ctx context.Context, from, to common.Address, id BondID) error
	Burn(ctx context.Context, id BondID) error
}
