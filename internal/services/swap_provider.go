package services

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"offramp-backend/internal/chain"
)

// SwapRequest one token-to-token conversion for a deposit wallet.
// Amounts are integer base units throughout; no floating point touches
// on-chain values.
type SwapRequest struct {
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	Wallet      common.Address
	SlippageBps int
}

// SwapQuote a provider's priced answer for a request.
type SwapQuote struct {
	Provider     string
	BuyAmount    *big.Int
	MinBuyAmount *big.Int
}

// SwapExecutable everything needed to execute a quoted swap. Exactly one
// of Tx / SubmitGasless is set.
type SwapExecutable struct {
	Provider     string
	BuyAmount    *big.Int
	MinBuyAmount *big.Int

	// On-chain path: the wallet signs and broadcasts Tx itself. If
	// ApprovalSpender is set an ERC-20 approval must precede the swap.
	// GasNeeded is the native balance the wallet must hold for both.
	Tx              *chain.TxParams
	ApprovalSpender *common.Address
	GasNeeded       *big.Int

	// Gasless path: the wallet only signs; the provider settles and
	// pays gas. Returns the settlement transaction hash.
	SubmitGasless func(ctx context.Context, key *ecdsa.PrivateKey) (string, error)
}

// SwapProvider one liquidity layer in the router's fallback order.
// Quote answers whether the provider can fill the order; Build turns an
// affirmative quote into something executable. Providers signal
// clients.ErrNoRoute / clients.ErrRateLimited through error wrapping.
type SwapProvider interface {
	Name() string
	Quote(ctx context.Context, req *SwapRequest) (*SwapQuote, error)
	Build(ctx context.Context, req *SwapRequest, quote *SwapQuote) (*SwapExecutable, error)
}
