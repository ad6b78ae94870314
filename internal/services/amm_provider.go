package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/clients"
)

const v2RouterABIJSON = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

var v2RouterABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(v2RouterABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid router ABI: %v", err))
	}
	v2RouterABI = parsed
}

// ammSwapGasLimit generous limit for a two-hop V2 swap plus approval.
const ammSwapGasLimit = 350000

// AMMProvider layer 3: a direct call on a known V2-style liquidity
// venue. Reaches long-tail tokens the aggregators have no route for, at
// the cost of gas funding and worse pricing.
type AMMProvider struct {
	backend       chain.Backend
	router        common.Address
	wrappedNative common.Address
	name          string
}

// NewAMMProvider creates the direct AMM router layer
func NewAMMProvider(backend chain.Backend, router, wrappedNative common.Address) *AMMProvider {
	return &AMMProvider{
		backend:       backend,
		router:        router,
		wrappedNative: wrappedNative,
		name:          "amm-direct",
	}
}

func (p *AMMProvider) Name() string { return p.name }

// path routes through wrapped native unless one side already is it;
// direct pairs against the settlement asset are rare on long-tail tokens.
func (p *AMMProvider) path(req *SwapRequest) []common.Address {
	if req.SellToken == p.wrappedNative || req.BuyToken == p.wrappedNative {
		return []common.Address{req.SellToken, req.BuyToken}
	}
	return []common.Address{req.SellToken, p.wrappedNative, req.BuyToken}
}

func (p *AMMProvider) Quote(ctx context.Context, req *SwapRequest) (*SwapQuote, error) {
	path := p.path(req)
	data, err := v2RouterABI.Pack("getAmountsOut", req.SellAmount, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}

	output, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.router, Data: data})
	if err != nil {
		// Reverts here mean a missing pool, not an infrastructure fault.
		return nil, fmt.Errorf("%w: %s: %v", clients.ErrNoRoute, p.name, err)
	}

	values, err := v2RouterABI.Unpack("getAmountsOut", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode getAmountsOut: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("unexpected getAmountsOut return shape")
	}

	buyAmount := amounts[len(amounts)-1]
	if buyAmount.Sign() == 0 {
		return nil, clients.ErrNoRoute
	}

	minBuy := applySlippage(buyAmount, req.SlippageBps)
	return &SwapQuote{Provider: p.name, BuyAmount: buyAmount, MinBuyAmount: minBuy}, nil
}

func (p *AMMProvider) Build(ctx context.Context, req *SwapRequest, quote *SwapQuote) (*SwapExecutable, error) {
	deadline := big.NewInt(time.Now().Add(10 * time.Minute).Unix())
	data, err := v2RouterABI.Pack("swapExactTokensForTokens",
		req.SellAmount, quote.MinBuyAmount, p.path(req), req.Wallet, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap call: %w", err)
	}

	gasPrice, err := p.backend.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	router := p.router
	return &SwapExecutable{
		Provider:     p.name,
		BuyAmount:    quote.BuyAmount,
		MinBuyAmount: quote.MinBuyAmount,
		Tx: &chain.TxParams{
			To:       router,
			Data:     data,
			GasLimit: ammSwapGasLimit,
			GasPrice: gasPrice,
		},
		ApprovalSpender: &router,
		GasNeeded:       new(big.Int).Mul(gasPrice, big.NewInt(ammSwapGasLimit+60000)),
	}, nil
}

// applySlippage reduces amount by bps (100 = 1%) in integer arithmetic.
func applySlippage(amount *big.Int, bps int) *big.Int {
	if bps <= 0 {
		bps = 100
	}
	reduced := new(big.Int).Mul(amount, big.NewInt(int64(10000-bps)))
	return reduced.Div(reduced, big.NewInt(10000))
}
