package services

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/clients"
)

// OpenOceanProvider layer 4, the last resort. Covers long-tail pairs
// via OpenOcean's aggregation but pays gas from the deposit wallet.
type OpenOceanProvider struct {
	client  *clients.OpenOceanClient
	backend chain.Backend
	chainID int64
}

// NewOpenOceanProvider creates the OpenOcean fallback layer
func NewOpenOceanProvider(client *clients.OpenOceanClient, backend chain.Backend, chainID int64) *OpenOceanProvider {
	return &OpenOceanProvider{client: client, backend: backend, chainID: chainID}
}

func (p *OpenOceanProvider) Name() string { return "openocean" }

func (p *OpenOceanProvider) fetch(ctx context.Context, req *SwapRequest) (*clients.OpenOceanSwapResponse, *big.Int, error) {
	gasPrice, err := p.backend.GasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.client.GetSwap(ctx, &clients.OpenOceanSwapRequest{
		ChainID:         p.chainID,
		InTokenAddress:  req.SellToken.Hex(),
		OutTokenAddress: req.BuyToken.Hex(),
		Amount:          req.SellAmount.String(),
		GasPrice:        gasPrice.String(),
		Slippage:        slippagePercent(req.SlippageBps),
		Account:         req.Wallet.Hex(),
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, gasPrice, nil
}

func (p *OpenOceanProvider) Quote(ctx context.Context, req *SwapRequest) (*SwapQuote, error) {
	resp, _, err := p.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	buyAmount, ok := new(big.Int).SetString(resp.Data.OutAmount, 10)
	if !ok {
		return nil, fmt.Errorf("openocean returned malformed outAmount %q", resp.Data.OutAmount)
	}
	minBuy, ok := new(big.Int).SetString(resp.Data.MinOutAmount, 10)
	if !ok || minBuy.Sign() == 0 {
		minBuy = applySlippage(buyAmount, req.SlippageBps)
	}
	return &SwapQuote{Provider: p.Name(), BuyAmount: buyAmount, MinBuyAmount: minBuy}, nil
}

// Build re-fetches so the calldata is never stale by the time gas is
// funded and the approval mined.
func (p *OpenOceanProvider) Build(ctx context.Context, req *SwapRequest, quote *SwapQuote) (*SwapExecutable, error) {
	resp, gasPrice, err := p.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	buyAmount, ok := new(big.Int).SetString(resp.Data.OutAmount, 10)
	if !ok {
		return nil, fmt.Errorf("openocean returned malformed outAmount %q", resp.Data.OutAmount)
	}
	minBuy, ok := new(big.Int).SetString(resp.Data.MinOutAmount, 10)
	if !ok || minBuy.Sign() == 0 {
		minBuy = applySlippage(buyAmount, req.SlippageBps)
	}

	value := big.NewInt(0)
	if resp.Data.Value != "" {
		if v, ok := new(big.Int).SetString(resp.Data.Value, 10); ok {
			value = v
		}
	}
	gasLimit := resp.Data.EstimatedGas
	if gasLimit == 0 {
		gasLimit = ammSwapGasLimit
	}

	to := common.HexToAddress(resp.Data.To)
	return &SwapExecutable{
		Provider:     p.Name(),
		BuyAmount:    buyAmount,
		MinBuyAmount: minBuy,
		Tx: &chain.TxParams{
			To:       to,
			Value:    value,
			Data:     common.FromHex(resp.Data.Data),
			GasLimit: gasLimit,
			GasPrice: gasPrice,
		},
		ApprovalSpender: &to,
		GasNeeded:       new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit+60000)),
	}, nil
}

// slippagePercent converts basis points to the percent string the API
// expects, e.g. 100 -> "1", 50 -> "0.5".
func slippagePercent(bps int) string {
	if bps <= 0 {
		bps = 100
	}
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}
