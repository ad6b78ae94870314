package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/clients"
)

// ZeroExGaslessProvider layer 1: permit-based swap, no gas funding of
// the ephemeral wallet required.
type ZeroExGaslessProvider struct {
	client  *clients.ZeroExGaslessClient
	chainID int64
}

// NewZeroExGaslessProvider creates the gasless provider layer
func NewZeroExGaslessProvider(client *clients.ZeroExGaslessClient, chainID int64) *ZeroExGaslessProvider {
	return &ZeroExGaslessProvider{client: client, chainID: chainID}
}

func (p *ZeroExGaslessProvider) Name() string { return "0x-gasless" }

func (p *ZeroExGaslessProvider) Quote(ctx context.Context, req *SwapRequest) (*SwapQuote, error) {
	resp, err := p.client.GetQuote(ctx, &clients.GaslessQuoteRequest{
		ChainID:    p.chainID,
		SellToken:  req.SellToken.Hex(),
		BuyToken:   req.BuyToken.Hex(),
		SellAmount: req.SellAmount.String(),
		Taker:      req.Wallet.Hex(),
	})
	if err != nil {
		return nil, err
	}

	buyAmount, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok || buyAmount.Sign() == 0 {
		return nil, clients.ErrNoRoute
	}
	minBuy, ok := new(big.Int).SetString(resp.MinBuyAmount, 10)
	if !ok {
		minBuy = buyAmount
	}
	return &SwapQuote{Provider: p.Name(), BuyAmount: buyAmount, MinBuyAmount: minBuy}, nil
}

func (p *ZeroExGaslessProvider) Build(ctx context.Context, req *SwapRequest, quote *SwapQuote) (*SwapExecutable, error) {
	// Re-quote at build time: the trade payload is short-lived and must
	// be signed promptly after retrieval.
	resp, err := p.client.GetQuote(ctx, &clients.GaslessQuoteRequest{
		ChainID:    p.chainID,
		SellToken:  req.SellToken.Hex(),
		BuyToken:   req.BuyToken.Hex(),
		SellAmount: req.SellAmount.String(),
		Taker:      req.Wallet.Hex(),
	})
	if err != nil {
		return nil, err
	}

	exec := &SwapExecutable{
		Provider:     p.Name(),
		BuyAmount:    quote.BuyAmount,
		MinBuyAmount: quote.MinBuyAmount,
		GasNeeded:    big.NewInt(0),
	}
	exec.SubmitGasless = func(ctx context.Context, key *ecdsa.PrivateKey) (string, error) {
		return p.signAndSubmit(ctx, resp, key)
	}
	return exec, nil
}

func (p *ZeroExGaslessProvider) signAndSubmit(ctx context.Context, quote *clients.GaslessQuoteResponse, key *ecdsa.PrivateKey) (string, error) {
	trade, err := signPayload(quote.Trade.Type, quote.Trade.EIP712, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign trade: %w", err)
	}

	submit := &clients.GaslessSubmitRequest{ChainID: p.chainID, Trade: *trade}
	if quote.Approval != nil {
		approval, err := signPayload(quote.Approval.Type, quote.Approval.EIP712, key)
		if err != nil {
			return "", fmt.Errorf("failed to sign approval: %w", err)
		}
		submit.Approval = approval
	}

	resp, err := p.client.Submit(ctx, submit)
	if err != nil {
		return "", err
	}

	return p.waitSettled(ctx, resp.TradeHash)
}

// waitSettled polls the provider until the relayed trade confirms.
func (p *ZeroExGaslessProvider) waitSettled(ctx context.Context, tradeHash string) (string, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(2 * time.Minute)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := p.client.GetStatus(ctx, p.chainID, tradeHash)
		if err != nil {
			continue
		}
		switch status.Status {
		case "confirmed":
			if len(status.Transactions) > 0 {
				return status.Transactions[0].Hash, nil
			}
			return "", fmt.Errorf("gasless trade %s confirmed without a transaction hash", tradeHash)
		case "failed":
			return "", fmt.Errorf("gasless trade %s failed: %s", tradeHash, status.Reason)
		}
	}
	return "", fmt.Errorf("gasless trade %s not settled before deadline", tradeHash)
}

// signPayload signs one EIP-712 object from a gasless quote.
func signPayload(payloadType string, raw json.RawMessage, key *ecdsa.PrivateKey) (*clients.GaslessSignedPayload, error) {
	var typedData apitypes.TypedData
	if err := json.Unmarshal(raw, &typedData); err != nil {
		return nil, fmt.Errorf("invalid EIP-712 payload: %w", err)
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash EIP-712 payload: %w", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}

	signed := &clients.GaslessSignedPayload{Type: payloadType, EIP712: raw}
	signed.Signature.R = "0x" + common.Bytes2Hex(sig[:32])
	signed.Signature.S = "0x" + common.Bytes2Hex(sig[32:64])
	signed.Signature.V = int(sig[64]) + 27
	signed.Signature.SignatureType = 2 // EIP-712
	return signed, nil
}

// ZeroExSwapProvider layer 2: traditional aggregator swap executed by
// the wallet itself (approval + gas required).
type ZeroExSwapProvider struct {
	client  *clients.ZeroExSwapClient
	chainID int64
}

// NewZeroExSwapProvider creates the on-chain aggregator layer
func NewZeroExSwapProvider(client *clients.ZeroExSwapClient, chainID int64) *ZeroExSwapProvider {
	return &ZeroExSwapProvider{client: client, chainID: chainID}
}

func (p *ZeroExSwapProvider) Name() string { return "0x-swap" }

func (p *ZeroExSwapProvider) Quote(ctx context.Context, req *SwapRequest) (*SwapQuote, error) {
	resp, err := p.getQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	buyAmount, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok || buyAmount.Sign() == 0 {
		return nil, clients.ErrNoRoute
	}
	minBuy, ok := new(big.Int).SetString(resp.MinBuyAmount, 10)
	if !ok {
		minBuy = buyAmount
	}
	return &SwapQuote{Provider: p.Name(), BuyAmount: buyAmount, MinBuyAmount: minBuy}, nil
}

func (p *ZeroExSwapProvider) Build(ctx context.Context, req *SwapRequest, quote *SwapQuote) (*SwapExecutable, error) {
	resp, err := p.getQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Transaction.To == "" {
		return nil, clients.ErrNoRoute
	}

	gasLimit, _ := new(big.Int).SetString(resp.Transaction.Gas, 10)
	gasPrice, _ := new(big.Int).SetString(resp.Transaction.GasPrice, 10)
	value, _ := new(big.Int).SetString(resp.Transaction.Value, 10)
	if gasLimit == nil {
		gasLimit = big.NewInt(500000)
	}

	exec := &SwapExecutable{
		Provider:     p.Name(),
		BuyAmount:    quote.BuyAmount,
		MinBuyAmount: quote.MinBuyAmount,
		Tx: &chain.TxParams{
			To:       common.HexToAddress(resp.Transaction.To),
			Value:    value,
			Data:     common.FromHex(resp.Transaction.Data),
			GasLimit: gasLimit.Uint64(),
		},
	}
	if resp.Issues.Allowance != nil {
		spender := common.HexToAddress(resp.Issues.Allowance.Spender)
		exec.ApprovalSpender = &spender
	}
	if gasPrice != nil {
		exec.Tx.GasPrice = gasPrice
		// approval + swap, both at the quoted gas price
		exec.GasNeeded = new(big.Int).Mul(gasPrice, new(big.Int).Add(gasLimit, big.NewInt(60000)))
	}
	return exec, nil
}

func (p *ZeroExSwapProvider) getQuote(ctx context.Context, req *SwapRequest) (*clients.SwapQuoteResponse, error) {
	return p.client.GetQuote(ctx, &clients.SwapQuoteRequest{
		ChainID:     p.chainID,
		SellToken:   req.SellToken.Hex(),
		BuyToken:    req.BuyToken.Hex(),
		SellAmount:  req.SellAmount.String(),
		Taker:       req.Wallet.Hex(),
		SlippageBps: req.SlippageBps,
	})
}
