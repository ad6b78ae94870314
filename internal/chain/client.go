// Package chain wraps the RPC client for the settlement network: balance
// reads, gas pricing, transaction broadcast and confirmation waiting.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"offramp-backend/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Backend is the chain access surface the settlement services depend on.
// *Client implements it against a live RPC node; tests substitute fakes.
type Backend interface {
	ChainID() *big.Int
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client Backend implementation over go-ethereum's ethclient.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	gasPrice       string // configured override, "auto" or empty = suggest
	confirmTimeout time.Duration
}

// Dial connects to the first healthy RPC endpoint and verifies the chain id.
func Dial(cfg config.ChainConfig) (*Client, error) {
	var lastErr error
	for _, endpoint := range cfg.RPCEndpoints {
		eth, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		networkID, err := eth.ChainID(ctx)
		cancel()
		if err != nil {
			eth.Close()
			lastErr = err
			continue
		}
		if cfg.ChainID > 0 && networkID.Int64() != cfg.ChainID {
			eth.Close()
			lastErr = fmt.Errorf("chain id mismatch on %s: expected %d, got %s", endpoint, cfg.ChainID, networkID)
			continue
		}

		logrus.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"chain_id": networkID.String(),
		}).Info("connected to RPC endpoint")

		return &Client{
			eth:            eth,
			chainID:        networkID,
			gasPrice:       cfg.GasPrice,
			confirmTimeout: time.Duration(cfg.ConfirmTimeout) * time.Second,
		}, nil
	}
	return nil, fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// ChainID returns the connected network's chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// NativeBalance returns the gas-asset balance of an address.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query native balance: %w", err)
	}
	return balance, nil
}

// TokenBalance returns the ERC-20 balance of owner for token.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: PackBalanceOf(owner),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed for %s: %w", token.Hex(), err)
	}
	return UnpackBalance(output)
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// GasPrice returns the configured gas price, or the node's suggestion
// with a 20% bump so broadcasts do not sit underpriced in the pool.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if c.gasPrice != "" && c.gasPrice != "auto" {
		price, ok := new(big.Int).SetString(c.gasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid configured gas price %q", c.gasPrice)
		}
		return price, nil
	}

	suggested, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggested gas price: %w", err)
	}
	bumped := new(big.Int).Mul(suggested, big.NewInt(120))
	return bumped.Div(bumped, big.NewInt(100)), nil
}

// PendingNonceAt returns the next nonce for an address.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}

// EstimateGas estimates gas for a call and doubles it as headroom.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gasLimit, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gasLimit * 2, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// WaitMined waits for a receipt: a short direct wait first, then 10s
// polling until the confirmation timeout. There is no way to cancel a
// broadcast transaction, so a timeout here is a retryable error, not a
// verdict on the transaction itself.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.confirmTimeout)

	firstCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	receipt, err := c.pollReceipt(firstCtx, txHash, 3*time.Second)
	cancel()
	if err == nil {
		return receipt, nil
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			receipt, err := c.eth.TransactionReceipt(queryCtx, txHash)
			cancel()
			if err == nil && receipt != nil {
				return receipt, nil
			}
		}
	}

	return nil, fmt.Errorf("confirmation timeout after %v for tx %s", c.confirmTimeout, txHash.Hex())
}

func (c *Client) pollReceipt(ctx context.Context, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
