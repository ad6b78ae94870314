package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend in-memory chain backend. Every broadcast succeeds and
// mines instantly.
type fakeBackend struct {
	mu            sync.Mutex
	chainID       *big.Int
	native        map[common.Address]*big.Int
	tokens        map[common.Address]map[common.Address]*big.Int
	tokenErrs     map[common.Address]error
	nativeErr     error
	nonces        map[common.Address]uint64
	sent          []*types.Transaction
	senders       []common.Address
	callOverrides map[common.Address][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:       big.NewInt(56),
		native:        map[common.Address]*big.Int{},
		tokens:        map[common.Address]map[common.Address]*big.Int{},
		tokenErrs:     map[common.Address]error{},
		nonces:        map[common.Address]uint64{},
		callOverrides: map[common.Address][]byte{},
	}
}

func (b *fakeBackend) setToken(token, owner common.Address, amount *big.Int) {
	if b.tokens[token] == nil {
		b.tokens[token] = map[common.Address]*big.Int{}
	}
	b.tokens[token][owner] = amount
}

func (b *fakeBackend) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

func (b *fakeBackend) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nativeErr != nil {
		return nil, b.nativeErr
	}
	if bal, ok := b.native[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (b *fakeBackend) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.tokenErrs[token]; err != nil {
		return nil, err
	}
	if owners, ok := b.tokens[token]; ok {
		if bal, ok := owners[owner]; ok {
			return new(big.Int).Set(bal), nil
		}
	}
	return big.NewInt(0), nil
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.To != nil {
		if out, ok := b.callOverrides[*msg.To]; ok {
			return out, nil
		}
	}
	return make([]byte, 32), nil
}

func (b *fakeBackend) GasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[addr], nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	sender, err := types.Sender(types.NewEIP155Signer(b.chainID), tx)
	if err != nil {
		return fmt.Errorf("unsignable transaction: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.senders = append(b.senders, sender)
	b.nonces[sender]++
	return nil
}

func (b *fakeBackend) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}
