package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxParams inputs for building a legacy transaction.
type TxParams struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64   // 0 = estimate against the backend
	GasPrice *big.Int // nil = query the backend
}

// SignAndSend builds, signs (EIP-155) and broadcasts a transaction from
// the key's address, returning the signed transaction.
func SignAndSend(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, params TxParams) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := params.GasPrice
	if gasPrice == nil {
		gasPrice, err = backend.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	value := params.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		gasLimit, err = backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &params.To,
			Value: value,
			Data:  params.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &params.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     params.Data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(backend.ChainID()), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}
