package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// PackBalanceOf encodes balanceOf(owner).
func PackBalanceOf(owner common.Address) []byte {
	data, _ := erc20ABI.Pack("balanceOf", owner)
	return data
}

// UnpackBalance decodes a balanceOf return value.
func UnpackBalance(output []byte) (*big.Int, error) {
	if len(output) == 0 {
		return nil, fmt.Errorf("empty balanceOf response")
	}
	values, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", values[0])
	}
	return balance, nil
}

// PackTransfer encodes transfer(to, value).
func PackTransfer(to common.Address, value *big.Int) []byte {
	data, _ := erc20ABI.Pack("transfer", to, value)
	return data
}

// PackApprove encodes approve(spender, value).
func PackApprove(spender common.Address, value *big.Int) []byte {
	data, _ := erc20ABI.Pack("approve", spender, value)
	return data
}

// PackAllowance encodes allowance(owner, spender).
func PackAllowance(owner, spender common.Address) []byte {
	data, _ := erc20ABI.Pack("allowance", owner, spender)
	return data
}

// UnpackAllowance decodes an allowance return value.
func UnpackAllowance(output []byte) (*big.Int, error) {
	if len(output) == 0 {
		return nil, fmt.Errorf("empty allowance response")
	}
	values, err := erc20ABI.Unpack("allowance", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode allowance: %w", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance return type %T", values[0])
	}
	return allowance, nil
}
