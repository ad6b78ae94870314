package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/config"
	"offramp-backend/internal/models"
	"offramp-backend/internal/utils"
	"offramp-backend/internal/wallet"
)

const nativeTransferGas = 21000

// EmptyResult what leaving a deposit wallet behind produced.
type EmptyResult struct {
	DetectedAssets          []models.DetectedAsset
	TokensFound             int
	TokensSwapped           int
	TotalSettlementReceived *big.Int // settlement token base units swept to treasury
	GasAssetRecovered       *big.Int // native wei returned to treasury
	SwapTxHashes            []string
	SweepTxHash             string
	Errors                  []string
}

// WalletEmptierService drains a deposit wallet: swaps every detected
// token into the settlement token, sweeps the settlement token to the
// treasury and recovers leftover gas. Each step is independently
// idempotent, so a crashed run can simply be repeated.
type WalletEmptierService struct {
	backend      chain.Backend
	deriver      *wallet.Deriver
	scanner      *WalletScannerService
	router       *SwapRouterService
	chainCfg     *config.ChainConfig
	slippageBps  int
	treasuryKey  *ecdsa.PrivateKey
	treasuryAddr common.Address
}

// NewWalletEmptierService creates a new wallet emptier
func NewWalletEmptierService(
	backend chain.Backend,
	deriver *wallet.Deriver,
	scanner *WalletScannerService,
	router *SwapRouterService,
	cfg *config.Config,
) (*WalletEmptierService, error) {
	treasuryKey, err := crypto.HexToECDSA(strip0x(cfg.Custody.TreasuryPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid treasury private key: %w", err)
	}
	return &WalletEmptierService{
		backend:      backend,
		deriver:      deriver,
		scanner:      scanner,
		router:       router,
		chainCfg:     &cfg.Chain,
		slippageBps:  cfg.Swap.SlippageBps,
		treasuryKey:  treasuryKey,
		treasuryAddr: common.HexToAddress(cfg.Custody.TreasuryAddress),
	}, nil
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// Empty drains the transaction's deposit wallet. An already-empty
// wallet returns a zero result with no error. Per-token swap failures
// are collected in the result so one bad token does not strand the
// rest; the returned error is reserved for faults that stop the whole
// drain (key access, scanning, the settlement sweep itself).
func (s *WalletEmptierService) Empty(ctx context.Context, tx *models.OfframpTransaction) (*EmptyResult, error) {
	secret, err := s.deriver.Open(tx.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open deposit wallet key: %w", err)
	}
	defer secret.Zero()

	walletAddr := common.HexToAddress(tx.DepositAddress)
	result := &EmptyResult{
		TotalSettlementReceived: big.NewInt(0),
		GasAssetRecovered:       big.NewInt(0),
	}

	assets, err := s.scanner.Scan(ctx, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deposit wallet: %w", err)
	}
	result.DetectedAssets = assets
	result.TokensFound = len(assets)
	if len(assets) == 0 {
		return result, nil
	}

	settlement := common.HexToAddress(s.chainCfg.SettlementToken.Address)
	for _, asset := range assets {
		if asset.IsNative() {
			continue // recovered after the sweep
		}
		if utils.SameAddress(asset.TokenAddress, s.chainCfg.SettlementToken.Address) {
			continue // swept directly, no swap needed
		}
		token := common.HexToAddress(asset.TokenAddress)

		amount, ok := new(big.Int).SetString(asset.RawAmount, 10)
		if !ok || amount.Sign() == 0 {
			continue
		}

		swap, err := s.router.Execute(ctx, tx.ID, &SwapRequest{
			SellToken:   token,
			BuyToken:    settlement,
			SellAmount:  amount,
			Wallet:      walletAddr,
			SlippageBps: s.slippageBps,
		}, func(ctx context.Context, exec *SwapExecutable) (string, error) {
			return s.runSwap(ctx, walletAddr, secret.ECDSA(), token, amount, exec)
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"transaction_id": tx.ID,
				"token":          asset.Symbol,
			}).Error("Failed to swap token")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", asset.Symbol, err))
			continue
		}
		result.TokensSwapped++
		result.SwapTxHashes = append(result.SwapTxHashes, swap.TxHash)
	}

	if err := s.sweepSettlement(ctx, walletAddr, secret.ECDSA(), result); err != nil {
		return result, err
	}

	if recovered, err := s.recoverGas(ctx, walletAddr, secret.ECDSA()); err != nil {
		// Dust recovery failing is not worth failing the settlement over.
		logrus.WithError(err).WithField("transaction_id", tx.ID).Warn("Failed to recover gas asset")
		result.Errors = append(result.Errors, fmt.Sprintf("gas recovery: %v", err))
	} else {
		result.GasAssetRecovered = recovered
	}

	return result, nil
}

// runSwap lands one built swap from the deposit wallet: gas funding,
// approval if the venue needs one, then the swap itself.
func (s *WalletEmptierService) runSwap(ctx context.Context, walletAddr common.Address, key *ecdsa.PrivateKey, token common.Address, amount *big.Int, exec *SwapExecutable) (string, error) {
	if exec.SubmitGasless != nil {
		// The relayer pays; approval rides inside the signed payload.
		return exec.SubmitGasless(ctx, key)
	}
	if exec.Tx == nil {
		return "", fmt.Errorf("provider %s returned no executable transaction", exec.Provider)
	}

	if exec.GasNeeded != nil {
		if err := s.ensureGas(ctx, walletAddr, exec.GasNeeded); err != nil {
			return "", err
		}
	}

	if exec.ApprovalSpender != nil {
		if err := s.ensureAllowance(ctx, walletAddr, key, token, *exec.ApprovalSpender, amount); err != nil {
			return "", err
		}
	}

	signed, err := chain.SignAndSend(ctx, s.backend, key, *exec.Tx)
	if err != nil {
		return "", err
	}
	receipt, err := s.backend.WaitMined(ctx, signed.Hash())
	if err != nil {
		return signed.Hash().Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash().Hex(), fmt.Errorf("swap transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

// ensureGas tops the wallet up from the treasury so it can pay for the
// next transaction. Funding only covers the shortfall; anything unspent
// comes back during gas recovery.
func (s *WalletEmptierService) ensureGas(ctx context.Context, walletAddr common.Address, needed *big.Int) error {
	balance, err := s.backend.NativeBalance(ctx, walletAddr)
	if err != nil {
		return fmt.Errorf("failed to check wallet gas balance: %w", err)
	}
	if balance.Cmp(needed) >= 0 {
		return nil
	}

	shortfall := new(big.Int).Sub(needed, balance)
	logrus.WithFields(logrus.Fields{
		"wallet": walletAddr.Hex(),
		"amount": shortfall.String(),
	}).Info("Funding deposit wallet with gas")

	signed, err := chain.SignAndSend(ctx, s.backend, s.treasuryKey, chain.TxParams{
		To:       walletAddr,
		Value:    shortfall,
		GasLimit: nativeTransferGas,
	})
	if err != nil {
		return fmt.Errorf("failed to fund gas: %w", err)
	}
	receipt, err := s.backend.WaitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("gas funding not confirmed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("gas funding transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (s *WalletEmptierService) ensureAllowance(ctx context.Context, walletAddr common.Address, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) error {
	output, err := s.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: chain.PackAllowance(walletAddr, spender),
	})
	if err != nil {
		return fmt.Errorf("allowance check failed: %w", err)
	}
	allowance, err := chain.UnpackAllowance(output)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	// Exact approval. The wallet is single-use, so there is nothing to
	// save by granting more.
	gasPrice, err := s.backend.GasPrice(ctx)
	if err != nil {
		return err
	}
	signed, err := chain.SignAndSend(ctx, s.backend, key, chain.TxParams{
		To:       token,
		Data:     chain.PackApprove(spender, amount),
		GasLimit: 80000,
		GasPrice: gasPrice,
	})
	if err != nil {
		return fmt.Errorf("failed to approve %s: %w", spender.Hex(), err)
	}
	receipt, err := s.backend.WaitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("approval not confirmed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("approval transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}

// sweepSettlement moves the wallet's whole settlement-token balance to
// the treasury. The balance is read after the swaps so it captures both
// swap proceeds and any settlement token the user deposited directly.
func (s *WalletEmptierService) sweepSettlement(ctx context.Context, walletAddr common.Address, key *ecdsa.PrivateKey, result *EmptyResult) error {
	settlement := common.HexToAddress(s.chainCfg.SettlementToken.Address)
	balance, err := s.backend.TokenBalance(ctx, settlement, walletAddr)
	if err != nil {
		return fmt.Errorf("failed to read settlement balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil
	}

	gasPrice, err := s.backend.GasPrice(ctx)
	if err != nil {
		return err
	}
	transferGas := uint64(80000)
	gasNeeded := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(transferGas))
	if err := s.ensureGas(ctx, walletAddr, gasNeeded); err != nil {
		return err
	}

	signed, err := chain.SignAndSend(ctx, s.backend, key, chain.TxParams{
		To:       settlement,
		Data:     chain.PackTransfer(s.treasuryAddr, balance),
		GasLimit: transferGas,
		GasPrice: gasPrice,
	})
	if err != nil {
		return fmt.Errorf("failed to sweep settlement token: %w", err)
	}
	receipt, err := s.backend.WaitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("settlement sweep not confirmed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("settlement sweep %s reverted", signed.Hash().Hex())
	}

	result.TotalSettlementReceived = balance
	result.SweepTxHash = signed.Hash().Hex()
	logrus.WithFields(logrus.Fields{
		"wallet": walletAddr.Hex(),
		"amount": utils.FormatUnits(balance, s.chainCfg.SettlementToken.Decimals),
	}).Info("Settlement token swept to treasury")
	return nil
}

// recoverGas returns whatever native balance exceeds the cost of the
// transfer itself. The send amount can never go negative.
func (s *WalletEmptierService) recoverGas(ctx context.Context, walletAddr common.Address, key *ecdsa.PrivateKey) (*big.Int, error) {
	balance, err := s.backend.NativeBalance(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.backend.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	cost := new(big.Int).Mul(gasPrice, big.NewInt(nativeTransferGas))
	recoverable := new(big.Int).Sub(balance, cost)
	if recoverable.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	signed, err := chain.SignAndSend(ctx, s.backend, key, chain.TxParams{
		To:       s.treasuryAddr,
		Value:    recoverable,
		GasLimit: nativeTransferGas,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.backend.WaitMined(ctx, signed.Hash()); err != nil {
		return nil, err
	}
	return recoverable, nil
}
