package services

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/config"
	"offramp-backend/internal/metrics"
	"offramp-backend/internal/models"
	"offramp-backend/internal/utils"
)

// WalletScannerService enumerates balances on a deposit wallet. Users
// send arbitrary assets, so the scan covers the native asset plus the
// configured candidate token list rather than relying on event history.
type WalletScannerService struct {
	backend chain.Backend
	cfg     *config.ChainConfig
}

// NewWalletScannerService creates a new wallet scanner
func NewWalletScannerService(backend chain.Backend, cfg *config.ChainConfig) *WalletScannerService {
	return &WalletScannerService{backend: backend, cfg: cfg}
}

// Scan returns every non-zero balance found on address. A failed lookup
// on one token is logged and skipped so a flaky RPC or one bad token
// contract cannot hide funds sitting in the others.
func (s *WalletScannerService) Scan(ctx context.Context, address common.Address) ([]models.DetectedAsset, error) {
	var assets []models.DetectedAsset
	var firstErr error

	native, err := s.backend.NativeBalance(ctx, address)
	if err != nil {
		firstErr = err
		metrics.ScanErrorsTotal.Inc()
		logrus.WithError(err).WithField("wallet", address.Hex()).Warn("Failed to read native balance")
	} else if native.Sign() > 0 {
		assets = append(assets, models.DetectedAsset{
			Symbol:    s.cfg.NativeSymbol,
			Amount:    utils.FormatUnits(native, s.cfg.NativeDecimals),
			RawAmount: native.String(),
			Decimals:  s.cfg.NativeDecimals,
		})
	}

	tokens := append([]config.TokenConfig{s.cfg.SettlementToken}, s.cfg.Tokens...)
	seen := map[string]bool{}
	for _, token := range tokens {
		key := utils.NormalizeAddress(token.Address)
		if token.Address == "" || seen[key] {
			continue
		}
		seen[key] = true

		balance, err := s.backend.TokenBalance(ctx, common.HexToAddress(token.Address), address)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			metrics.ScanErrorsTotal.Inc()
			logrus.WithError(err).WithFields(logrus.Fields{
				"wallet": address.Hex(),
				"token":  token.Symbol,
			}).Warn("Failed to read token balance")
			continue
		}
		if balance.Sign() == 0 {
			continue
		}
		assets = append(assets, models.DetectedAsset{
			TokenAddress: token.Address,
			Symbol:       token.Symbol,
			Amount:       utils.FormatUnits(balance, token.Decimals),
			RawAmount:    balance.String(),
			Decimals:     token.Decimals,
		})
	}

	if len(assets) == 0 && firstErr != nil {
		// Nothing found and at least one lookup failed: report rather
		// than treating the wallet as empty.
		return nil, fmt.Errorf("wallet scan produced no results: %w", firstErr)
	}
	return assets, nil
}
