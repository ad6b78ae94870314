package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/events"
	"offramp-backend/internal/metrics"
	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
	"offramp-backend/internal/utils"
)

var (
	// ErrNotOwner the caller does not own the transaction.
	ErrNotOwner = errors.New("transaction does not belong to caller")
	// ErrAlreadyCompleted the transaction already paid out.
	ErrAlreadyCompleted = errors.New("transaction already completed")
	// ErrAlreadyProcessing another settlement run holds the transaction.
	ErrAlreadyProcessing = errors.New("transaction is already being processed")
	// ErrNoDeposit the deposit wallet is still empty.
	ErrNoDeposit = errors.New("no deposit detected")
)

// DepositScanner enumerates the balances sitting in a deposit wallet.
type DepositScanner interface {
	Scan(ctx context.Context, address common.Address) ([]models.DetectedAsset, error)
}

// WalletEmptier drains one deposit wallet.
type WalletEmptier interface {
	Empty(ctx context.Context, tx *models.OfframpTransaction) (*EmptyResult, error)
}

// PayoutProcessor converts and dispatches one payout.
type PayoutProcessor interface {
	Calculate(ctx context.Context, settlementAmount float64) (*PayoutCalculation, error)
	Dispatch(ctx context.Context, tx *models.OfframpTransaction, calc *PayoutCalculation) (string, error)
}

// SettlementService orchestrates one transaction end to end: record
// the detected deposit, claim, drain the wallet, then pay out. Mutual
// exclusion between the periodic sweep and a user-triggered run is a
// conditional status update, not a lock; the loser simply backs off.
type SettlementService struct {
	txRepo    repository.TransactionRepository
	scanner   DepositScanner
	emptier   WalletEmptier
	payout    PayoutProcessor
	publisher *events.Publisher
	decimals  int // settlement token decimals
}

// NewSettlementService creates a new settlement orchestrator
func NewSettlementService(
	txRepo repository.TransactionRepository,
	scanner DepositScanner,
	emptier WalletEmptier,
	payout PayoutProcessor,
	publisher *events.Publisher,
	settlementDecimals int,
) *SettlementService {
	return &SettlementService{
		txRepo:    txRepo,
		scanner:   scanner,
		emptier:   emptier,
		payout:    payout,
		publisher: publisher,
		decimals:  settlementDecimals,
	}
}

// Settle runs the full settlement for one transaction. identity is the
// caller's user id or email; the scheduler passes "" to skip the
// ownership check. Safe to call repeatedly: completed transactions are
// rejected, in-flight ones lose the claim, and a transaction whose
// funds already reached the treasury resumes at the payout stage.
func (s *SettlementService) Settle(ctx context.Context, txID, identity string) (*models.OfframpTransaction, error) {
	tx, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("transaction not found: %w", err)
	}
	if identity != "" && !tx.OwnedBy(identity) {
		return nil, ErrNotOwner
	}
	if tx.Status.IsTerminal() {
		return tx, ErrAlreadyCompleted
	}

	start := time.Now()

	// Funds already swept in a previous run: go straight to the payout.
	if tx.Status == models.StatusUSDCReceived || tx.Status == models.StatusPaying {
		return s.runPayout(ctx, tx, start)
	}

	// Detection is recorded before any swap work so the asset list
	// survives a swap failure.
	if tx.Status == models.StatusPending || tx.Status == models.StatusFailed {
		tx, err = s.recordDetection(ctx, tx)
		if err != nil {
			return nil, err
		}
	}

	claimed, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusTokenReceived}, models.StatusSwapping, nil)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return tx, ErrAlreadyProcessing
	}
	s.publish(tx, models.StatusSwapping, tx.Status)

	result, err := s.emptier.Empty(ctx, tx)
	if err != nil {
		s.fail(ctx, tx, models.StatusSwapping, err)
		return nil, err
	}

	if result.TokensFound == 0 {
		// The funds moved between detection and the drain. Roll back
		// the claim and the stale asset record so the next deposit gets
		// picked up.
		if _, err := s.txRepo.TransitionStatus(ctx, tx.ID,
			[]models.TransactionStatus{models.StatusSwapping}, models.StatusPending, map[string]interface{}{
				"detected_assets": models.AssetList{},
			}); err != nil {
			logrus.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to roll back empty-wallet claim")
		}
		metrics.SettlementsTotal.WithLabelValues("no_deposit").Inc()
		return tx, ErrNoDeposit
	}

	if result.TotalSettlementReceived.Sign() == 0 {
		err := fmt.Errorf("nothing settled: %s", strings.Join(result.Errors, "; "))
		s.fail(ctx, tx, models.StatusSwapping, err)
		return nil, err
	}

	settlementAmount := utils.FormatUnits(result.TotalSettlementReceived, s.decimals)
	now := time.Now()
	fields := map[string]interface{}{
		"detected_assets":        models.AssetList(result.DetectedAssets),
		"settlement_amount":      settlementAmount,
		"sweep_tx_hashes":        models.StringList(append(result.SwapTxHashes, result.SweepTxHash)),
		"settlement_received_at": now,
		"last_error":             strings.Join(result.Errors, "; "),
	}
	if tx.TokenReceivedAt == nil {
		fields["token_received_at"] = now
	}
	if _, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusSwapping}, models.StatusUSDCReceived, fields); err != nil {
		return nil, err
	}
	s.publish(tx, models.StatusUSDCReceived, models.StatusSwapping)

	tx, err = s.txRepo.GetByID(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return s.runPayout(ctx, tx, start)
}

// recordDetection scans the deposit wallet and, if anything arrived,
// moves the transaction to token_received with the assets on record.
// Nothing found leaves the status untouched and returns ErrNoDeposit.
func (s *SettlementService) recordDetection(ctx context.Context, tx *models.OfframpTransaction) (*models.OfframpTransaction, error) {
	assets, err := s.scanner.Scan(ctx, common.HexToAddress(tx.DepositAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to scan deposit wallet: %w", err)
	}
	if len(assets) == 0 {
		metrics.SettlementsTotal.WithLabelValues("no_deposit").Inc()
		return nil, ErrNoDeposit
	}

	fields := map[string]interface{}{
		"detected_assets": models.AssetList(assets),
	}
	if tx.TokenReceivedAt == nil {
		fields["token_received_at"] = time.Now()
	}
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusPending, models.StatusFailed},
		models.StatusTokenReceived, fields)
	if err != nil {
		return nil, err
	}
	if ok {
		s.publish(tx, models.StatusTokenReceived, tx.Status)
	}
	// A concurrent run may have advanced the row first; the swap claim
	// below decides who proceeds either way.
	return s.txRepo.GetByID(ctx, tx.ID)
}

// runPayout converts the settled amount and dispatches the transfer.
// The funds already sit in the treasury here, so any failure parks the
// transaction back at usdc_received where a later run can retry the
// payout without touching the chain again.
func (s *SettlementService) runPayout(ctx context.Context, tx *models.OfframpTransaction, start time.Time) (*models.OfframpTransaction, error) {
	if tx.Status == models.StatusUSDCReceived {
		claimed, err := s.txRepo.TransitionStatus(ctx, tx.ID,
			[]models.TransactionStatus{models.StatusUSDCReceived}, models.StatusPaying, nil)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return tx, ErrAlreadyProcessing
		}
		s.publish(tx, models.StatusPaying, models.StatusUSDCReceived)
	}

	settlementAmount, err := strconv.ParseFloat(tx.SettlementAmount, 64)
	if err != nil {
		parkErr := fmt.Errorf("invalid settlement amount %q: %w", tx.SettlementAmount, err)
		s.parkPayout(ctx, tx, parkErr)
		return nil, parkErr
	}

	calc, err := s.payout.Calculate(ctx, settlementAmount)
	if err != nil {
		s.parkPayout(ctx, tx, err)
		return nil, err
	}

	reference, err := s.payout.Dispatch(ctx, tx, calc)
	if err != nil {
		s.parkPayout(ctx, tx, err)
		return nil, err
	}

	now := time.Now()
	if _, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusPaying}, models.StatusCompleted, map[string]interface{}{
			"ngn_amount":    calc.NetNGN,
			"exchange_rate": calc.ExchangeRate,
			"fee_charged":   calc.Fee,
			"completed_at":  now,
			"last_error":    "",
		}); err != nil {
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("completed").Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	s.publisher.PublishStatusChange(events.StatusEvent{
		TransactionID:    tx.ID,
		Status:           models.StatusCompleted,
		PreviousStatus:   models.StatusPaying,
		SettlementAmount: tx.SettlementAmount,
		NGNAmount:        calc.NetNGN,
	})
	logrus.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"reference":      reference,
		"ngn_amount":     calc.NetNGN,
	}).Info("Settlement completed")

	return s.txRepo.GetByID(ctx, tx.ID)
}

// parkPayout returns a transaction from paying to usdc_received after a
// payout-stage failure. The settled funds are safe, only the transfer
// needs retrying.
func (s *SettlementService) parkPayout(ctx context.Context, tx *models.OfframpTransaction, cause error) {
	if _, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusPaying}, models.StatusUSDCReceived, map[string]interface{}{
			"last_error": cause.Error(),
		}); err != nil {
		logrus.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to park payout for retry")
		return
	}
	metrics.SettlementsTotal.WithLabelValues("payout_deferred").Inc()
	s.publish(tx, models.StatusUSDCReceived, models.StatusPaying)
	logrus.WithError(cause).WithField("transaction_id", tx.ID).Warn("Payout deferred, funds remain at treasury")
}

func (s *SettlementService) fail(ctx context.Context, tx *models.OfframpTransaction, from models.TransactionStatus, cause error) {
	if _, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{from}, models.StatusFailed, map[string]interface{}{
			"last_error": cause.Error(),
		}); err != nil {
		logrus.WithError(err).WithField("transaction_id", tx.ID).Error("Failed to record settlement failure")
		return
	}
	metrics.SettlementsTotal.WithLabelValues("failed").Inc()
	s.publish(tx, models.StatusFailed, from)
}

// Retry moves a failed transaction back to pending so the sweep picks
// it up again.
func (s *SettlementService) Retry(ctx context.Context, txID, identity string) error {
	tx, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return fmt.Errorf("transaction not found: %w", err)
	}
	if identity != "" && !tx.OwnedBy(identity) {
		return ErrNotOwner
	}
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusFailed}, models.StatusPending, map[string]interface{}{
			"last_error": "",
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("transaction %s is not in a failed state", txID)
	}
	s.publish(tx, models.StatusPending, models.StatusFailed)
	return nil
}

// CancelPending marks the caller's pending, deposit-free transactions
// failed. Wallets that already hold funds cannot be cancelled; those
// settle or fail on their own path.
func (s *SettlementService) CancelPending(ctx context.Context, identity string) (int, error) {
	txs, err := s.txRepo.FindByOwner(ctx, identity, []models.TransactionStatus{models.StatusPending})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, tx := range txs {
		if len(tx.DetectedAssets) > 0 {
			continue
		}
		ok, err := s.txRepo.TransitionStatus(ctx, tx.ID,
			[]models.TransactionStatus{models.StatusPending}, models.StatusFailed, map[string]interface{}{
				"last_error": "cancelled by user",
			})
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
			s.publish(tx, models.StatusFailed, models.StatusPending)
		}
	}
	return cancelled, nil
}

func (s *SettlementService) publish(tx *models.OfframpTransaction, to, from models.TransactionStatus) {
	s.publisher.PublishStatusChange(events.StatusEvent{
		TransactionID:  tx.ID,
		Status:         to,
		PreviousStatus: from,
	})
}
