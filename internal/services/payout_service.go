package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/clients"
	"offramp-backend/internal/metrics"
	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

// defaultFeeTiers apply when no tiers are configured: a flat fee on
// small payouts, percentage above that.
var defaultFeeTiers = []models.FeeTier{
	{MinAmount: 0, MaxAmount: 20000, FlatFee: 50},
	{MinAmount: 20000, MaxAmount: 0, PercentFee: 0.5},
}

// PayoutCalculation the NGN math for one settlement, kept alongside the
// transaction for audit.
type PayoutCalculation struct {
	SettlementAmount float64 `json:"settlement_amount"`
	ExchangeRate     float64 `json:"exchange_rate"`
	GrossNGN         float64 `json:"gross_ngn"`
	Fee              float64 `json:"fee"`
	NetNGN           float64 `json:"net_ngn"`
}

// PayoutService converts a settled amount to NGN and pushes the bank
// transfer. Dispatch is at-most-once per transaction: each transaction
// claims a single payout reference in the database, every transfer
// submission carries that reference, and the provider treats it as an
// idempotency key.
type PayoutService struct {
	client       *clients.PaystackClient
	settingsRepo repository.SettingsRepository
	txRepo       repository.TransactionRepository
	newReference func() string
}

// NewPayoutService creates a new payout service
func NewPayoutService(client *clients.PaystackClient, settingsRepo repository.SettingsRepository, txRepo repository.TransactionRepository) (*PayoutService, error) {
	gen, err := nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 21)
	if err != nil {
		return nil, fmt.Errorf("failed to init reference generator: %w", err)
	}
	return &PayoutService{
		client:       client,
		settingsRepo: settingsRepo,
		txRepo:       txRepo,
		newReference: func() string { return "po_" + gen() },
	}, nil
}

// Calculate converts a settlement-token amount to a net NGN payout
// using the live rate and fee tiers. The payout must stay positive
// after the fee.
func (s *PayoutService) Calculate(ctx context.Context, settlementAmount float64) (*PayoutCalculation, error) {
	if settlementAmount <= 0 {
		return nil, fmt.Errorf("settlement amount must be positive, got %v", settlementAmount)
	}

	rate, err := s.settingsRepo.GetExchangeRate(ctx)
	if err != nil {
		return nil, err
	}

	tiers, err := s.settingsRepo.GetFeeTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee tiers: %w", err)
	}
	if len(tiers) == 0 {
		tiers = defaultFeeTiers
	}

	gross := round2(settlementAmount * rate)
	fee := round2(feeFor(tiers, gross))
	net := round2(gross - fee)
	if net <= 0 {
		return nil, fmt.Errorf("payout of %.2f NGN does not cover the %.2f NGN fee", gross, fee)
	}

	return &PayoutCalculation{
		SettlementAmount: settlementAmount,
		ExchangeRate:     rate,
		GrossNGN:         gross,
		Fee:              fee,
		NetNGN:           net,
	}, nil
}

// feeFor picks the first tier containing the amount. Tiers arrive
// sorted ascending by min_amount.
func feeFor(tiers []models.FeeTier, gross float64) float64 {
	for _, tier := range tiers {
		if tier.Contains(gross) {
			return tier.FlatFee + gross*tier.PercentFee/100
		}
	}
	return 0
}

// Dispatch sends the bank transfer. The reference is claimed only once
// the provider has accepted the recipient, so a recipient failure leaves
// nothing behind and a clean retry follows. A transaction that already
// carries a reference re-submits the transfer under that same
// reference; the provider deduplicates on it, so the money moves at
// most once even when an earlier attempt died mid-flight.
func (s *PayoutService) Dispatch(ctx context.Context, tx *models.OfframpTransaction, calc *PayoutCalculation) (string, error) {
	recipientCode, err := s.client.CreateRecipient(ctx, tx.BankAccountName, tx.BankAccountNumber, tx.BankCode)
	if err != nil {
		metrics.PayoutsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("failed to create transfer recipient: %w", err)
	}

	reference := tx.PayoutReference
	if reference == "" {
		reference = s.newReference()
		claimed, err := s.txRepo.SetPayoutReference(ctx, tx.ID, reference)
		if err != nil {
			return "", fmt.Errorf("failed to claim payout reference: %w", err)
		}
		if !claimed {
			// A concurrent dispatch got there first; reuse its reference.
			current, err := s.txRepo.GetByID(ctx, tx.ID)
			if err != nil {
				return "", err
			}
			reference = current.PayoutReference
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"reference":      reference,
		}).Info("Re-submitting payout under existing reference")
	}

	amountKobo := int64(math.Round(calc.NetNGN * 100))
	start := time.Now()
	resp, err := s.client.InitiateTransfer(ctx, amountKobo, recipientCode, reference, "offramp settlement")
	if err != nil {
		metrics.PayoutsTotal.WithLabelValues("failed").Inc()
		return reference, fmt.Errorf("failed to initiate transfer: %w", err)
	}

	metrics.PayoutsTotal.WithLabelValues("dispatched").Inc()
	logrus.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"reference":      reference,
		"amount_ngn":     calc.NetNGN,
		"status":         resp.Data.Status,
		"latency":        time.Since(start).String(),
	}).Info("Payout dispatched")
	return reference, nil
}

// round2 rounds to 2 decimal places, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
