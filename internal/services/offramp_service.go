package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
	"offramp-backend/internal/wallet"
)

// CreateTransactionInput the verified inputs for a new off-ramp request.
// Bank details arrive already verified by the caller's KYC flow.
type CreateTransactionInput struct {
	UserID            string
	UserEmail         string
	BankAccountNumber string
	BankCode          string
	BankAccountName   string
}

// OfframpService owns the transaction ledger surface: creation with a
// fresh deposit wallet, and owner-scoped reads.
type OfframpService struct {
	txRepo       repository.TransactionRepository
	attemptRepo  repository.SwapAttemptRepository
	deriver      *wallet.Deriver
	abandonAfter time.Duration
}

// NewOfframpService creates a new offramp service
func NewOfframpService(txRepo repository.TransactionRepository, attemptRepo repository.SwapAttemptRepository, deriver *wallet.Deriver, abandonAfter time.Duration) *OfframpService {
	return &OfframpService{txRepo: txRepo, attemptRepo: attemptRepo, deriver: deriver, abandonAfter: abandonAfter}
}

// CreateTransaction reserves a deposit address for a new off-ramp
// request. The address is derived from the transaction id, so an id
// collision on the unique address index just means drawing a new id.
func (s *OfframpService) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*models.OfframpTransaction, error) {
	if input.BankAccountNumber == "" || input.BankCode == "" || input.BankAccountName == "" {
		return nil, fmt.Errorf("bank account number, bank code and account name are required")
	}
	if input.UserID == "" && input.UserEmail == "" {
		return nil, fmt.Errorf("an owner identity is required")
	}

	for attempt := 0; attempt < 3; attempt++ {
		id := uuid.New().String()
		depositWallet, err := s.deriver.Derive(id)
		if err != nil {
			return nil, fmt.Errorf("failed to derive deposit wallet: %w", err)
		}

		tx := &models.OfframpTransaction{
			ID:                  id,
			UserID:              input.UserID,
			UserEmail:           input.UserEmail,
			BankAccountNumber:   input.BankAccountNumber,
			BankCode:            input.BankCode,
			BankAccountName:     input.BankAccountName,
			DepositAddress:      depositWallet.Address,
			EncryptedPrivateKey: depositWallet.EncryptedPrivateKey,
			Status:              models.StatusPending,
		}

		err = s.txRepo.Create(ctx, tx)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"transaction_id":  tx.ID,
				"deposit_address": tx.DepositAddress,
			}).Info("Off-ramp transaction created")
			return tx, nil
		}
		if errors.Is(err, repository.ErrDuplicateDepositAddress) {
			logrus.WithField("transaction_id", id).Warn("Deposit address collision, redrawing id")
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to reserve a unique deposit address")
}

// GetTransaction returns a transaction the identity owns.
func (s *OfframpService) GetTransaction(ctx context.Context, id, identity string) (*models.OfframpTransaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if identity != "" && !tx.OwnedBy(identity) {
		return nil, ErrNotOwner
	}
	return tx, nil
}

// ListTransactions returns the identity's transactions, newest first.
// With activeOnly set, pending transactions past the abandonment window
// with nothing detected are left out.
func (s *OfframpService) ListTransactions(ctx context.Context, identity string, activeOnly bool) ([]*models.OfframpTransaction, error) {
	txs, err := s.txRepo.FindByOwner(ctx, identity, nil)
	if err != nil || !activeOnly {
		return txs, err
	}
	now := time.Now()
	active := txs[:0]
	for _, tx := range txs {
		if !tx.IsAbandoned(s.abandonAfter, now) {
			active = append(active, tx)
		}
	}
	return active, nil
}

// ListSwapAttempts returns the swap audit trail for an owned transaction.
func (s *OfframpService) ListSwapAttempts(ctx context.Context, id, identity string) ([]*models.SwapAttempt, error) {
	if _, err := s.GetTransaction(ctx, id, identity); err != nil {
		return nil, err
	}
	return s.attemptRepo.ListByTransaction(ctx, id)
}
