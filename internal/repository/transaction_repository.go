package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offramp-backend/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrDuplicateDepositAddress a second transaction tried to claim an
// already-reserved deposit address. Deposit addresses are unique per
// transaction and never reused; this is an invariant violation.
var ErrDuplicateDepositAddress = errors.New("deposit address already in use")

// TransactionRepository data access for the off-ramp ledger
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.OfframpTransaction) error
	GetByID(ctx context.Context, id string) (*models.OfframpTransaction, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error

	// TransitionStatus performs an atomic compare-and-set on status:
	// the update applies only if the current status is one of from.
	// Returns false when a concurrent writer advanced the row first.
	TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, fields map[string]interface{}) (bool, error)

	// SetPayoutReference sets the payout reference only if none is set.
	// Returns false if a reference already exists (at-most-once payout).
	SetPayoutReference(ctx context.Context, id, reference string) (bool, error)

	FindByStatus(ctx context.Context, statuses []models.TransactionStatus) ([]*models.OfframpTransaction, error)
	FindByOwner(ctx context.Context, identity string, statuses []models.TransactionStatus) ([]*models.OfframpTransaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new TransactionRepository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.OfframpTransaction) error {
	err := r.db.WithContext(ctx).Create(tx).Error
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateDepositAddress
	}
	return err
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.OfframpTransaction, error) {
	var tx models.OfframpTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.OfframpTransaction{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *transactionRepository) TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, fields map[string]interface{}) (bool, error) {
	for _, f := range from {
		if !models.CanTransition(f, to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.OfframpTransaction{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *transactionRepository) SetPayoutReference(ctx context.Context, id, reference string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OfframpTransaction{}).
		Where("id = ? AND (payout_reference IS NULL OR payout_reference = '')", id).
		Updates(map[string]interface{}{
			"payout_reference": reference,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *transactionRepository) FindByStatus(ctx context.Context, statuses []models.TransactionStatus) ([]*models.OfframpTransaction, error) {
	var txs []*models.OfframpTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(statuses)).
		Order("created_at ASC").
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) FindByOwner(ctx context.Context, identity string, statuses []models.TransactionStatus) ([]*models.OfframpTransaction, error) {
	var txs []*models.OfframpTransaction
	query := r.db.WithContext(ctx).
		Where("user_id = ? OR user_email = ?", identity, identity)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statusStrings(statuses))
	}
	err := query.Order("created_at DESC").Find(&txs).Error
	return txs, err
}

func statusStrings(statuses []models.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
