package repository

import (
	"context"

	"offramp-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SwapAttemptRepository audit log of per-provider swap tries. Failures
// here never abort a settlement; the rows are for operators and for
// tuning provider order.
type SwapAttemptRepository interface {
	Record(ctx context.Context, attempt *models.SwapAttempt) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*models.SwapAttempt, error)
}

type swapAttemptRepository struct {
	db *gorm.DB
}

// NewSwapAttemptRepository creates a new SwapAttemptRepository instance
func NewSwapAttemptRepository(db *gorm.DB) SwapAttemptRepository {
	return &swapAttemptRepository{db: db}
}

func (r *swapAttemptRepository) Record(ctx context.Context, attempt *models.SwapAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *swapAttemptRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*models.SwapAttempt, error) {
	var attempts []*models.SwapAttempt
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&attempts).Error
	return attempts, err
}
