package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"offramp-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository read/write access to the settings and fee tier tables
type SettingsRepository interface {
	GetExchangeRate(ctx context.Context) (float64, error)
	SetExchangeRate(ctx context.Context, rate float64) error
	GetFeeTiers(ctx context.Context) ([]models.FeeTier, error)
	ReplaceFeeTiers(ctx context.Context, tiers []models.FeeTier) error
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository instance
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) GetExchangeRate(ctx context.Context) (float64, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", models.SettingExchangeRate).First(&setting).Error; err != nil {
		return 0, fmt.Errorf("exchange rate not configured: %w", err)
	}
	rate, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid exchange rate value %q: %w", setting.Value, err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("exchange rate must be positive, got %v", rate)
	}
	return rate, nil
}

func (r *settingsRepository) SetExchangeRate(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("exchange rate must be positive, got %v", rate)
	}
	setting := models.Setting{
		Key:       models.SettingExchangeRate,
		Value:     strconv.FormatFloat(rate, 'f', -1, 64),
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
}

// GetFeeTiers returns tiers sorted ascending by min_amount; the payout
// calculator relies on this ordering for first-match tier selection.
func (r *settingsRepository) GetFeeTiers(ctx context.Context) ([]models.FeeTier, error) {
	var tiers []models.FeeTier
	err := r.db.WithContext(ctx).Order("min_amount ASC").Find(&tiers).Error
	return tiers, err
}

func (r *settingsRepository) ReplaceFeeTiers(ctx context.Context, tiers []models.FeeTier) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.FeeTier{}).Error; err != nil {
			return err
		}
		if len(tiers) == 0 {
			return nil
		}
		return tx.Create(&tiers).Error
	})
}
