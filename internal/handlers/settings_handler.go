package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

// SettingsHandler operator endpoints for the exchange rate and fee tiers
type SettingsHandler struct {
	settingsRepo repository.SettingsRepository
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsRepo repository.SettingsRepository) *SettingsHandler {
	return &SettingsHandler{settingsRepo: settingsRepo}
}

// GetExchangeRate returns the current NGN rate.
func (h *SettingsHandler) GetExchangeRate(c *gin.Context) {
	rate, err := h.settingsRepo.GetExchangeRate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "exchange rate not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"rate": rate}})
}

type setRateRequest struct {
	Rate float64 `json:"rate" binding:"required,gt=0"`
}

// SetExchangeRate updates the NGN rate used by new payouts.
func (h *SettingsHandler) SetExchangeRate(c *gin.Context) {
	var req setRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.settingsRepo.SetExchangeRate(c.Request.Context(), req.Rate); err != nil {
		logrus.WithError(err).Error("Failed to update exchange rate")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update rate"})
		return
	}
	logrus.WithField("rate", req.Rate).Info("Exchange rate updated")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetFeeTiers returns the configured fee tiers.
func (h *SettingsHandler) GetFeeTiers(c *gin.Context) {
	tiers, err := h.settingsRepo.GetFeeTiers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load fee tiers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tiers})
}

type feeTierRequest struct {
	MinAmount  float64 `json:"min_amount"`
	MaxAmount  float64 `json:"max_amount"`
	FlatFee    float64 `json:"flat_fee"`
	PercentFee float64 `json:"percent_fee"`
}

// ReplaceFeeTiers swaps the whole fee schedule atomically.
func (h *SettingsHandler) ReplaceFeeTiers(c *gin.Context) {
	var req []feeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	tiers := make([]models.FeeTier, 0, len(req))
	for _, t := range req {
		if t.MinAmount < 0 || (t.MaxAmount != 0 && t.MaxAmount <= t.MinAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid tier bounds"})
			return
		}
		tiers = append(tiers, models.FeeTier{
			MinAmount:  t.MinAmount,
			MaxAmount:  t.MaxAmount,
			FlatFee:    t.FlatFee,
			PercentFee: t.PercentFee,
		})
	}

	if err := h.settingsRepo.ReplaceFeeTiers(c.Request.Context(), tiers); err != nil {
		logrus.WithError(err).Error("Failed to replace fee tiers")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update fee tiers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
