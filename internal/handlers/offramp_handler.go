package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"offramp-backend/internal/middleware"
	"offramp-backend/internal/services"
)

// OfframpHandler the authenticated off-ramp API surface
type OfframpHandler struct {
	offramp    *services.OfframpService
	settlement *services.SettlementService
}

// NewOfframpHandler creates a new offramp handler
func NewOfframpHandler(offramp *services.OfframpService, settlement *services.SettlementService) *OfframpHandler {
	return &OfframpHandler{offramp: offramp, settlement: settlement}
}

type createTransactionRequest struct {
	BankAccountNumber string `json:"bank_account_number" binding:"required"`
	BankCode          string `json:"bank_code" binding:"required"`
	BankAccountName   string `json:"bank_account_name" binding:"required"`
}

// CreateTransaction reserves a deposit address for the caller.
func (h *OfframpHandler) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	tx, err := h.offramp.CreateTransaction(c.Request.Context(), services.CreateTransactionInput{
		UserID:            c.GetString("user_id"),
		UserEmail:         c.GetString("user_email"),
		BankAccountNumber: req.BankAccountNumber,
		BankCode:          req.BankCode,
		BankAccountName:   req.BankAccountName,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to create off-ramp transaction")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": tx})
}

// GetTransaction returns one of the caller's transactions.
func (h *OfframpHandler) GetTransaction(c *gin.Context) {
	tx, err := h.offramp.GetTransaction(c.Request.Context(), c.Param("id"), middleware.Identity(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tx})
}

// ListTransactions returns the caller's transactions, newest first.
// ?active=true hides abandoned pending requests.
func (h *OfframpHandler) ListTransactions(c *gin.Context) {
	txs, err := h.offramp.ListTransactions(c.Request.Context(), middleware.Identity(c), c.Query("active") == "true")
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": txs})
}

// ListSwapAttempts returns the swap audit trail for one transaction.
func (h *OfframpHandler) ListSwapAttempts(c *gin.Context) {
	attempts, err := h.offramp.ListSwapAttempts(c.Request.Context(), c.Param("id"), middleware.Identity(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": attempts})
}

// TriggerSettlement runs the settlement for one transaction on demand,
// instead of waiting for the next sweep pass.
func (h *OfframpHandler) TriggerSettlement(c *gin.Context) {
	tx, err := h.settlement.Settle(c.Request.Context(), c.Param("id"), middleware.Identity(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tx})
}

// RetryTransaction moves a failed transaction back into the sweep.
func (h *OfframpHandler) RetryTransaction(c *gin.Context) {
	if err := h.settlement.Retry(c.Request.Context(), c.Param("id"), middleware.Identity(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "transaction queued for retry"})
}

// CancelPending cancels the caller's deposit-free pending transactions.
func (h *OfframpHandler) CancelPending(c *gin.Context) {
	cancelled, err := h.settlement.CancelPending(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"cancelled": cancelled}})
}

// renderError maps domain errors to status codes. Internal failure
// detail stays in the logs; clients get a stable message.
func (h *OfframpHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "transaction not found"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": services.ErrNotOwner.Error()})
	case errors.Is(err, services.ErrAlreadyCompleted),
		errors.Is(err, services.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, services.ErrNoDeposit):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": services.ErrNoDeposit.Error()})
	default:
		logrus.WithError(err).Error("Off-ramp request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}
