package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-backend/internal/clients"
	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

type paystackStub struct {
	mu            sync.Mutex
	transfers     []clients.TransferRequest
	failRecipient int // non-zero = recipient creation responds with this status
	failTransfer  int // non-zero = transfer responds with this status
}

func newPaystackStub() *paystackStub {
	return &paystackStub{}
}

func (s *paystackStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transferrecipient", func(w http.ResponseWriter, r *http.Request) {
		if s.failRecipient != 0 {
			w.WriteHeader(s.failRecipient)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]interface{}{"recipient_code": "RCP_test", "active": true},
		})
	})
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		if s.failTransfer != 0 {
			w.WriteHeader(s.failTransfer)
			return
		}
		var req clients.TransferRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.transfers = append(s.transfers, req)
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   map[string]interface{}{"reference": req.Reference, "status": "pending", "amount": req.Amount},
		})
	})
	return mux
}

func newTestPayoutService(t *testing.T, stub *paystackStub) (*PayoutService, repository.TransactionRepository, repository.SettingsRepository) {
	t.Helper()
	gormDB := newTestDB(t)
	txRepo := repository.NewTransactionRepository(gormDB)
	settingsRepo := repository.NewSettingsRepository(gormDB)

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	svc, err := NewPayoutService(clients.NewPaystackClient(srv.URL, "sk_test", 5*time.Second), settingsRepo, txRepo)
	require.NoError(t, err)
	return svc, txRepo, settingsRepo
}

func TestCalculateAppliesRateAndFlatFee(t *testing.T) {
	svc, _, settingsRepo := newTestPayoutService(t, newPaystackStub())
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	calc, err := svc.Calculate(ctx, 9.85)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, calc.ExchangeRate)
	assert.Equal(t, 14775.0, calc.GrossNGN)
	assert.Equal(t, 50.0, calc.Fee)
	assert.Equal(t, 14725.0, calc.NetNGN)
}

func TestCalculateUsesPercentTierAboveThreshold(t *testing.T) {
	svc, _, settingsRepo := newTestPayoutService(t, newPaystackStub())
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	// 100 * 1500 = 150,000 NGN, in the 0.5% tier.
	calc, err := svc.Calculate(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 150000.0, calc.GrossNGN)
	assert.Equal(t, 750.0, calc.Fee)
	assert.Equal(t, 149250.0, calc.NetNGN)
}

func TestCalculateIsMonotonic(t *testing.T) {
	svc, _, settingsRepo := newTestPayoutService(t, newPaystackStub())
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	prev := 0.0
	for _, amount := range []float64{1, 5, 9.85, 13.4, 50, 100, 500} {
		calc, err := svc.Calculate(ctx, amount)
		require.NoError(t, err)
		assert.Greater(t, calc.NetNGN, prev, "net payout must grow with settlement amount")
		prev = calc.NetNGN
	}
}

func TestCalculateRejectsNonPositiveNet(t *testing.T) {
	svc, _, settingsRepo := newTestPayoutService(t, newPaystackStub())
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	// 0.01 * 1500 = 15 NGN gross, below the 50 NGN flat fee.
	_, err := svc.Calculate(ctx, 0.01)
	require.Error(t, err)

	_, err = svc.Calculate(ctx, 0)
	require.Error(t, err)
	_, err = svc.Calculate(ctx, -1)
	require.Error(t, err)
}

func TestCalculateRequiresConfiguredRate(t *testing.T) {
	svc, _, _ := newTestPayoutService(t, newPaystackStub())
	_, err := svc.Calculate(context.Background(), 9.85)
	require.Error(t, err, "a missing rate must never silently default")
}

func TestDispatchSendsTransferInKobo(t *testing.T) {
	stub := newPaystackStub()
	svc, txRepo, settingsRepo := newTestPayoutService(t, stub)
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	tx := newServiceTestTransaction("tx_001")
	require.NoError(t, txRepo.Create(ctx, tx))

	calc, err := svc.Calculate(ctx, 9.85)
	require.NoError(t, err)

	reference, err := svc.Dispatch(ctx, tx, calc)
	require.NoError(t, err)
	assert.NotEmpty(t, reference)

	require.Len(t, stub.transfers, 1)
	assert.Equal(t, int64(1472500), stub.transfers[0].Amount)
	assert.Equal(t, reference, stub.transfers[0].Reference)
	assert.Equal(t, "NGN", stub.transfers[0].Currency)
}

func TestDispatchIsAtMostOnce(t *testing.T) {
	stub := newPaystackStub()
	svc, txRepo, settingsRepo := newTestPayoutService(t, stub)
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	tx := newServiceTestTransaction("tx_001")
	require.NoError(t, txRepo.Create(ctx, tx))

	calc, err := svc.Calculate(ctx, 9.85)
	require.NoError(t, err)

	first, err := svc.Dispatch(ctx, tx, calc)
	require.NoError(t, err)

	// A re-dispatch re-submits under the stored reference. The provider
	// deduplicates on it, so only one transfer can ever land.
	reloaded, err := txRepo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	second, err := svc.Dispatch(ctx, reloaded, calc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, stub.transfers, 2)
	assert.Equal(t, first, stub.transfers[0].Reference)
	assert.Equal(t, first, stub.transfers[1].Reference, "every submission must carry the same idempotency key")
}

func TestDispatchRecipientFailureLeavesNoClaim(t *testing.T) {
	stub := newPaystackStub()
	stub.failRecipient = http.StatusBadGateway
	svc, txRepo, settingsRepo := newTestPayoutService(t, stub)
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	tx := newServiceTestTransaction("tx_001")
	require.NoError(t, txRepo.Create(ctx, tx))

	calc := &PayoutCalculation{SettlementAmount: 9.85, ExchangeRate: 1500, GrossNGN: 14775, Fee: 50, NetNGN: 14725}
	_, err := svc.Dispatch(ctx, tx, calc)
	require.Error(t, err)

	// No provider money moved, so nothing may look dispatched.
	reloaded, err := txRepo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.PayoutReference)

	// The retry starts clean and the transfer goes out.
	stub.failRecipient = 0
	reference, err := svc.Dispatch(ctx, reloaded, calc)
	require.NoError(t, err)
	require.Len(t, stub.transfers, 1)
	assert.Equal(t, reference, stub.transfers[0].Reference)
}

func TestDispatchTransferFailureKeepsClaimForRetry(t *testing.T) {
	stub := newPaystackStub()
	stub.failTransfer = http.StatusBadGateway
	svc, txRepo, settingsRepo := newTestPayoutService(t, stub)
	ctx := context.Background()
	require.NoError(t, settingsRepo.SetExchangeRate(ctx, 1500))

	tx := newServiceTestTransaction("tx_001")
	require.NoError(t, txRepo.Create(ctx, tx))

	calc := &PayoutCalculation{SettlementAmount: 9.85, ExchangeRate: 1500, GrossNGN: 14775, Fee: 50, NetNGN: 14725}
	_, err := svc.Dispatch(ctx, tx, calc)
	require.Error(t, err)

	// The reference stays claimed so the retry reuses it and the
	// provider can deduplicate an attempt that died mid-flight.
	reloaded, err := txRepo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	require.NotEmpty(t, reloaded.PayoutReference)

	stub.failTransfer = 0
	reference, err := svc.Dispatch(ctx, reloaded, calc)
	require.NoError(t, err)
	assert.Equal(t, reloaded.PayoutReference, reference)
	require.Len(t, stub.transfers, 1)
	assert.Equal(t, reference, stub.transfers[0].Reference)
}

func newServiceTestTransaction(id string) *models.OfframpTransaction {
	return &models.OfframpTransaction{
		ID:                  id,
		UserID:              "user-1",
		UserEmail:           "a@example.com",
		BankAccountNumber:   "0123456789",
		BankCode:            "058",
		BankAccountName:     "Test Account",
		DepositAddress:      "0xDeposit" + id,
		EncryptedPrivateKey: "encrypted",
		Status:              models.StatusPending,
	}
}
