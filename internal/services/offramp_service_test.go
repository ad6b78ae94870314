package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-backend/internal/repository"
	"offramp-backend/internal/wallet"
)

func newTestOfframpService(t *testing.T) *OfframpService {
	t.Helper()
	gormDB := newTestDB(t)
	deriver, err := wallet.NewDeriver(testMasterSeed, testEncryptKey)
	require.NoError(t, err)
	return NewOfframpService(
		repository.NewTransactionRepository(gormDB),
		repository.NewSwapAttemptRepository(gormDB),
		deriver,
		24*time.Hour,
	)
}

func TestCreateTransactionReservesDepositAddress(t *testing.T) {
	svc := newTestOfframpService(t)
	ctx := context.Background()

	tx, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		UserID:            "user-1",
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.NotEmpty(t, tx.DepositAddress)
	assert.NotEmpty(t, tx.EncryptedPrivateKey)

	// Two requests never share a deposit address.
	other, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		UserID:            "user-1",
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	require.NoError(t, err)
	assert.NotEqual(t, tx.DepositAddress, other.DepositAddress)
}

func TestCreateTransactionValidatesInput(t *testing.T) {
	svc := newTestOfframpService(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, CreateTransactionInput{UserID: "user-1"})
	assert.Error(t, err, "missing bank details must be rejected")

	_, err = svc.CreateTransaction(ctx, CreateTransactionInput{
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	assert.Error(t, err, "an anonymous transaction has no payout owner")
}

func TestGetTransactionEnforcesOwnership(t *testing.T) {
	svc := newTestOfframpService(t)
	ctx := context.Background()

	tx, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		UserID:            "user-1",
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	require.NoError(t, err)

	got, err := svc.GetTransaction(ctx, tx.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = svc.GetTransaction(ctx, tx.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestListTransactionsActiveFilterHidesAbandoned(t *testing.T) {
	gormDB := newTestDB(t)
	txRepo := repository.NewTransactionRepository(gormDB)
	deriver, err := wallet.NewDeriver(testMasterSeed, testEncryptKey)
	require.NoError(t, err)
	svc := NewOfframpService(txRepo, repository.NewSwapAttemptRepository(gormDB), deriver, 24*time.Hour)
	ctx := context.Background()

	fresh, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		UserID:            "user-1",
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	require.NoError(t, err)

	stale, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		UserID:            "user-1",
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		BankAccountName:   "Test Account",
	})
	require.NoError(t, err)
	require.NoError(t, txRepo.UpdateFields(ctx, stale.ID, map[string]interface{}{
		"created_at": time.Now().Add(-48 * time.Hour),
	}))

	all, err := svc.ListTransactions(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ListTransactions(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)
}
