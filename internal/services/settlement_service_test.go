package services

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

type fakeScanner struct {
	assets []models.DetectedAsset
	err    error
	calls  int
}

func (f *fakeScanner) Scan(ctx context.Context, address common.Address) ([]models.DetectedAsset, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assets, nil
}

type fakeEmptier struct {
	result *EmptyResult
	err    error
	calls  int
}

func (f *fakeEmptier) Empty(ctx context.Context, tx *models.OfframpTransaction) (*EmptyResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakePayout struct {
	calcErr       error
	dispatchErr   error
	dispatchCalls int
}

func (f *fakePayout) Calculate(ctx context.Context, settlementAmount float64) (*PayoutCalculation, error) {
	if f.calcErr != nil {
		return nil, f.calcErr
	}
	gross := round2(settlementAmount * 1500)
	return &PayoutCalculation{
		SettlementAmount: settlementAmount,
		ExchangeRate:     1500,
		GrossNGN:         gross,
		Fee:              50,
		NetNGN:           round2(gross - 50),
	}, nil
}

func (f *fakePayout) Dispatch(ctx context.Context, tx *models.OfframpTransaction, calc *PayoutCalculation) (string, error) {
	f.dispatchCalls++
	if f.dispatchErr != nil {
		return "", f.dispatchErr
	}
	return "po_test", nil
}

func detectedPepe() []models.DetectedAsset {
	return []models.DetectedAsset{
		{TokenAddress: "0xToken", Symbol: "PEPE", RawAmount: "5000", Decimals: 18},
	}
}

func sweptResult(raw int64) *EmptyResult {
	return &EmptyResult{
		DetectedAssets:          detectedPepe(),
		TokensFound:             1,
		TokensSwapped:           1,
		TotalSettlementReceived: big.NewInt(raw),
		GasAssetRecovered:       big.NewInt(0),
		SwapTxHashes:            []string{"0xswap"},
		SweepTxHash:             "0xsweep",
	}
}

func newTestSettlement(t *testing.T, scanner DepositScanner, emptier WalletEmptier, payout PayoutProcessor) (*SettlementService, repository.TransactionRepository) {
	t.Helper()
	txRepo := repository.NewTransactionRepository(newTestDB(t))
	return NewSettlementService(txRepo, scanner, emptier, payout, nil, 6), txRepo
}

func TestSettleHappyPath(t *testing.T) {
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	payout := &fakePayout{}
	svc, txRepo := newTestSettlement(t, scanner, emptier, payout)
	ctx := context.Background()

	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	tx, err := svc.Settle(ctx, "tx_001", "user-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, "9.85", tx.SettlementAmount)
	assert.Equal(t, 14725.0, tx.NGNAmount)
	assert.Equal(t, 1500.0, tx.ExchangeRate)
	assert.Equal(t, 50.0, tx.FeeCharged)
	assert.NotNil(t, tx.CompletedAt)
	assert.NotNil(t, tx.TokenReceivedAt)
	assert.NotNil(t, tx.SettlementReceivedAt)
	assert.Contains(t, tx.SweepTxHashes, "0xsweep")
	assert.Equal(t, 1, payout.dispatchCalls)
}

func TestSettleRetriesFailedTransactionDirectly(t *testing.T) {
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	svc, txRepo := newTestSettlement(t, scanner, emptier, &fakePayout{})
	ctx := context.Background()

	tx := newServiceTestTransaction("tx_001")
	tx.Status = models.StatusFailed
	tx.LastError = "all swap providers failed"
	require.NoError(t, txRepo.Create(ctx, tx))

	got, err := svc.Settle(ctx, "tx_001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, emptier.calls)
}

func TestSettleRecordsDetectionBeforeSwapping(t *testing.T) {
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{err: fmt.Errorf("rpc unreachable")}
	svc, txRepo := newTestSettlement(t, scanner, emptier, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	require.Error(t, err)

	// The swap failed, but what the scanner found must survive.
	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.Len(t, got.DetectedAssets, 1)
	assert.Equal(t, "PEPE", got.DetectedAssets[0].Symbol)
	assert.NotNil(t, got.TokenReceivedAt)
}

func TestSettleRejectsWrongOwner(t *testing.T) {
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, &fakeEmptier{result: sweptResult(9850000)}, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "someone-else")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSettleRejectsCompleted(t *testing.T) {
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, emptier, &fakePayout{})
	ctx := context.Background()

	tx := newServiceTestTransaction("tx_001")
	tx.Status = models.StatusCompleted
	require.NoError(t, txRepo.Create(ctx, tx))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Zero(t, emptier.calls)
}

func TestSettleLosesClaimToConcurrentRun(t *testing.T) {
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	svc, txRepo := newTestSettlement(t, scanner, emptier, &fakePayout{})
	ctx := context.Background()

	tx := newServiceTestTransaction("tx_001")
	tx.Status = models.StatusSwapping // another run holds the claim
	require.NoError(t, txRepo.Create(ctx, tx))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	assert.ErrorIs(t, err, ErrAlreadyProcessing)
	assert.Zero(t, emptier.calls, "the losing racer must not touch the wallet")
}

func TestSettleEmptyWalletStaysPending(t *testing.T) {
	scanner := &fakeScanner{}
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	svc, txRepo := newTestSettlement(t, scanner, emptier, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	assert.ErrorIs(t, err, ErrNoDeposit)
	assert.Zero(t, emptier.calls, "nothing detected means nothing to drain")

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestSettleDrainedWalletRollsBackToPending(t *testing.T) {
	// The scanner saw funds, but they were gone by the time the emptier
	// looked: the claim and the stale asset record both roll back.
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{result: &EmptyResult{
		TotalSettlementReceived: big.NewInt(0),
		GasAssetRecovered:       big.NewInt(0),
	}}
	svc, txRepo := newTestSettlement(t, scanner, emptier, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	assert.ErrorIs(t, err, ErrNoDeposit)

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "empty wallet must release the claim")
	assert.Empty(t, got.DetectedAssets)
}

func TestSettleEmptierFailureMarksFailed(t *testing.T) {
	emptier := &fakeEmptier{err: fmt.Errorf("rpc unreachable")}
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, emptier, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	require.Error(t, err)

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "rpc unreachable")
}

func TestSettleNothingSettledMarksFailed(t *testing.T) {
	emptier := &fakeEmptier{result: &EmptyResult{
		DetectedAssets:          detectedPepe(),
		TokensFound:             1,
		TotalSettlementReceived: big.NewInt(0),
		GasAssetRecovered:       big.NewInt(0),
		Errors:                  []string{"PEPE: all swap providers failed"},
	}}
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, emptier, &fakePayout{})
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	require.Error(t, err)

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "PEPE")
}

func TestSettlePayoutFailureParksAtUSDCReceived(t *testing.T) {
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	payout := &fakePayout{dispatchErr: fmt.Errorf("transfer timeout")}
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, emptier, payout)
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	require.Error(t, err)

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUSDCReceived, got.Status, "settled funds must stay retryable, never failed")
	assert.Equal(t, "9.85", got.SettlementAmount)
	assert.Contains(t, got.LastError, "transfer timeout")
}

func TestSettleResumesAtPayoutStage(t *testing.T) {
	scanner := &fakeScanner{assets: detectedPepe()}
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	payout := &fakePayout{}
	svc, txRepo := newTestSettlement(t, scanner, emptier, payout)
	ctx := context.Background()

	tx := newServiceTestTransaction("tx_001")
	tx.Status = models.StatusUSDCReceived
	tx.SettlementAmount = "9.85"
	require.NoError(t, txRepo.Create(ctx, tx))

	got, err := svc.Settle(ctx, "tx_001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Zero(t, emptier.calls, "funds already at treasury, the chain must not be touched")
	assert.Zero(t, scanner.calls)
}

func TestSettlePayoutRetryAfterParking(t *testing.T) {
	emptier := &fakeEmptier{result: sweptResult(9850000)}
	payout := &fakePayout{dispatchErr: fmt.Errorf("transfer timeout")}
	svc, txRepo := newTestSettlement(t, &fakeScanner{assets: detectedPepe()}, emptier, payout)
	ctx := context.Background()
	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	_, err := svc.Settle(ctx, "tx_001", "user-1")
	require.Error(t, err)

	payout.dispatchErr = nil
	got, err := svc.Settle(ctx, "tx_001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, emptier.calls, "retry must skip the already-swept wallet")
	assert.Equal(t, 2, payout.dispatchCalls)
}

func TestRetryMovesFailedToPending(t *testing.T) {
	svc, txRepo := newTestSettlement(t, &fakeScanner{}, &fakeEmptier{}, &fakePayout{})
	ctx := context.Background()

	tx := newServiceTestTransaction("tx_001")
	tx.Status = models.StatusFailed
	tx.LastError = "boom"
	require.NoError(t, txRepo.Create(ctx, tx))

	require.NoError(t, svc.Retry(ctx, "tx_001", "user-1"))

	got, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.LastError)

	// A second retry has nothing to retry.
	assert.Error(t, svc.Retry(ctx, "tx_001", "user-1"))
}

func TestCancelPendingSkipsFundedWallets(t *testing.T) {
	svc, txRepo := newTestSettlement(t, &fakeScanner{}, &fakeEmptier{}, &fakePayout{})
	ctx := context.Background()

	require.NoError(t, txRepo.Create(ctx, newServiceTestTransaction("tx_001")))

	funded := newServiceTestTransaction("tx_002")
	funded.DetectedAssets = models.AssetList{{Symbol: "USDC", RawAmount: "1000000"}}
	require.NoError(t, txRepo.Create(ctx, funded))

	swept := newServiceTestTransaction("tx_003")
	swept.Status = models.StatusUSDCReceived
	require.NoError(t, txRepo.Create(ctx, swept))

	cancelled, err := svc.CancelPending(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	empty, err := txRepo.GetByID(ctx, "tx_001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, empty.Status)

	kept, err := txRepo.GetByID(ctx, "tx_002")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, kept.Status, "funded wallets must not be cancelled")
}
