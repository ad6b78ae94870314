package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionForwardPath(t *testing.T) {
	path := []TransactionStatus{
		StatusPending, StatusTokenReceived, StatusSwapping,
		StatusUSDCReceived, StatusPaying, StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionFailureAndRecovery(t *testing.T) {
	// Every non-terminal status can fail.
	for _, from := range []TransactionStatus{StatusPending, StatusTokenReceived, StatusSwapping, StatusUSDCReceived, StatusPaying} {
		assert.True(t, CanTransition(from, StatusFailed), "%s -> failed", from)
	}

	// Retry and rollback paths. A failed transaction re-enters the
	// pipeline at retry, at detection or at the swap claim itself.
	assert.True(t, CanTransition(StatusFailed, StatusPending))
	assert.True(t, CanTransition(StatusFailed, StatusTokenReceived))
	assert.True(t, CanTransition(StatusFailed, StatusSwapping))
	assert.True(t, CanTransition(StatusSwapping, StatusPending))
	assert.True(t, CanTransition(StatusSwapping, StatusTokenReceived))
	assert.True(t, CanTransition(StatusPaying, StatusUSDCReceived))
}

func TestCanTransitionRejectsIllegalMoves(t *testing.T) {
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.False(t, CanTransition(StatusPending, StatusPaying))
	assert.False(t, CanTransition(StatusUSDCReceived, StatusSwapping))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}

func TestIsAbandoned(t *testing.T) {
	now := time.Now()
	window := 24 * time.Hour

	stale := &OfframpTransaction{Status: StatusPending, CreatedAt: now.Add(-25 * time.Hour)}
	assert.True(t, stale.IsAbandoned(window, now))

	fresh := &OfframpTransaction{Status: StatusPending, CreatedAt: now.Add(-1 * time.Hour)}
	assert.False(t, fresh.IsAbandoned(window, now))

	// A stale wallet holding funds is never abandoned.
	funded := &OfframpTransaction{
		Status:         StatusPending,
		CreatedAt:      now.Add(-48 * time.Hour),
		DetectedAssets: AssetList{{Symbol: "USDC", RawAmount: "1000000"}},
	}
	assert.False(t, funded.IsAbandoned(window, now))

	// Only pending transactions abandon.
	swept := &OfframpTransaction{Status: StatusUSDCReceived, CreatedAt: now.Add(-48 * time.Hour)}
	assert.False(t, swept.IsAbandoned(window, now))
}

func TestOwnedBy(t *testing.T) {
	tx := &OfframpTransaction{UserID: "user-1", UserEmail: "a@example.com"}
	assert.True(t, tx.OwnedBy("user-1"))
	assert.True(t, tx.OwnedBy("a@example.com"))
	assert.False(t, tx.OwnedBy("user-2"))
	assert.False(t, tx.OwnedBy(""))
}

func TestFeeTierContains(t *testing.T) {
	low := FeeTier{MinAmount: 0, MaxAmount: 20000, FlatFee: 50}
	open := FeeTier{MinAmount: 20000, MaxAmount: 0, PercentFee: 0.5}

	assert.True(t, low.Contains(0))
	assert.True(t, low.Contains(14775))
	assert.False(t, low.Contains(20000))
	assert.True(t, open.Contains(20000))
	assert.True(t, open.Contains(1e9))
}
