package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"offramp-backend/internal/clients"
	"offramp-backend/internal/metrics"
	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

// rateLimitBackoff pause before the single retry a rate-limited layer gets.
const rateLimitBackoff = 2 * time.Second

// SwapResult outcome of a routed swap after on-chain execution.
type SwapResult struct {
	Provider  string
	TxHash    string
	BuyAmount string
}

// ExecuteFunc funds gas, approves and broadcasts one built swap,
// returning the confirmed transaction hash. Supplied by the caller so
// the router stays ignorant of key handling.
type ExecuteFunc func(ctx context.Context, exec *SwapExecutable) (string, error)

// SwapRouterService tries providers in configured order until one
// produces and lands a swap. Cheapest execution paths come first, so
// order is part of the product, not an implementation detail.
type SwapRouterService struct {
	providers   []SwapProvider
	attemptRepo repository.SwapAttemptRepository
}

// NewSwapRouterService creates a router over the given ordered layers
func NewSwapRouterService(providers []SwapProvider, attemptRepo repository.SwapAttemptRepository) *SwapRouterService {
	return &SwapRouterService{providers: providers, attemptRepo: attemptRepo}
}

// Execute runs the layered fallback for one token. Every provider try
// is recorded as a SwapAttempt row whether it helped or not.
func (s *SwapRouterService) Execute(ctx context.Context, txID string, req *SwapRequest, run ExecuteFunc) (*SwapResult, error) {
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("no swap providers configured")
	}

	var failures []string
	for _, provider := range s.providers {
		result, err := s.tryProvider(ctx, txID, provider, req, run)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failures = append(failures, fmt.Sprintf("%s: %v", provider.Name(), err))
	}

	metrics.SwapRouterExhausted.Inc()
	return nil, fmt.Errorf("all swap providers failed for %s: %s", req.SellToken.Hex(), strings.Join(failures, "; "))
}

func (s *SwapRouterService) tryProvider(ctx context.Context, txID string, provider SwapProvider, req *SwapRequest, run ExecuteFunc) (*SwapResult, error) {
	result, err := s.attempt(ctx, txID, provider, req, run)
	if errors.Is(err, clients.ErrRateLimited) {
		// One backoff retry on the same layer. A throttle is transient
		// where a missing route is not.
		logrus.WithField("provider", provider.Name()).Warn("Swap provider rate limited, retrying once")
		select {
		case <-time.After(rateLimitBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		result, err = s.attempt(ctx, txID, provider, req, run)
	}
	return result, err
}

func (s *SwapRouterService) attempt(ctx context.Context, txID string, provider SwapProvider, req *SwapRequest, run ExecuteFunc) (*SwapResult, error) {
	start := time.Now()

	quote, err := provider.Quote(ctx, req)
	if err != nil {
		s.record(ctx, txID, provider, req, nil, "", err, start)
		return nil, err
	}

	exec, err := provider.Build(ctx, req, quote)
	if err != nil {
		s.record(ctx, txID, provider, req, quote, "", err, start)
		return nil, err
	}

	txHash, err := run(ctx, exec)
	if err != nil {
		s.record(ctx, txID, provider, req, quote, txHash, err, start)
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	s.record(ctx, txID, provider, req, quote, txHash, nil, start)
	logrus.WithFields(logrus.Fields{
		"transaction_id": txID,
		"provider":       provider.Name(),
		"tx_hash":        txHash,
	}).Info("Swap executed")

	return &SwapResult{
		Provider:  provider.Name(),
		TxHash:    txHash,
		BuyAmount: exec.BuyAmount.String(),
	}, nil
}

func (s *SwapRouterService) record(ctx context.Context, txID string, provider SwapProvider, req *SwapRequest, quote *SwapQuote, txHash string, attemptErr error, start time.Time) {
	outcome := models.SwapAttemptSucceeded
	errText := ""
	switch {
	case errors.Is(attemptErr, clients.ErrNoRoute):
		outcome = models.SwapAttemptNoRoute
		errText = attemptErr.Error()
	case errors.Is(attemptErr, clients.ErrRateLimited):
		outcome = models.SwapAttemptRateLimited
		errText = attemptErr.Error()
	case attemptErr != nil:
		outcome = models.SwapAttemptFailed
		errText = attemptErr.Error()
	}
	metrics.SwapAttemptsTotal.WithLabelValues(provider.Name(), string(outcome)).Inc()

	attempt := &models.SwapAttempt{
		TransactionID: txID,
		Provider:      provider.Name(),
		SellToken:     req.SellToken.Hex(),
		BuyToken:      req.BuyToken.Hex(),
		SellAmount:    req.SellAmount.String(),
		Outcome:       outcome,
		TxHash:        txHash,
		Error:         errText,
		LatencyMs:     time.Since(start).Milliseconds(),
	}
	if quote != nil {
		attempt.BuyAmount = quote.BuyAmount.String()
	}
	if err := s.attemptRepo.Record(ctx, attempt); err != nil {
		// Audit rows never block the swap itself.
		logrus.WithError(err).Warn("Failed to record swap attempt")
	}
}
