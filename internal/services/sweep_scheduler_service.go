package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"offramp-backend/internal/config"
	"offramp-backend/internal/metrics"
	"offramp-backend/internal/models"
	"offramp-backend/internal/repository"
)

// SweepSchedulerService periodically settles every transaction with
// work left to do. The scheduler only selects and dispatches; all
// correctness lives in the settlement service's status claims, so a
// sweep overlapping a user-triggered settlement is harmless.
type SweepSchedulerService struct {
	txRepo        repository.TransactionRepository
	settlement    *SettlementService
	cron          *cron.Cron
	schedule      string
	abandonAfter  time.Duration
	maxConcurrent int

	mu      sync.Mutex
	running bool
}

// NewSweepSchedulerService creates a new sweep scheduler
func NewSweepSchedulerService(txRepo repository.TransactionRepository, settlement *SettlementService, cfg config.SettlementConfig) *SweepSchedulerService {
	return &SweepSchedulerService{
		txRepo:        txRepo,
		settlement:    settlement,
		cron:          cron.New(),
		schedule:      cfg.SweepSchedule,
		abandonAfter:  time.Duration(cfg.AbandonAfterHours) * time.Hour,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *SweepSchedulerService) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logrus.WithField("schedule", s.schedule).Info("Sweep scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *SweepSchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs a single sweep pass. Skips entirely if the previous
// pass is still running; the next tick picks up whatever is left.
func (s *SweepSchedulerService) RunOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logrus.Debug("Previous sweep still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	metrics.SweepRunsTotal.Inc()

	candidates, err := s.txRepo.FindByStatus(ctx, models.SettleableStatuses())
	if err != nil {
		logrus.WithError(err).Error("Sweep failed to list transactions")
		return
	}

	now := time.Now()
	picked := candidates[:0]
	for _, tx := range candidates {
		if tx.IsAbandoned(s.abandonAfter, now) {
			continue
		}
		picked = append(picked, tx)
	}
	metrics.SweepTransactionsPicked.Set(float64(len(picked)))
	if len(picked) == 0 {
		return
	}

	logrus.WithField("count", len(picked)).Info("Sweep pass starting")

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for _, tx := range picked {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(tx *models.OfframpTransaction) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := s.settlement.Settle(ctx, tx.ID, "")
			switch {
			case err == nil:
			case errors.Is(err, ErrNoDeposit),
				errors.Is(err, ErrAlreadyProcessing),
				errors.Is(err, ErrAlreadyCompleted):
				// Expected outcomes for a polling sweep.
			default:
				logrus.WithError(err).WithField("transaction_id", tx.ID).Error("Sweep settlement failed")
			}
		}(tx)
	}
	wg.Wait()
}
