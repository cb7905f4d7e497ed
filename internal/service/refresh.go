package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"willsave/internal/logger"
)

// RefreshScheduler periodically asks the currency updater to check
// remote progress, so currency accrues without the toll page open.
type RefreshScheduler struct {
	updater   *CurrencyUpdater
	interval  time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	log       *zap.Logger
}

// NewRefreshScheduler creates a scheduler. A non-positive interval makes
// Start a no-op.
func NewRefreshScheduler(updater *CurrencyUpdater, interval time.Duration, log *zap.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		updater:  updater,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      logger.OrNop(log).Named("RefreshScheduler"),
	}
}

// Start begins the scheduler.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.interval <= 0 {
		s.mu.Unlock()
		if s.interval <= 0 {
			s.log.Info("disabled")
		}
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.interval)
	s.mu.Unlock()

	s.log.Info("started", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *RefreshScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.updater.Update(ctx)
		case <-ctx.Done():
			s.log.Info("stopped")
			return
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		}
	}
}

// Stop stops the scheduler and waits for its loop to exit.
func (s *RefreshScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// RunNow performs one refresh immediately, bypassing the minimum gap.
func (s *RefreshScheduler) RunNow(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return s.updater.Refresh(ctx)
}
