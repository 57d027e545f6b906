package idempotency

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sweepTimeout = time.Minute

// Sweeper periodically removes expired records from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	batch    int
	logger   *zap.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a sweeper. A non-positive interval disables it.
func NewSweeper(store Store, interval time.Duration, batch int, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, batch: batch, logger: logger, clock: time.Now}
}

// Start launches the sweep loop in the background. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil || s.store == nil || s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep runs one cleanup pass and returns the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	removed, err := s.store.CleanupExpired(runCtx, s.clock().UTC(), s.batch)
	if err != nil {
		s.logger.Error("idempotency cleanup error", zap.Error(err))
		return 0
	}
	if removed > 0 {
		s.logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
	}
	return removed
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}
