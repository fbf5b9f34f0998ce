package retention

import (
	"context"
	"sync"
	"time"

	"github.com/neogan74/auditlens/internal/logger"
)

// Sweeper runs the retention sweeps on a fixed interval.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	log      logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. Start does nothing when interval is not positive.
func NewSweeper(m *Manager, interval time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{manager: m, interval: interval, log: log}
}

// Start launches the background loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Retention sweeper disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("Retention sweeper started", logger.Duration("interval", s.interval))
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one expiry, archive and purge pass. Errors are logged.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if _, err := s.manager.PruneExpired(ctx); err != nil {
		s.log.Warn("Expiry pass failed", logger.Error(err))
	}
	if _, err := s.manager.Archive(ctx, 0); err != nil {
		s.log.Warn("Archive pass failed", logger.Error(err))
	}
	if _, err := s.manager.Purge(ctx, 0); err != nil {
		s.log.Warn("Purge pass failed", logger.Error(err))
	}
}

// Stop ends the loop and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
