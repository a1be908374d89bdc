package service

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHousekeepingInterval is used when no interval is configured
const DefaultHousekeepingInterval = time.Hour

// SessionPruner deletes sessions past their expiry
type SessionPruner interface {
	PruneSessions(ctx context.Context) (int64, error)
}

// HousekeepingService periodically removes expired sessions so the session
// table and the fingerprint lookups stay small.
type HousekeepingService struct {
	pruner   SessionPruner
	logger   *slog.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval falls back to DefaultHousekeepingInterval.
func NewHousekeepingService(pruner SessionPruner, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		pruner:   pruner,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background until Stop is called
func (s *HousekeepingService) Start() {
	go s.run()
	s.logger.Info("housekeeping service started", "interval", s.interval)
}

// Stop blocks until the worker has finished its current pass
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs a single pass
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	deleted, err := s.pruner.PruneSessions(ctx)
	if err != nil {
		s.logger.Error("failed to prune expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned expired sessions", "count", deleted)
	}
}
