package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically submits attempts whose deadline passed without a
// client-side forced submit reaching the server.
type Sweeper struct {
	service  *AttemptService
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewSweeper(service *AttemptService, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{service: service, interval: interval, batch: 100, logger: logger}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.service.ReconcileExpired(ctx, s.batch)
			if err != nil {
				s.logger.Warn("sweep expired attempts", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("submitted expired attempts", zap.Int("count", n))
			}
		}
	}
}
