package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/usecase"
)

// PayoutWorker drains the payout queue on a fixed interval. Multiple
// instances may run against the same database; the skip-locked claim keeps
// them from stepping on each other.
type PayoutWorker struct {
	cfg    config.AppConfig
	payout *usecase.PayoutUsecase
	logger *zap.Logger
}

func NewPayoutWorker(cfg config.AppConfig, payout *usecase.PayoutUsecase, logger *zap.Logger) *PayoutWorker {
	return &PayoutWorker{cfg: cfg, payout: payout, logger: logger}
}

// Run loops until the context is cancelled. wg is released on exit.
func (w *PayoutWorker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(w.cfg.PayoutInterval)
	defer ticker.Stop()

	w.logger.Info("payout worker started",
		zap.Duration("interval", w.cfg.PayoutInterval),
		zap.Int("batch_size", w.cfg.PayoutBatchSize))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payout worker stopping")
			return
		case <-ticker.C:
			stats, err := w.payout.Drain(ctx, w.cfg.PayoutBatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("payout drain failed", zap.Error(err))
				continue
			}
			if stats.Claimed > 0 {
				w.logger.Info("payout batch drained",
					zap.Int("claimed", stats.Claimed),
					zap.Int("completed", stats.Completed),
					zap.Int("failed", stats.Failed),
					zap.Int("exhausted", stats.Exhausted))
			}
		}
	}
}
