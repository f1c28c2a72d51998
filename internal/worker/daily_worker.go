package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/usecase"
)

// DailyYieldWorker fires the yield sweep once per day at the configured UTC
// hour. The sweep itself is idempotent per calendar day, so a restart inside
// the window causes no double accrual.
type DailyYieldWorker struct {
	cfg    config.AppConfig
	daily  *usecase.DailyYieldUsecase
	logger *zap.Logger
}

func NewDailyYieldWorker(cfg config.AppConfig, daily *usecase.DailyYieldUsecase, logger *zap.Logger) *DailyYieldWorker {
	return &DailyYieldWorker{cfg: cfg, daily: daily, logger: logger}
}

func (w *DailyYieldWorker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	w.logger.Info("daily yield worker started",
		zap.Int("run_hour_utc", w.cfg.DailyYieldHourUTC))

	for {
		wait := untilNextRun(time.Now().UTC(), w.cfg.DailyYieldHourUTC)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("daily yield worker stopping")
			return
		case <-timer.C:
			stats, err := w.daily.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("daily yield sweep failed", zap.Error(err))
				continue
			}
			w.logger.Info("daily yield sweep done",
				zap.Int("scanned", stats.Scanned),
				zap.Int("credited", stats.Credited),
				zap.Int("completed", stats.Completed))
		}
	}
}

// untilNextRun returns the time until the next occurrence of runHour UTC,
// never zero so a just-finished sweep cannot retrigger in the same second.
func untilNextRun(now time.Time, runHour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), runHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
