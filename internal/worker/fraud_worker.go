package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/usecase"
)

// FraudWorker runs the periodic fraud and integrity sweep.
type FraudWorker struct {
	cfg    config.AppConfig
	fraud  *usecase.FraudUsecase
	logger *zap.Logger
}

func NewFraudWorker(cfg config.AppConfig, fraud *usecase.FraudUsecase, logger *zap.Logger) *FraudWorker {
	return &FraudWorker{cfg: cfg, fraud: fraud, logger: logger}
}

func (w *FraudWorker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(w.cfg.FraudSweepInterval)
	defer ticker.Stop()

	w.logger.Info("fraud worker started",
		zap.Duration("interval", w.cfg.FraudSweepInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("fraud worker stopping")
			return
		case <-ticker.C:
			report, err := w.fraud.RunAudit(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("fraud sweep failed", zap.Error(err))
				continue
			}
			if report.CriticalCount() > 0 {
				w.logger.Warn("fraud sweep found critical issues",
					zap.Int("critical", report.CriticalCount()),
					zap.Int("findings", len(report.Findings)))
			}
		}
	}
}
