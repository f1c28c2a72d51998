package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/repository"
)

// DailyYieldStats summarises one accrual sweep.
type DailyYieldStats struct {
	Scanned     int
	Credited    int
	Completed   int
	Skipped     int
	Failed      int
	TotalPayout decimal.Decimal
}

// DailyYieldUsecase walks every active investment package once per day and
// credits its yield. Each package accrues in its own transaction so one bad
// row never stalls the sweep.
type DailyYieldUsecase struct {
	cfg      config.AppConfig
	packages repository.PackageRepository
	audit    repository.AuditRepository
	clk      clock.Clock
	logger   *zap.Logger
}

func NewDailyYieldUsecase(
	cfg config.AppConfig,
	packages repository.PackageRepository,
	audit repository.AuditRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *DailyYieldUsecase {
	return &DailyYieldUsecase{cfg: cfg, packages: packages, audit: audit, clk: clk, logger: logger}
}

// Run accrues yield for every active package. Re-running the same calendar
// day is harmless: the per-day credit reference makes repeats skip.
func (uc *DailyYieldUsecase) Run(ctx context.Context) (*DailyYieldStats, error) {
	day := uc.clk.Now().UTC()
	stats := &DailyYieldStats{TotalPayout: decimal.Zero}

	ids, err := uc.packages.ListActiveIDs(ctx, 0)
	if err != nil {
		return stats, fmt.Errorf("list active packages: %w", err)
	}
	stats.Scanned = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := uc.packages.AccrueDaily(ctx, id, day)
		if err != nil {
			stats.Failed++
			uc.logger.Error("daily accrual failed", zap.Int64("package_id", id), zap.Error(err))
			continue
		}
		if outcome.Skipped {
			stats.Skipped++
			continue
		}
		if outcome.Amount.IsPositive() {
			stats.Credited++
			stats.TotalPayout = stats.TotalPayout.Add(outcome.Amount)
		}
		if outcome.Completed {
			stats.Completed++
			uc.logger.Info("package reached payout cap",
				zap.Int64("package_id", id), zap.Int64("user_id", outcome.UserID))
		}
	}

	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID: domain.AuditActorSystem,
		Action:  domain.AuditActionDailyYieldRun,
		Details: map[string]any{
			"run_date":     day.Format("2006-01-02"),
			"scanned":      stats.Scanned,
			"credited":     stats.Credited,
			"completed":    stats.Completed,
			"skipped":      stats.Skipped,
			"failed":       stats.Failed,
			"total_payout": stats.TotalPayout.String(),
		},
	}); err != nil {
		uc.logger.Error("failed to audit daily yield run", zap.Error(err))
	}

	uc.logger.Info("daily yield sweep finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("credited", stats.Credited),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.String("total_payout", stats.TotalPayout.String()),
	)
	return stats, nil
}
