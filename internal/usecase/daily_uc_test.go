package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/domain"
	"bonus-service/internal/repository"
)

func TestDailyYieldRun(t *testing.T) {
	t.Run("mixed sweep outcomes", func(t *testing.T) {
		packages := &fakePackageRepo{
			activeIDs: []int64{1, 2, 3, 4},
			outcomes: map[int64]*repository.YieldOutcome{
				1: {PackageID: 1, UserID: 10, Amount: decimal.NewFromInt(5000)},
				2: {PackageID: 2, UserID: 11, Amount: decimal.NewFromInt(2500), Completed: true},
				3: {PackageID: 3, UserID: 12, Skipped: true},
			},
			errs: map[int64]error{4: errors.New("wallet row locked")},
		}
		audit := &fakeAuditRepo{}
		uc := NewDailyYieldUsecase(testConfig(), packages, audit, testClock(), testLogger())

		stats, err := uc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Scanned)
		assert.Equal(t, 2, stats.Credited)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Skipped)
		assert.Equal(t, 1, stats.Failed)
		assert.True(t, stats.TotalPayout.Equal(decimal.NewFromInt(7500)), "got %s", stats.TotalPayout)

		rows := audit.byAction(domain.AuditActionDailyYieldRun)
		require.Len(t, rows, 1)
		assert.Equal(t, "2025-06-01", rows[0].Details["run_date"])
		assert.Equal(t, 4, rows[0].Details["scanned"])
	})

	t.Run("one bad package does not stall the sweep", func(t *testing.T) {
		packages := &fakePackageRepo{
			activeIDs: []int64{1, 2},
			outcomes: map[int64]*repository.YieldOutcome{
				2: {PackageID: 2, UserID: 11, Amount: decimal.NewFromInt(1000)},
			},
			errs: map[int64]error{1: errors.New("deadlock detected")},
		}
		uc := NewDailyYieldUsecase(testConfig(), packages, &fakeAuditRepo{}, testClock(), testLogger())

		stats, err := uc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.Credited)
	})

	t.Run("empty sweep still audits", func(t *testing.T) {
		audit := &fakeAuditRepo{}
		uc := NewDailyYieldUsecase(testConfig(), &fakePackageRepo{}, audit, testClock(), testLogger())

		stats, err := uc.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Scanned)
		assert.Len(t, audit.byAction(domain.AuditActionDailyYieldRun), 1)
	})

	t.Run("cancelled context stops between packages", func(t *testing.T) {
		packages := &fakePackageRepo{activeIDs: []int64{1}}
		uc := NewDailyYieldUsecase(testConfig(), packages, &fakeAuditRepo{}, testClock(), testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := uc.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
