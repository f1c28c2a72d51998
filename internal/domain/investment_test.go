package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activePackage(principal string) *Package {
	p, _ := decimal.NewFromString(principal)
	return &Package{
		Principal:      p,
		DailyRate:      decimal.NewFromFloat(0.05),
		TotalLimitRate: decimal.NewFromFloat(0.75),
		TotalBonusPaid: decimal.Zero,
		Status:         PackageStatusActive,
	}
}

func TestDailyYieldRunsToCap(t *testing.T) {
	// Principal 1,000,000: cap 750,000, 50,000 per tick. Fourteen ticks pay
	// 700,000, the fifteenth pays the remaining 50,000 and completes, the
	// sixteenth is a no-op.
	pkg := activePackage("1000000")

	for tick := 1; tick <= 14; tick++ {
		step := pkg.ComputeDailyYield()
		require.True(t, step.Amount.Equal(decimal.NewFromInt(50000)), "tick %d paid %s", tick, step.Amount)
		require.False(t, step.Completed, "tick %d completed early", tick)
		pkg.TotalBonusPaid = pkg.TotalBonusPaid.Add(step.Amount)
	}
	require.True(t, pkg.TotalBonusPaid.Equal(decimal.NewFromInt(700000)))

	step := pkg.ComputeDailyYield()
	assert.True(t, step.Amount.Equal(decimal.NewFromInt(50000)))
	assert.True(t, step.Completed)
	pkg.TotalBonusPaid = pkg.TotalBonusPaid.Add(step.Amount)
	pkg.Status = PackageStatusCompleted

	step = pkg.ComputeDailyYield()
	assert.True(t, step.Amount.IsZero())
	assert.True(t, step.Completed)
}

func TestDailyYieldNeverExceedsCap(t *testing.T) {
	pkg := activePackage("100000")
	cap := pkg.PayoutCap()

	for i := 0; i < 40; i++ {
		step := pkg.ComputeDailyYield()
		pkg.TotalBonusPaid = pkg.TotalBonusPaid.Add(step.Amount)
		require.True(t, pkg.TotalBonusPaid.LessThanOrEqual(cap),
			"paid %s exceeds cap %s after tick %d", pkg.TotalBonusPaid, cap, i+1)
		if step.Completed {
			break
		}
	}
	assert.True(t, pkg.TotalBonusPaid.Equal(cap))
}

func TestDailyYieldTruncatesFractions(t *testing.T) {
	pkg := activePackage("333.33")
	step := pkg.ComputeDailyYield()
	// principal × 0.05 = 16.6665, truncated to 16.66
	assert.True(t, step.Amount.Equal(decimal.NewFromFloat(16.66)), "got %s", step.Amount)
}
