package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PackageStatus string

const (
	PackageStatusActive    PackageStatus = "active"
	PackageStatusCompleted PackageStatus = "completed"
)

// Package is a purchased investment that accrues daily yield until the
// total paid reaches the payout cap.
type Package struct {
	ID             int64
	UserID         int64
	PaymentID      int64
	Principal      decimal.Decimal
	DailyRate      decimal.Decimal
	TotalLimitRate decimal.Decimal
	TotalBonusPaid decimal.Decimal
	Status         PackageStatus
	CreatedAt      time.Time
}

// PayoutCap is principal × total limit rate.
func (p *Package) PayoutCap() decimal.Decimal {
	return p.Principal.Mul(p.TotalLimitRate)
}

// YieldStep is the outcome of one daily accrual on one package.
type YieldStep struct {
	Amount    decimal.Decimal
	Completed bool
}

// ComputeDailyYield returns today's accrual for a package: the daily rate on
// principal, truncated to two digits, never exceeding what remains under the
// cap. Amount zero with Completed set means the package was already at cap.
func (p *Package) ComputeDailyYield() YieldStep {
	cap := p.PayoutCap()
	if p.TotalBonusPaid.GreaterThanOrEqual(cap) {
		return YieldStep{Amount: decimal.Zero, Completed: true}
	}
	today := p.Principal.Mul(p.DailyRate)
	remaining := cap.Sub(p.TotalBonusPaid)
	if today.GreaterThan(remaining) {
		today = remaining
	}
	today = today.RoundDown(2)
	if today.LessThanOrEqual(decimal.Zero) {
		return YieldStep{Amount: decimal.Zero, Completed: false}
	}
	completed := p.TotalBonusPaid.Add(today).GreaterThanOrEqual(cap)
	return YieldStep{Amount: today, Completed: completed}
}
