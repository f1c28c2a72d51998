package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BonusStatus string

const (
	BonusStatusPending   BonusStatus = "pending"
	BonusStatusApproved  BonusStatus = "approved"
	BonusStatusPaid      BonusStatus = "paid"
	BonusStatusCancelled BonusStatus = "cancelled"
	BonusStatusFailed    BonusStatus = "failed"
)

// ReferralBonus is one multi-level bonus row. (payment, user, level) is
// unique and acts as the idempotency key for creation. Rows never change
// after reaching paid.
type ReferralBonus struct {
	ID                  int64
	UserID              int64
	ReferrerID          int64
	ReferredID          int64
	PaymentID           int64
	Level               int
	Amount              decimal.Decimal
	BonusPercentage     decimal.Decimal
	QualifyingAmount    decimal.Decimal
	Status              BonusStatus
	PayoutTransactionID *int64
	PaidAt              *time.Time
	CreatedAt           time.Time
}

// Payable reports whether the payout worker may move this bonus to paid.
func (b *ReferralBonus) Payable() bool {
	return b.Status == BonusStatusPending || b.Status == BonusStatusApproved
}

// DailyBonus is the audit row written for each daily-yield accrual. Created
// directly in status paid; never queued.
type DailyBonus struct {
	ID        int64
	UserID    int64
	PackageID int64
	Type      string
	Amount    decimal.Decimal
	Status    BonusStatus
	CreatedAt time.Time
}

const DailyBonusType = "daily"
