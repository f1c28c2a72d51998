package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// PayoutItem is one durable queue row. One row per bonus; attempt_count
// never exceeds max_attempts.
type PayoutItem struct {
	ID           int64
	BonusID      int64
	UserID       int64
	Amount       decimal.Decimal
	Status       PayoutStatus
	AttemptCount int
	MaxAttempts  int
	NextAttempt  *time.Time
	LastAttempt  *time.Time
	LastError    *string
	CreatedAt    time.Time
}

// Exhausted reports whether the row has used all of its attempts.
func (i *PayoutItem) Exhausted() bool {
	return i.AttemptCount >= i.MaxAttempts
}
