package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment is a completed money-in purchase of an investment package. Flag
// transitions are monotonic: bonuses_calculated and the processing marker
// are only ever set forward.
type Payment struct {
	ID                     int64
	UserID                 int64
	Amount                 decimal.Decimal
	Currency               string
	Status                 PaymentStatus
	Reference              string
	ProviderReference      *string
	PackageCatalogID       int64
	IdempotencyKey         string
	BonusesCalculated      bool
	BonusesCalculatedAt    *time.Time
	BonusProcessingStarted *time.Time
	BonusProcessingID      *string
	CreatedAt              time.Time
}

// CanCalculateBonuses reports whether the payment is in a state where bonus
// calculation may begin.
func (p *Payment) CanCalculateBonuses() bool {
	return p.Status == PaymentStatusCompleted && !p.BonusesCalculated
}

// ProcessingStale reports whether a set bonus_processing_started marker is
// older than the staleness window and may be reclaimed.
func (p *Payment) ProcessingStale(now time.Time, window time.Duration) bool {
	if p.BonusProcessingStarted == nil {
		return true
	}
	return now.Sub(*p.BonusProcessingStarted) > window
}
