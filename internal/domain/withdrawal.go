package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending WithdrawalStatus = "pending"
	WithdrawalStatusSuccess WithdrawalStatus = "success"
	WithdrawalStatusFailed  WithdrawalStatus = "failed"
)

// Withdrawal is one money-out request. The provider callback finalizes it;
// failed withdrawals refund the wallet.
type Withdrawal struct {
	ID                  int64
	UserID              int64
	Amount              decimal.Decimal
	PhoneNumber         string
	Reference           string
	ProviderTransaction *string
	Status              WithdrawalStatus
	CreatedAt           time.Time
	FinalizedAt         *time.Time
}

// Finalized reports whether the withdrawal already reached a terminal state.
func (w *Withdrawal) Finalized() bool {
	return w.Status == WithdrawalStatusSuccess || w.Status == WithdrawalStatusFailed
}
