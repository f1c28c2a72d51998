package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the single balance row per user. Balance never goes negative;
// every mutation holds an exclusive row lock and writes a Transaction.
type Wallet struct {
	ID        int64
	UserID    int64
	Balance   decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}

// Transaction is one immutable wallet movement. Reference is unique and is
// the idempotency key for retried credits.
type Transaction struct {
	ID           int64
	WalletID     int64
	UserID       int64
	Type         TransactionType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	Description  string
	CreatedAt    time.Time
}

type TransactionType string

const (
	TransactionTypeBonusPayout TransactionType = "bonus_payout"
	TransactionTypeDailyYield  TransactionType = "daily_yield"
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeRefund      TransactionType = "refund"
)

// WalletCredit describes one credit operation. Direction is always positive;
// debits use WalletDebit.
type WalletCredit struct {
	UserID      int64
	Amount      decimal.Decimal
	Type        TransactionType
	Reference   string
	Description string
}

type WalletDebit struct {
	UserID      int64
	Amount      decimal.Decimal
	Type        TransactionType
	Reference   string
	Description string
}
