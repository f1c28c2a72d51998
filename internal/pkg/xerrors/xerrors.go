package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Generic
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
)

// Bonus engine error kinds
var (
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate record")
	ErrStaleState = errors.New("stale state")
	ErrLockBusy   = errors.New("lock busy")
	ErrTransient  = errors.New("transient io error")
	ErrIntegrity  = errors.New("integrity check failed")
	ErrFatal      = errors.New("fatal invariant violation")
	ErrOverflow   = errors.New("calculation overflow")
)

// Payments / wallets
var (
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBonusNotPayable      = errors.New("bonus not in payable state")
	ErrWithdrawalFinalized  = errors.New("withdrawal already processed")
	ErrSelfReferral         = errors.New("self referral not allowed")
	ErrReferralCycle        = errors.New("referral would create a cycle")
	ErrPaymentNotCompleted  = errors.New("payment not completed")
	ErrBonusesAlreadyExist  = errors.New("bonuses already calculated for payment")
	ErrProcessingInProgress = errors.New("bonus processing already in progress")
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}
