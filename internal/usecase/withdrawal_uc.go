package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/money"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// Disburser submits payouts to the mobile-money provider.
type Disburser interface {
	Disburse(ctx context.Context, reference, phoneNumber string, amount decimal.Decimal) error
}

// WithdrawalUsecase moves bonus money out of wallets. The debit happens
// before the provider call; the async callback either confirms the payout or
// refunds the wallet.
type WithdrawalUsecase struct {
	cfg         config.AppConfig
	withdrawals repository.WithdrawalRepository
	wallets     repository.WalletRepository
	users       repository.UserRepository
	audit       repository.AuditRepository
	disburser   Disburser
	clk         clock.Clock
	logger      *zap.Logger
}

func NewWithdrawalUsecase(
	cfg config.AppConfig,
	withdrawals repository.WithdrawalRepository,
	wallets repository.WalletRepository,
	users repository.UserRepository,
	audit repository.AuditRepository,
	disburser Disburser,
	clk clock.Clock,
	logger *zap.Logger,
) *WithdrawalUsecase {
	return &WithdrawalUsecase{
		cfg:         cfg,
		withdrawals: withdrawals,
		wallets:     wallets,
		users:       users,
		audit:       audit,
		disburser:   disburser,
		clk:         clk,
		logger:      logger,
	}
}

// Initiate debits the wallet and submits the disbursement. If the provider
// rejects the request outright the debit is refunded immediately.
func (uc *WithdrawalUsecase) Initiate(ctx context.Context, userID int64, amount decimal.Decimal) (*domain.Withdrawal, error) {
	amount = money.Quantize(amount)
	if err := money.CheckRange(amount, uc.cfg.MinWithdrawalAmount); err != nil {
		return nil, err
	}

	user, err := uc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user %d is inactive", xerrors.ErrValidation, userID)
	}

	reference := fmt.Sprintf("WD_%d_%s", userID, uc.clk.Now().UTC().Format("20060102150405"))

	if _, err := uc.wallets.Debit(ctx, &domain.WalletDebit{
		UserID:      userID,
		Amount:      amount,
		Type:        domain.TransactionTypeWithdrawal,
		Reference:   reference,
		Description: "bonus withdrawal",
	}); err != nil {
		return nil, err
	}

	w := &domain.Withdrawal{
		UserID:      userID,
		Amount:      amount,
		PhoneNumber: user.PhoneNumber,
		Reference:   reference,
	}
	if err := uc.withdrawals.Create(ctx, w); err != nil {
		uc.refund(ctx, w, "withdrawal record creation failed")
		return nil, err
	}

	if err := uc.disburser.Disburse(ctx, reference, user.PhoneNumber, amount); err != nil {
		if errors.Is(err, xerrors.ErrTransient) || errors.Is(err, xerrors.ErrDuplicate) {
			// The provider may still process it; the callback decides.
			uc.logger.Warn("disbursement submission uncertain",
				zap.String("reference", reference), zap.Error(err))
			return w, nil
		}
		if _, fErr := uc.withdrawals.Finalize(ctx, reference, domain.WithdrawalStatusFailed, nil); fErr != nil {
			uc.logger.Error("failed to mark rejected withdrawal",
				zap.String("reference", reference), zap.Error(fErr))
		}
		uc.refund(ctx, w, "provider rejected disbursement")
		return nil, err
	}

	uc.logger.Info("withdrawal initiated",
		zap.Int64("user_id", userID),
		zap.String("reference", reference),
		zap.String("amount", amount.String()),
	)
	return w, nil
}

// HandleCallback applies the provider's terminal verdict. Repeated callbacks
// for the same reference are acknowledged without a second state change.
func (uc *WithdrawalUsecase) HandleCallback(ctx context.Context, reference, status string, providerTxn *string) (*domain.Withdrawal, error) {
	var target domain.WithdrawalStatus
	switch status {
	case "success", "completed":
		target = domain.WithdrawalStatusSuccess
	case "failed", "cancelled", "rejected":
		target = domain.WithdrawalStatusFailed
	default:
		return nil, fmt.Errorf("%w: unknown withdrawal status %q", xerrors.ErrInvalidRequest, status)
	}

	w, err := uc.withdrawals.Finalize(ctx, reference, target, providerTxn)
	if err != nil {
		if errors.Is(err, xerrors.ErrWithdrawalFinalized) {
			uc.logger.Info("withdrawal callback replayed",
				zap.String("reference", reference), zap.String("status", string(w.Status)))
			return w, err
		}
		return nil, err
	}

	if target == domain.WithdrawalStatusFailed {
		uc.refund(ctx, w, "provider reported failure")
	}

	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID: domain.AuditActorSystem,
		Action:  domain.AuditActionWithdrawalUpdate,
		Details: map[string]any{
			"reference": reference,
			"user_id":   w.UserID,
			"status":    string(target),
			"amount":    w.Amount.String(),
		},
	}); err != nil {
		uc.logger.Error("failed to audit withdrawal update",
			zap.String("reference", reference), zap.Error(err))
	}

	uc.logger.Info("withdrawal finalized",
		zap.String("reference", reference), zap.String("status", string(target)))
	return w, nil
}

// refund credits the debited amount back. The REFUND_ prefix keeps the
// reference unique against the original debit.
func (uc *WithdrawalUsecase) refund(ctx context.Context, w *domain.Withdrawal, reason string) {
	if _, err := uc.wallets.Credit(ctx, &domain.WalletCredit{
		UserID:      w.UserID,
		Amount:      w.Amount,
		Type:        domain.TransactionTypeRefund,
		Reference:   "REFUND_" + w.Reference,
		Description: reason,
	}); err != nil && !errors.Is(err, xerrors.ErrDuplicate) {
		uc.logger.Error("failed to refund withdrawal",
			zap.String("reference", w.Reference),
			zap.Int64("user_id", w.UserID),
			zap.Error(err))
	}
}
