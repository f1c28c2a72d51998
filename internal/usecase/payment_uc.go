package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// PaymentUsecase applies provider collection results: a completed purchase
// opens the investment package and kicks off bonus calculation.
type PaymentUsecase struct {
	cfg          config.AppConfig
	payments     repository.PaymentRepository
	packages     repository.PackageRepository
	wallets      repository.WalletRepository
	audit        repository.AuditRepository
	orchestrator *OrchestratorUsecase
	logger       *zap.Logger
}

func NewPaymentUsecase(
	cfg config.AppConfig,
	payments repository.PaymentRepository,
	packages repository.PackageRepository,
	wallets repository.WalletRepository,
	audit repository.AuditRepository,
	orchestrator *OrchestratorUsecase,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		cfg:          cfg,
		payments:     payments,
		packages:     packages,
		wallets:      wallets,
		audit:        audit,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// HandleCompleted processes a successful collection notification. Replays
// are absorbed at every step: the status transition, the package insert, and
// the bonus pipeline are each individually idempotent.
func (uc *PaymentUsecase) HandleCompleted(ctx context.Context, reference string, providerRef *string, sourceIP string) (*domain.Payment, error) {
	payment, transitioned, err := uc.payments.MarkCompleted(ctx, reference, providerRef)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		uc.logger.Info("collection webhook replayed",
			zap.String("reference", reference), zap.Int64("payment_id", payment.ID))
	}

	if _, err := uc.wallets.Credit(ctx, &domain.WalletCredit{
		UserID:      payment.UserID,
		Amount:      payment.Amount,
		Type:        domain.TransactionTypeDeposit,
		Reference:   "DEP_" + reference,
		Description: "package purchase collection",
	}); err != nil && !errors.Is(err, xerrors.ErrDuplicate) {
		return nil, err
	}

	pkg := &domain.Package{
		UserID:         payment.UserID,
		PaymentID:      payment.ID,
		Principal:      payment.Amount,
		DailyRate:      uc.cfg.DailyRate,
		TotalLimitRate: uc.cfg.TotalLimit,
	}
	if err := uc.packages.CreateFromPayment(ctx, pkg); err != nil && !errors.Is(err, xerrors.ErrDuplicate) {
		return nil, err
	}

	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID:   domain.AuditActorSystem,
		Action:    domain.AuditActionWebhookReceived,
		IPAddress: sourceIP,
		Details: map[string]any{
			"reference":  reference,
			"payment_id": payment.ID,
			"user_id":    payment.UserID,
			"amount":     payment.Amount.String(),
			"replay":     !transitioned,
		},
	}); err != nil {
		uc.logger.Error("failed to audit collection webhook",
			zap.String("reference", reference), zap.Error(err))
	}

	if _, err := uc.orchestrator.ProcessPaymentBonuses(ctx, payment.ID, domain.AuditActorSystem); err != nil {
		switch {
		case errors.Is(err, xerrors.ErrStaleState),
			errors.Is(err, xerrors.ErrLockBusy),
			errors.Is(err, xerrors.ErrBonusesAlreadyExist),
			errors.Is(err, xerrors.ErrProcessingInProgress):
			// Bonuses are done or in flight; the webhook is still acknowledged.
		default:
			uc.logger.Error("bonus processing failed after collection",
				zap.Int64("payment_id", payment.ID), zap.Error(err))
		}
	}
	return payment, nil
}

// HandleFailed marks a pending payment failed. Non-pending payments are left
// untouched.
func (uc *PaymentUsecase) HandleFailed(ctx context.Context, reference, reason string) error {
	if err := uc.payments.MarkFailed(ctx, reference); err != nil {
		if errors.Is(err, xerrors.ErrStaleState) || errors.Is(err, xerrors.ErrNotFound) {
			uc.logger.Info("failure webhook for non-pending payment",
				zap.String("reference", reference), zap.String("reason", reason))
			return err
		}
		return err
	}
	uc.logger.Info("payment marked failed",
		zap.String("reference", reference), zap.String("reason", reason))
	return nil
}
