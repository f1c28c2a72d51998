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
	"bonus-service/internal/pkg/lock"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
	"bonus-service/pkg/utils"
)

// OrchestratorUsecase is the single entry point for turning a completed
// payment into stored, queued bonus rows. It owns the processing lease, the
// risk gate, and the error-to-audit conversion; lower layers just propagate.
type OrchestratorUsecase struct {
	cfg        config.AppConfig
	locker     lock.Locker
	payments   repository.PaymentRepository
	bonuses    repository.BonusRepository
	audit      repository.AuditRepository
	validation *ValidationUsecase
	calculator *CalculatorUsecase
	payout     *PayoutUsecase
	risk       *RiskAssessor
	pub        BonusEventPublisher
	ids        *utils.IDGenerator
	clk        clock.Clock
	logger     *zap.Logger
}

func NewOrchestratorUsecase(
	cfg config.AppConfig,
	locker lock.Locker,
	payments repository.PaymentRepository,
	bonuses repository.BonusRepository,
	audit repository.AuditRepository,
	validation *ValidationUsecase,
	calculator *CalculatorUsecase,
	payout *PayoutUsecase,
	risk *RiskAssessor,
	pub BonusEventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) *OrchestratorUsecase {
	return &OrchestratorUsecase{
		cfg:        cfg,
		locker:     locker,
		payments:   payments,
		bonuses:    bonuses,
		audit:      audit,
		validation: validation,
		calculator: calculator,
		payout:     payout,
		risk:       risk,
		pub:        pub,
		ids:        utils.NewIDGenerator(),
		clk:        clk,
		logger:     logger,
	}
}

// ProcessPaymentBonuses runs the full pipeline for one payment. The
// returned SecurityContext is always populated, also on failure. Callers
// treat ErrStaleState and ErrLockBusy as no-ops: the work is done or being
// done elsewhere.
func (uc *OrchestratorUsecase) ProcessPaymentBonuses(ctx context.Context, paymentID int64, actor string) (*domain.SecurityContext, error) {
	now := uc.clk.Now()
	sec := &domain.SecurityContext{
		ProcessingID: uc.ids.ProcessingID(now),
		PaymentID:    paymentID,
		ThreatLevel:  domain.ThreatLevelLow,
		StartedAt:    now,
	}

	key := lock.PaymentKey(paymentID)
	token, acquired, err := uc.locker.Acquire(ctx, key, uc.cfg.ProcessingLockTTL)
	if err != nil {
		sec.Fail("processing_lock")
		return uc.finish(ctx, sec, actor, fmt.Errorf("%w: lock store: %v", xerrors.ErrTransient, err))
	}
	if !acquired {
		sec.Fail("processing_lock")
		return uc.finish(ctx, sec, actor, fmt.Errorf("%w: payment %d already processing", xerrors.ErrLockBusy, paymentID))
	}
	sec.Pass("processing_lock")
	defer func() {
		if err := uc.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			uc.logger.Error("failed to release processing lock", zap.Int64("payment_id", paymentID), zap.Error(err))
		}
	}()

	payment, err := uc.securePaymentLookup(ctx, paymentID, sec)
	if err != nil {
		return uc.finish(ctx, sec, actor, err)
	}

	level, flags, err := uc.risk.AssessPayment(ctx, payment)
	if err != nil {
		sec.Fail("risk_assessment")
		return uc.finish(ctx, sec, actor, err)
	}
	sec.ThreatLevel = level
	for _, f := range flags {
		sec.Flag(f)
	}
	if level == domain.ThreatLevelHigh {
		sec.Fail("risk_assessment")
		uc.pub.PublishSecurityAlert(ctx, paymentID, level, flags)
		return uc.finish(ctx, sec, actor, fmt.Errorf("%w: high threat level for payment %d", xerrors.ErrValidation, paymentID))
	}
	sec.Pass("risk_assessment")

	if err := uc.validation.CanProcessBonuses(ctx, paymentID); err != nil {
		sec.Fail("processing_flag")
		return uc.finish(ctx, sec, actor, err)
	}
	sec.Pass("processing_flag")

	// From here a failure must reset the marker; success clears it together
	// with the stored rows.
	calc, err := uc.calculator.CalculateAll(ctx, payment)
	if err != nil {
		sec.Fail("calculation")
		uc.cleanupFlag(ctx, paymentID)
		return uc.finish(ctx, sec, actor, err)
	}
	sec.Pass("calculation")

	accepted, rejected, err := uc.validation.ValidateBatch(ctx, payment, calc.Rows)
	if err != nil {
		sec.Fail("batch_validation")
		uc.cleanupFlag(ctx, paymentID)
		return uc.finish(ctx, sec, actor, err)
	}
	sec.Pass("batch_validation")

	stored, err := uc.bonuses.StoreBatch(ctx, paymentID, accepted, sec.ProcessingID)
	if err != nil {
		sec.Fail("persist")
		uc.cleanupFlag(ctx, paymentID)
		return uc.finish(ctx, sec, actor, err)
	}
	sec.Pass("persist")
	sec.BonusesStored = stored

	queued, err := uc.payout.Enqueue(ctx, storedRows(accepted))
	if err != nil {
		// Rows are persisted; a failed enqueue is retried by the next sweep
		// rather than rolled back.
		uc.logger.Error("failed to enqueue stored bonuses",
			zap.Int64("payment_id", paymentID), zap.Error(err))
	}
	sec.BonusesQueued = queued

	sec.FinishedAt = uc.clk.Now()
	total := decimal.Zero
	distribution := make(map[string]string, len(accepted))
	for _, b := range accepted {
		total = total.Add(b.Amount)
		distribution[fmt.Sprintf("level_%d", b.Level)] = b.Amount.String()
	}

	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID: actor,
		Action:  domain.AuditActionBonusCalculated,
		Details: map[string]any{
			"payment_id":         paymentID,
			"processing_id":      sec.ProcessingID,
			"threat_level":       string(sec.ThreatLevel),
			"risk_flags":         sec.RiskFlags,
			"bonuses_stored":     stored,
			"bonuses_queued":     queued,
			"bonuses_rejected":   len(rejected),
			"total_amount":       total.String(),
			"level_distribution": distribution,
			"warnings":           calc.Warnings,
			"duration_ms":        sec.Duration().Milliseconds(),
		},
	}); err != nil {
		uc.logger.Error("failed to audit orchestration", zap.Int64("payment_id", paymentID), zap.Error(err))
	}

	uc.pub.PublishBonusBatch(ctx, paymentID, stored, total)
	uc.logger.Info("payment bonuses processed",
		zap.Int64("payment_id", paymentID),
		zap.String("processing_id", sec.ProcessingID),
		zap.Int("stored", stored),
		zap.Int("queued", queued),
		zap.Duration("took", sec.Duration()),
	)
	return sec, nil
}

func (uc *OrchestratorUsecase) securePaymentLookup(ctx context.Context, paymentID int64, sec *domain.SecurityContext) (*domain.Payment, error) {
	payment, err := uc.payments.GetByID(ctx, paymentID)
	if err != nil {
		sec.Fail("payment_lookup")
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		sec.Fail("payment_lookup")
		return nil, fmt.Errorf("%w: payment %d is %s", xerrors.ErrPaymentNotCompleted, paymentID, payment.Status)
	}
	if payment.BonusesCalculated {
		sec.Fail("payment_lookup")
		return nil, fmt.Errorf("%w: payment %d already calculated", xerrors.ErrStaleState, paymentID)
	}
	if uc.clk.Now().Sub(payment.CreatedAt) > uc.cfg.PaymentMaxAge {
		sec.Fail("payment_lookup")
		return nil, fmt.Errorf("%w: payment %d older than %s", xerrors.ErrValidation, paymentID, uc.cfg.PaymentMaxAge)
	}
	sec.Pass("payment_lookup")
	return payment, nil
}

func (uc *OrchestratorUsecase) cleanupFlag(ctx context.Context, paymentID int64) {
	if err := uc.validation.CleanupProcessingFlag(context.WithoutCancel(ctx), paymentID); err != nil {
		uc.logger.Error("failed to reset processing marker", zap.Int64("payment_id", paymentID), zap.Error(err))
	}
}

// finish stamps the context, writes the failure audit row, and hands the
// error back. No-op outcomes (stale state, busy lock) are audited at debug
// level only.
func (uc *OrchestratorUsecase) finish(ctx context.Context, sec *domain.SecurityContext, actor string, cause error) (*domain.SecurityContext, error) {
	sec.FinishedAt = uc.clk.Now()

	if errors.Is(cause, xerrors.ErrStaleState) || errors.Is(cause, xerrors.ErrLockBusy) ||
		errors.Is(cause, xerrors.ErrBonusesAlreadyExist) || errors.Is(cause, xerrors.ErrProcessingInProgress) {
		uc.logger.Debug("bonus processing skipped",
			zap.Int64("payment_id", sec.PaymentID), zap.Error(cause))
		return sec, cause
	}

	action := domain.AuditActionBonusCalculationErr
	if sec.ThreatLevel == domain.ThreatLevelHigh {
		action = domain.AuditActionSecurityBlock
	}
	if err := uc.audit.Insert(context.WithoutCancel(ctx), &domain.AuditEntry{
		ActorID: actor,
		Action:  action,
		Details: map[string]any{
			"payment_id":    sec.PaymentID,
			"processing_id": sec.ProcessingID,
			"threat_level":  string(sec.ThreatLevel),
			"risk_flags":    sec.RiskFlags,
			"checks_failed": sec.ChecksFailed,
			"error":         cause.Error(),
		},
	}); err != nil {
		uc.logger.Error("failed to audit orchestration failure",
			zap.Int64("payment_id", sec.PaymentID), zap.Error(err))
	}

	uc.logger.Error("bonus processing failed",
		zap.Int64("payment_id", sec.PaymentID),
		zap.String("processing_id", sec.ProcessingID),
		zap.Error(cause),
	)
	return sec, cause
}

// storedRows filters out rows skipped by the insert's conflict handling;
// only rows that received an ID go on the queue.
func storedRows(rows []*domain.ReferralBonus) []*domain.ReferralBonus {
	out := rows[:0:0]
	for _, b := range rows {
		if b.ID != 0 {
			out = append(out, b)
		}
	}
	return out
}
