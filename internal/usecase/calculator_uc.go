package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/money"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// CalcResult is the calculator's outcome for one payment: the proposed rows
// in ascending level order plus an audit summary.
type CalcResult struct {
	Rows     []*domain.ReferralBonus
	Warnings []string
	Audit    map[string]any
}

// CalculatorUsecase turns a completed payment into proposed bonus rows by
// walking the purchaser's ancestors through the schedule.
type CalculatorUsecase struct {
	cfg        config.AppConfig
	schedule   *domain.BonusSchedule
	network    repository.NetworkRepository
	users      repository.UserRepository
	bonuses    repository.BonusRepository
	validation *ValidationUsecase
	logger     *zap.Logger
}

func NewCalculatorUsecase(
	cfg config.AppConfig,
	schedule *domain.BonusSchedule,
	network repository.NetworkRepository,
	users repository.UserRepository,
	bonuses repository.BonusRepository,
	validation *ValidationUsecase,
	logger *zap.Logger,
) *CalculatorUsecase {
	return &CalculatorUsecase{
		cfg:        cfg,
		schedule:   schedule,
		network:    network,
		users:      users,
		bonuses:    bonuses,
		validation: validation,
		logger:     logger,
	}
}

// CalculateAll produces the per-level rows for a payment. Ancestors come
// back depth ascending, so emitted rows are ordered by level.
func (uc *CalculatorUsecase) CalculateAll(ctx context.Context, payment *domain.Payment) (*CalcResult, error) {
	if err := uc.validation.ValidatePurchase(ctx, payment); err != nil {
		return nil, err
	}

	existing, err := uc.bonuses.CountByPayment(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: existing bonus check: %v", xerrors.ErrTransient, err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: payment %d has %d bonus rows",
			xerrors.ErrBonusesAlreadyExist, payment.ID, existing)
	}

	ancestors, err := uc.network.Ancestors(ctx, payment.UserID, uc.cfg.MaxLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: ancestor walk: %v", xerrors.ErrTransient, err)
	}

	result := &CalcResult{
		Audit: map[string]any{
			"payment_id":     payment.ID,
			"purchase_user":  payment.UserID,
			"purchase_total": payment.Amount.String(),
			"ancestor_count": len(ancestors),
		},
	}
	if len(ancestors) == 0 {
		return result, nil
	}

	ids := make([]int64, 0, len(ancestors))
	for _, a := range ancestors {
		ids = append(ids, a.UserID)
	}
	recipients, err := uc.users.EligibilityByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: eligibility lookup: %v", xerrors.ErrTransient, err)
	}

	gates := uc.validation.gates()
	now := uc.validation.clk.Now()
	halfPurchase := payment.Amount.Mul(decimal.NewFromFloat(0.5))

	for _, a := range ancestors {
		recipient, ok := recipients[a.UserID]
		if !ok {
			uc.logger.Warn("ancestor missing from users table",
				zap.Int64("user_id", a.UserID), zap.Int64("payment_id", payment.ID))
			continue
		}
		if eligible, reason := recipient.EligibleForBonus(gates, now); !eligible {
			result.Audit[fmt.Sprintf("skipped_level_%d", a.Depth)] = reason
			continue
		}

		pct := uc.schedule.Percentage(a.Depth)
		raw := payment.Amount.Mul(pct)
		if raw.GreaterThan(halfPurchase) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("level %d raw bonus %s exceeds half of purchase %s", a.Depth, raw, payment.Amount))
		}

		amount := money.Quantize(raw)
		if err := money.CheckRange(amount, uc.cfg.MinBonusAmount); err != nil {
			if amount.LessThan(uc.cfg.MinBonusAmount) {
				// Sub-minimum bonuses are skipped, not errors.
				continue
			}
			return nil, err
		}

		result.Rows = append(result.Rows, &domain.ReferralBonus{
			UserID:           a.UserID,
			ReferrerID:       a.UserID,
			ReferredID:       payment.UserID,
			PaymentID:        payment.ID,
			Level:            a.Depth,
			Amount:           amount,
			BonusPercentage:  pct,
			QualifyingAmount: payment.Amount,
			Status:           domain.BonusStatusPending,
		})
	}

	result.Audit["proposed_rows"] = len(result.Rows)
	return result, nil
}

// ValidateIntegrity recomputes every stored bonus for a payment and reports
// rows whose amount drifted by more than 0.01.
func (uc *CalculatorUsecase) ValidateIntegrity(ctx context.Context, payment *domain.Payment) ([]string, error) {
	stored, err := uc.bonuses.ListByPayment(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list stored bonuses: %v", xerrors.ErrTransient, err)
	}

	tolerance := decimal.NewFromFloat(0.01)
	var mismatches []string
	for _, b := range stored {
		expected := money.Quantize(payment.Amount.Mul(uc.schedule.Percentage(b.Level)))
		if b.Amount.Sub(expected).Abs().GreaterThan(tolerance) {
			mismatches = append(mismatches, fmt.Sprintf(
				"bonus %d level %d: stored %s, recomputed %s", b.ID, b.Level, b.Amount, expected))
		}
	}

	if len(mismatches) > 0 {
		return mismatches, fmt.Errorf("%w: %d bonus rows disagree with recalculation",
			xerrors.ErrIntegrity, len(mismatches))
	}
	return nil, nil
}
