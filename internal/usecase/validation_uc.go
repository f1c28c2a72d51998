package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

// RejectedBonus pairs a dropped row with the reason it was dropped.
type RejectedBonus struct {
	Bonus  *domain.ReferralBonus
	Reason string
}

// ValidationUsecase runs the acceptance chain for proposed bonus rows and
// guards the payment-level processing state.
type ValidationUsecase struct {
	cfg      config.AppConfig
	users    repository.UserRepository
	payments repository.PaymentRepository
	bonuses  repository.BonusRepository
	network  repository.NetworkRepository
	clk      clock.Clock
	logger   *zap.Logger
}

func NewValidationUsecase(
	cfg config.AppConfig,
	users repository.UserRepository,
	payments repository.PaymentRepository,
	bonuses repository.BonusRepository,
	network repository.NetworkRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *ValidationUsecase {
	return &ValidationUsecase{
		cfg:      cfg,
		users:    users,
		payments: payments,
		bonuses:  bonuses,
		network:  network,
		clk:      clk,
		logger:   logger,
	}
}

func (uc *ValidationUsecase) gates() domain.EligibilityGates {
	return domain.EligibilityGates{
		RequireVerified:  uc.cfg.RequireVerified,
		RequireKYC:       uc.cfg.RequireKYC,
		RequireEligible:  true,
		MinAccountAge:    uc.cfg.MinAccountAge,
		AllowedCountries: uc.cfg.AllowedCountries,
	}
}

// ValidateShape checks required fields and ranges on one proposed row.
func (uc *ValidationUsecase) ValidateShape(b *domain.ReferralBonus) error {
	if b.UserID == 0 || b.PaymentID == 0 {
		return fmt.Errorf("%w: missing user or payment", xerrors.ErrValidation)
	}
	if b.Level < 1 || b.Level > uc.cfg.MaxLevel {
		return fmt.Errorf("%w: level %d out of range [1, %d]", xerrors.ErrValidation, b.Level, uc.cfg.MaxLevel)
	}
	if b.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount %s not positive", xerrors.ErrValidation, b.Amount)
	}
	if b.Amount.GreaterThan(uc.cfg.MaxBonusAmount) {
		return fmt.Errorf("%w: amount %s exceeds %s", xerrors.ErrValidation, b.Amount, uc.cfg.MaxBonusAmount)
	}
	return nil
}

// ValidatePurchase checks the qualifying payment once per batch.
func (uc *ValidationUsecase) ValidatePurchase(ctx context.Context, payment *domain.Payment) error {
	if payment == nil {
		return fmt.Errorf("%w: payment missing", xerrors.ErrValidation)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return fmt.Errorf("%w: payment %d is %s", xerrors.ErrValidation, payment.ID, payment.Status)
	}
	if payment.Amount.LessThan(uc.cfg.MinPurchaseForBonus) {
		return fmt.Errorf("%w: purchase %s below minimum %s",
			xerrors.ErrValidation, payment.Amount, uc.cfg.MinPurchaseForBonus)
	}
	if payment.Currency != uc.cfg.Currency {
		return fmt.Errorf("%w: currency %s not accepted", xerrors.ErrValidation, payment.Currency)
	}
	if uc.clk.Now().Sub(payment.CreatedAt) > uc.cfg.PaymentMaxAge {
		return fmt.Errorf("%w: payment %d older than %s", xerrors.ErrValidation, payment.ID, uc.cfg.PaymentMaxAge)
	}
	return nil
}

// ValidateBusinessRules enforces the per-level amount ceilings.
func (uc *ValidationUsecase) ValidateBusinessRules(b *domain.ReferralBonus) error {
	if b.Level == 1 && b.Amount.GreaterThan(uc.cfg.LevelOneMaxBonus) {
		return fmt.Errorf("%w: level 1 amount %s exceeds %s",
			xerrors.ErrValidation, b.Amount, uc.cfg.LevelOneMaxBonus)
	}
	if b.Level > 10 && b.Amount.GreaterThan(uc.cfg.DeepLevelMaxBonus) {
		return fmt.Errorf("%w: level %d amount %s exceeds %s",
			xerrors.ErrValidation, b.Level, b.Amount, uc.cfg.DeepLevelMaxBonus)
	}
	return nil
}

// ValidateOne runs the full chain for a single proposed row. The recipient
// may be passed in from a batch lookup; when nil it is fetched.
func (uc *ValidationUsecase) ValidateOne(ctx context.Context, payment *domain.Payment, b *domain.ReferralBonus, recipient *domain.User) error {
	if err := uc.ValidateShape(b); err != nil {
		return err
	}

	exists, err := uc.bonuses.ExistsForPaymentUserLevel(ctx, b.PaymentID, b.UserID, b.Level)
	if err != nil {
		return fmt.Errorf("%w: duplicate check: %v", xerrors.ErrTransient, err)
	}
	if exists {
		return fmt.Errorf("%w: bonus (payment=%d user=%d level=%d)",
			xerrors.ErrDuplicate, b.PaymentID, b.UserID, b.Level)
	}

	if err := uc.ValidatePurchase(ctx, payment); err != nil {
		return err
	}

	if recipient == nil {
		recipient, err = uc.users.GetByID(ctx, b.UserID)
		if err != nil {
			return fmt.Errorf("%w: recipient %d: %v", xerrors.ErrValidation, b.UserID, err)
		}
	}
	if ok, reason := recipient.EligibleForBonus(uc.gates(), uc.clk.Now()); !ok {
		return fmt.Errorf("%w: recipient %d: %s", xerrors.ErrValidation, b.UserID, reason)
	}

	if b.ReferredID != 0 {
		ok, err := uc.network.HasRelationship(ctx, b.UserID, b.ReferredID, b.Level)
		if err != nil {
			return fmt.Errorf("%w: relationship check: %v", xerrors.ErrTransient, err)
		}
		if !ok {
			return fmt.Errorf("%w: no network row (%d, %d, depth=%d)",
				xerrors.ErrValidation, b.UserID, b.ReferredID, b.Level)
		}
	}

	return uc.ValidateBusinessRules(b)
}

// ValidateBatch splits proposed rows into accepted and rejected. Recipient
// flags come from one bulk lookup; per-user daily and hourly bonus limits
// drop rows that would push the recipient over them.
func (uc *ValidationUsecase) ValidateBatch(ctx context.Context, payment *domain.Payment, rows []*domain.ReferralBonus) ([]*domain.ReferralBonus, []RejectedBonus, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, b := range rows {
		ids = append(ids, b.UserID)
	}
	recipients, err := uc.users.EligibilityByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: batch eligibility lookup: %v", xerrors.ErrTransient, err)
	}

	now := uc.clk.Now()
	dayStart := now.Add(-24 * time.Hour)
	hourStart := now.Add(-time.Hour)

	var accepted []*domain.ReferralBonus
	var rejected []RejectedBonus
	for _, b := range rows {
		if err := uc.ValidateOne(ctx, payment, b, recipients[b.UserID]); err != nil {
			rejected = append(rejected, RejectedBonus{Bonus: b, Reason: err.Error()})
			continue
		}

		if uc.cfg.DailyBonusLimitPerUser.IsPositive() {
			sum, err := uc.bonuses.SumToUserSince(ctx, b.UserID, dayStart)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: daily limit lookup: %v", xerrors.ErrTransient, err)
			}
			if sum.Add(b.Amount).GreaterThan(uc.cfg.DailyBonusLimitPerUser) {
				rejected = append(rejected, RejectedBonus{
					Bonus:  b,
					Reason: fmt.Sprintf("daily bonus limit exceeded for user %d", b.UserID),
				})
				continue
			}
		}

		if uc.cfg.HourlyBonusLimitPerUser.IsPositive() {
			sum, err := uc.bonuses.SumToUserSince(ctx, b.UserID, hourStart)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: hourly limit lookup: %v", xerrors.ErrTransient, err)
			}
			if sum.Add(b.Amount).GreaterThan(uc.cfg.HourlyBonusLimitPerUser) {
				rejected = append(rejected, RejectedBonus{
					Bonus:  b,
					Reason: fmt.Sprintf("hourly bonus limit exceeded for user %d", b.UserID),
				})
				continue
			}
		}

		accepted = append(accepted, b)
	}

	if len(rejected) > 0 {
		uc.logger.Warn("bonus rows rejected in batch validation",
			zap.Int64("payment_id", payment.ID),
			zap.Int("rejected", len(rejected)),
			zap.Int("accepted", len(accepted)),
		)
	}
	return accepted, rejected, nil
}

// CanProcessBonuses acquires the payment-level processing marker.
func (uc *ValidationUsecase) CanProcessBonuses(ctx context.Context, paymentID int64) error {
	return uc.payments.BeginBonusProcessing(ctx, paymentID, uc.cfg.ProcessingStalenessWindow)
}

// CleanupProcessingFlag resets the marker after a failed run. The success
// path clears it atomically with the stored rows.
func (uc *ValidationUsecase) CleanupProcessingFlag(ctx context.Context, paymentID int64) error {
	return uc.payments.ClearBonusProcessing(ctx, paymentID)
}
