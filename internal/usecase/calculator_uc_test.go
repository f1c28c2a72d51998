package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

type calcFixture struct {
	uc       *CalculatorUsecase
	users    *fakeUserRepo
	network  *fakeNetworkRepo
	bonuses  *fakeBonusRepo
	payments *fakePaymentRepo
}

func newCalcFixture(t *testing.T) *calcFixture {
	t.Helper()
	cfg := testConfig()
	clk := testClock()
	users := &fakeUserRepo{users: map[int64]*domain.User{}}
	network := &fakeNetworkRepo{}
	bonuses := &fakeBonusRepo{}
	payments := &fakePaymentRepo{payments: map[int64]*domain.Payment{}}

	validation := NewValidationUsecase(cfg, users, payments, bonuses, network, clk, testLogger())
	schedule := domain.DefaultBonusSchedule()
	require.NoError(t, schedule.Validate())

	return &calcFixture{
		uc:       NewCalculatorUsecase(cfg, schedule, network, users, bonuses, validation, testLogger()),
		users:    users,
		network:  network,
		bonuses:  bonuses,
		payments: payments,
	}
}

func activeUser(id int64) *domain.User {
	return &domain.User{
		ID:            id,
		CountryCode:   "UG",
		Active:        true,
		BonusEligible: true,
		KYCStatus:     domain.KYCStatusPending,
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func completedPayment(id, userID int64, amount int64) *domain.Payment {
	return &domain.Payment{
		ID:        id,
		UserID:    userID,
		Amount:    decimal.NewFromInt(amount),
		Currency:  "UGX",
		Status:    domain.PaymentStatusCompleted,
		CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestCalculateAll(t *testing.T) {
	t.Run("two level chain", func(t *testing.T) {
		// A referred B, B referred C; C buys a 100000 package. B earns the
		// level 1 bonus, A the level 2 bonus, in ascending level order.
		f := newCalcFixture(t)
		f.users.users[1] = activeUser(1) // A
		f.users.users[2] = activeUser(2) // B
		f.network.ancestors = []*domain.Ancestor{
			{UserID: 2, Depth: 1},
			{UserID: 1, Depth: 2},
		}
		payment := completedPayment(55, 3, 100000)

		result, err := f.uc.CalculateAll(context.Background(), payment)
		require.NoError(t, err)
		require.Len(t, result.Rows, 2)

		first, second := result.Rows[0], result.Rows[1]
		assert.Equal(t, int64(2), first.UserID)
		assert.Equal(t, 1, first.Level)
		assert.True(t, first.Amount.Equal(decimal.NewFromInt(10000)), "got %s", first.Amount)

		assert.Equal(t, int64(1), second.UserID)
		assert.Equal(t, 2, second.Level)
		assert.True(t, second.Amount.Equal(decimal.NewFromInt(5000)), "got %s", second.Amount)

		for _, b := range result.Rows {
			assert.Equal(t, int64(3), b.ReferredID)
			assert.Equal(t, int64(55), b.PaymentID)
			assert.Equal(t, domain.BonusStatusPending, b.Status)
			assert.True(t, b.QualifyingAmount.Equal(payment.Amount))
		}
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		f := newCalcFixture(t)
		for i := int64(1); i <= 5; i++ {
			f.users.users[i] = activeUser(i)
			f.network.ancestors = append(f.network.ancestors, &domain.Ancestor{UserID: i, Depth: int(i)})
		}
		payment := completedPayment(55, 9, 250000)

		first, err := f.uc.CalculateAll(context.Background(), payment)
		require.NoError(t, err)
		second, err := f.uc.CalculateAll(context.Background(), payment)
		require.NoError(t, err)

		require.Equal(t, len(first.Rows), len(second.Rows))
		for i := range first.Rows {
			assert.Equal(t, first.Rows[i].UserID, second.Rows[i].UserID)
			assert.Equal(t, first.Rows[i].Level, second.Rows[i].Level)
			assert.True(t, first.Rows[i].Amount.Equal(second.Rows[i].Amount))
		}
	})

	t.Run("skips ineligible ancestor without breaking the chain", func(t *testing.T) {
		f := newCalcFixture(t)
		f.users.users[1] = activeUser(1)
		inactive := activeUser(2)
		inactive.Active = false
		f.users.users[2] = inactive
		f.network.ancestors = []*domain.Ancestor{
			{UserID: 2, Depth: 1},
			{UserID: 1, Depth: 2},
		}

		result, err := f.uc.CalculateAll(context.Background(), completedPayment(55, 3, 100000))
		require.NoError(t, err)
		require.Len(t, result.Rows, 1)
		assert.Equal(t, 2, result.Rows[0].Level)
		assert.Equal(t, "user inactive", result.Audit["skipped_level_1"])
	})

	t.Run("drops sub minimum amounts", func(t *testing.T) {
		f := newCalcFixture(t)
		f.users.users[1] = activeUser(1)
		f.network.ancestors = []*domain.Ancestor{{UserID: 1, Depth: 6}}

		// Level 6 pays 0.5%, so a 10000 purchase yields 50. Raising the
		// minimum above that drops the row.
		cfg := testConfig()
		cfg.MinBonusAmount = decimal.NewFromInt(100)
		f.uc.cfg = cfg

		result, err := f.uc.CalculateAll(context.Background(), completedPayment(55, 3, 10000))
		require.NoError(t, err)
		assert.Empty(t, result.Rows)
	})

	t.Run("refuses payments that already have bonuses", func(t *testing.T) {
		f := newCalcFixture(t)
		f.bonuses.countByPayment = 3

		_, err := f.uc.CalculateAll(context.Background(), completedPayment(55, 3, 100000))
		require.ErrorIs(t, err, xerrors.ErrBonusesAlreadyExist)
	})

	t.Run("no ancestors yields no rows", func(t *testing.T) {
		f := newCalcFixture(t)
		result, err := f.uc.CalculateAll(context.Background(), completedPayment(55, 3, 100000))
		require.NoError(t, err)
		assert.Empty(t, result.Rows)
		assert.Equal(t, 0, result.Audit["ancestor_count"])
	})

	t.Run("rejects incomplete payments", func(t *testing.T) {
		f := newCalcFixture(t)
		payment := completedPayment(55, 3, 100000)
		payment.Status = domain.PaymentStatusPending

		_, err := f.uc.CalculateAll(context.Background(), payment)
		require.ErrorIs(t, err, xerrors.ErrValidation)
	})
}

func TestValidateIntegrity(t *testing.T) {
	t.Run("accepts matching rows", func(t *testing.T) {
		f := newCalcFixture(t)
		payment := completedPayment(55, 3, 100000)
		f.bonuses.listRows = []*domain.ReferralBonus{
			{ID: 1, Level: 1, Amount: decimal.NewFromInt(10000)},
			{ID: 2, Level: 2, Amount: decimal.NewFromInt(5000)},
		}

		mismatches, err := f.uc.ValidateIntegrity(context.Background(), payment)
		require.NoError(t, err)
		assert.Empty(t, mismatches)
	})

	t.Run("flags drifted amounts", func(t *testing.T) {
		f := newCalcFixture(t)
		payment := completedPayment(55, 3, 100000)
		f.bonuses.listRows = []*domain.ReferralBonus{
			{ID: 1, Level: 1, Amount: decimal.NewFromInt(9000)},
		}

		mismatches, err := f.uc.ValidateIntegrity(context.Background(), payment)
		require.ErrorIs(t, err, xerrors.ErrIntegrity)
		require.Len(t, mismatches, 1)
		assert.Contains(t, mismatches[0], "bonus 1")
	})
}
