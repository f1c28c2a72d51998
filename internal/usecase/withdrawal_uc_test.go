package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

type withdrawalFixture struct {
	uc          *WithdrawalUsecase
	withdrawals *fakeWithdrawalRepo
	wallets     *fakeWalletRepo
	users       *fakeUserRepo
	audit       *fakeAuditRepo
	disburser   *fakeDisburser
}

func newWithdrawalFixture() *withdrawalFixture {
	f := &withdrawalFixture{
		withdrawals: &fakeWithdrawalRepo{},
		wallets:     &fakeWalletRepo{},
		users:       &fakeUserRepo{users: map[int64]*domain.User{}},
		audit:       &fakeAuditRepo{},
		disburser:   &fakeDisburser{},
	}
	f.users.users[10] = &domain.User{ID: 10, PhoneNumber: "256700111222", Active: true}
	f.uc = NewWithdrawalUsecase(testConfig(), f.withdrawals, f.wallets, f.users, f.audit,
		f.disburser, testClock(), testLogger())
	return f
}

func TestWithdrawalInitiate(t *testing.T) {
	amount := decimal.NewFromInt(25000)

	t.Run("debits then disburses", func(t *testing.T) {
		f := newWithdrawalFixture()

		w, err := f.uc.Initiate(context.Background(), 10, amount)
		require.NoError(t, err)
		assert.Equal(t, "WD_10_20250601120000", w.Reference)
		assert.Equal(t, "256700111222", w.PhoneNumber)

		require.Len(t, f.wallets.debits, 1)
		assert.Equal(t, domain.TransactionTypeWithdrawal, f.wallets.debits[0].Type)
		assert.Equal(t, []string{w.Reference}, f.disburser.calls)
		assert.Empty(t, f.wallets.credits)
	})

	t.Run("rejects amounts below the minimum", func(t *testing.T) {
		f := newWithdrawalFixture()

		_, err := f.uc.Initiate(context.Background(), 10, decimal.NewFromInt(999))
		require.Error(t, err)
		assert.Empty(t, f.wallets.debits)
	})

	t.Run("rejects inactive users before debiting", func(t *testing.T) {
		f := newWithdrawalFixture()
		f.users.users[10].Active = false

		_, err := f.uc.Initiate(context.Background(), 10, amount)
		require.ErrorIs(t, err, xerrors.ErrValidation)
		assert.Empty(t, f.wallets.debits)
	})

	t.Run("insufficient balance surfaces without a disbursement", func(t *testing.T) {
		f := newWithdrawalFixture()
		f.wallets.debitErr = xerrors.ErrInsufficientBalance

		_, err := f.uc.Initiate(context.Background(), 10, amount)
		require.ErrorIs(t, err, xerrors.ErrInsufficientBalance)
		assert.Empty(t, f.disburser.calls)
	})

	t.Run("uncertain submission stays pending", func(t *testing.T) {
		f := newWithdrawalFixture()
		f.disburser.err = xerrors.ErrTransient

		w, err := f.uc.Initiate(context.Background(), 10, amount)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusPending, w.Status)
		assert.Empty(t, f.wallets.credits, "no refund while the outcome is unknown")
	})

	t.Run("outright rejection refunds the debit", func(t *testing.T) {
		f := newWithdrawalFixture()
		f.disburser.err = errors.New("unsupported destination network")

		_, err := f.uc.Initiate(context.Background(), 10, amount)
		require.Error(t, err)

		require.Len(t, f.wallets.credits, 1)
		refund := f.wallets.credits[0]
		assert.Equal(t, domain.TransactionTypeRefund, refund.Type)
		assert.Equal(t, "REFUND_WD_10_20250601120000", refund.Reference)
		assert.True(t, refund.Amount.Equal(amount))

		w := f.withdrawals.rows["WD_10_20250601120000"]
		require.NotNil(t, w)
		assert.Equal(t, domain.WithdrawalStatusFailed, w.Status)
	})
}

func TestWithdrawalHandleCallback(t *testing.T) {
	initiate := func(t *testing.T, f *withdrawalFixture) *domain.Withdrawal {
		t.Helper()
		w, err := f.uc.Initiate(context.Background(), 10, decimal.NewFromInt(25000))
		require.NoError(t, err)
		return w
	}

	t.Run("success finalizes without a refund", func(t *testing.T) {
		f := newWithdrawalFixture()
		w := initiate(t, f)

		txn := "MM-873"
		got, err := f.uc.HandleCallback(context.Background(), w.Reference, "success", &txn)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusSuccess, got.Status)
		assert.Equal(t, &txn, got.ProviderTransaction)
		assert.Empty(t, f.wallets.credits)

		rows := f.audit.byAction(domain.AuditActionWithdrawalUpdate)
		require.Len(t, rows, 1)
		assert.Equal(t, "success", rows[0].Details["status"])
	})

	t.Run("failure refunds the wallet", func(t *testing.T) {
		f := newWithdrawalFixture()
		w := initiate(t, f)

		got, err := f.uc.HandleCallback(context.Background(), w.Reference, "failed", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusFailed, got.Status)
		require.Len(t, f.wallets.credits, 1)
		assert.Equal(t, "REFUND_"+w.Reference, f.wallets.credits[0].Reference)
	})

	t.Run("replayed callback does not refund twice", func(t *testing.T) {
		f := newWithdrawalFixture()
		w := initiate(t, f)

		_, err := f.uc.HandleCallback(context.Background(), w.Reference, "failed", nil)
		require.NoError(t, err)
		_, err = f.uc.HandleCallback(context.Background(), w.Reference, "failed", nil)
		require.ErrorIs(t, err, xerrors.ErrWithdrawalFinalized)
		assert.Len(t, f.wallets.credits, 1)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		f := newWithdrawalFixture()
		_, err := f.uc.HandleCallback(context.Background(), "WD_10_X", "maybe", nil)
		require.ErrorIs(t, err, xerrors.ErrInvalidRequest)
	})

	t.Run("unknown reference is not found", func(t *testing.T) {
		f := newWithdrawalFixture()
		_, err := f.uc.HandleCallback(context.Background(), "WD_99_X", "success", nil)
		require.ErrorIs(t, err, xerrors.ErrNotFound)
	})
}
