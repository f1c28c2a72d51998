package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

func TestNextAttemptDelay(t *testing.T) {
	t.Run("stays within jitter bounds", func(t *testing.T) {
		bases := map[int]time.Duration{
			1: 5 * time.Minute,
			2: 10 * time.Minute,
			3: 20 * time.Minute,
			4: 40 * time.Minute,
			5: 80 * time.Minute,
		}
		for attempt, base := range bases {
			d := NextAttemptDelay(attempt)
			lo := time.Duration(float64(base) * 0.8)
			hi := time.Duration(float64(base) * 1.2)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	})

	t.Run("deterministic per attempt", func(t *testing.T) {
		for attempt := 1; attempt <= 10; attempt++ {
			assert.Equal(t, NextAttemptDelay(attempt), NextAttemptDelay(attempt))
		}
	})

	t.Run("caps near 24 hours", func(t *testing.T) {
		d := NextAttemptDelay(50)
		assert.LessOrEqual(t, d, time.Duration(float64(24*time.Hour)*1.2))
		assert.GreaterOrEqual(t, d, time.Duration(float64(24*time.Hour)*0.8))
	})

	t.Run("treats zero as first attempt", func(t *testing.T) {
		assert.Equal(t, NextAttemptDelay(1), NextAttemptDelay(0))
	})
}

func newPayoutFixture() (*PayoutUsecase, *fakeQueueRepo, *fakePayoutRepo, *fakeBonusRepo, *fakeAuditRepo, *fakePublisher) {
	queue := &fakeQueueRepo{}
	payouts := &fakePayoutRepo{payErr: map[int64]error{}}
	bonuses := &fakeBonusRepo{}
	audit := &fakeAuditRepo{}
	pub := &fakePublisher{}
	uc := NewPayoutUsecase(testConfig(), queue, payouts, bonuses, audit, pub, testClock(), testLogger())
	return uc, queue, payouts, bonuses, audit, pub
}

func TestPayoutEnqueue(t *testing.T) {
	uc, queue, _, _, _, _ := newPayoutFixture()

	rows := []*domain.ReferralBonus{
		{ID: 1, UserID: 10, Amount: decimal.NewFromInt(5000)},
		{ID: 2, UserID: 11, Amount: decimal.NewFromInt(2500)},
	}
	queued, err := uc.Enqueue(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, []int64{1, 2}, queue.enqueued)
}

func TestPayoutDrain(t *testing.T) {
	t.Run("pays claimed items and completes queue rows", func(t *testing.T) {
		uc, queue, payouts, _, audit, pub := newPayoutFixture()
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 1, UserID: 10, Amount: decimal.NewFromInt(5000), MaxAttempts: 5},
			{ID: 101, BonusID: 2, UserID: 11, Amount: decimal.NewFromInt(2500), MaxAttempts: 5},
		}

		stats, err := uc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Claimed)
		assert.Equal(t, 2, stats.Completed)
		assert.Zero(t, stats.Failed)

		assert.Equal(t, []int64{1, 2}, payouts.paid)
		assert.Equal(t, []int64{100, 101}, queue.completed)
		assert.Equal(t, []int64{1, 2}, pub.paid)
		assert.Len(t, audit.byAction(domain.AuditActionBonusPaid), 2)
	})

	t.Run("payout reference carries bonus id and timestamp", func(t *testing.T) {
		uc, queue, payouts, _, _, _ := newPayoutFixture()
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 42, UserID: 10, Amount: decimal.NewFromInt(5000), MaxAttempts: 5},
		}

		_, err := uc.Drain(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, payouts.paidRefs, 1)
		assert.Equal(t, "BONUS_42_20250601120000", payouts.paidRefs[0])
	})

	t.Run("already paid bonus completes the queue row", func(t *testing.T) {
		uc, queue, payouts, _, _, _ := newPayoutFixture()
		payouts.payErr[1] = xerrors.ErrDuplicate
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 1, UserID: 10, Amount: decimal.NewFromInt(5000), MaxAttempts: 5},
		}

		stats, err := uc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, []int64{100}, queue.completed)
		assert.Empty(t, payouts.paid)
	})

	t.Run("transient failure schedules a retry", func(t *testing.T) {
		uc, queue, payouts, bonuses, _, _ := newPayoutFixture()
		payouts.payErr[1] = errors.New("wallet credit timed out")
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 1, UserID: 10, Amount: decimal.NewFromInt(5000), MaxAttempts: 5},
		}

		stats, err := uc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Zero(t, stats.Exhausted)

		next, ok := queue.failed[100]
		require.True(t, ok)
		require.NotNil(t, next)
		// ClaimBatch bumped the attempt count to 1, so the retry lands one
		// backoff step after the fixed clock.
		expected := testClock().Now().Add(NextAttemptDelay(1))
		assert.Equal(t, expected, *next)
		assert.Empty(t, bonuses.markedFailed)
	})

	t.Run("exhausted item marks the bonus failed", func(t *testing.T) {
		uc, queue, payouts, bonuses, audit, _ := newPayoutFixture()
		payouts.payErr[1] = errors.New("recipient wallet frozen")
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 1, UserID: 10, Amount: decimal.NewFromInt(5000), AttemptCount: 4, MaxAttempts: 5},
		}

		stats, err := uc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.Exhausted)

		next, ok := queue.failed[100]
		require.True(t, ok)
		assert.Nil(t, next)
		assert.Equal(t, []int64{1}, bonuses.markedFailed)

		final := audit.byAction(domain.AuditActionBonusPayoutFailed)
		require.Len(t, final, 1)
		assert.Equal(t, true, final[0].Details["final"])
	})

	t.Run("stops between items on cancelled context", func(t *testing.T) {
		uc, queue, _, _, _, _ := newPayoutFixture()
		queue.claimable = []*domain.PayoutItem{
			{ID: 100, BonusID: 1, UserID: 10, Amount: decimal.NewFromInt(5000), MaxAttempts: 5},
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		stats, err := uc.Drain(ctx, 10)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, stats.Claimed)
		assert.Zero(t, stats.Completed)
	})
}

func TestPayoutCancel(t *testing.T) {
	t.Run("cancels pending bonus and queue row", func(t *testing.T) {
		uc, queue, _, bonuses, audit, pub := newPayoutFixture()

		err := uc.Cancel(context.Background(), 7, "fraud review", "admin:3")
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, bonuses.cancelled)
		assert.Equal(t, []int64{7}, queue.cancelled)
		assert.Equal(t, []int64{7}, pub.cancelled)

		rows := audit.byAction(domain.AuditActionBonusCancelled)
		require.Len(t, rows, 1)
		assert.Equal(t, "admin:3", rows[0].ActorID)
	})

	t.Run("refuses bonuses past pending", func(t *testing.T) {
		uc, queue, _, bonuses, _, pub := newPayoutFixture()
		bonuses.cancelErr = xerrors.ErrBonusNotPayable

		err := uc.Cancel(context.Background(), 7, "fraud review", "admin:3")
		require.Error(t, err)
		assert.Empty(t, queue.cancelled)
		assert.Empty(t, pub.cancelled)
	})
}
