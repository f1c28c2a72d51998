package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

const payoutBackoffBase = 5 * time.Minute
const payoutBackoffCap = 24 * time.Hour

// NextAttemptDelay is the retry backoff for a failed payout: the base delay
// doubled per attempt, capped at 24 hours, with a ±20% jitter derived
// deterministically from the attempt count so retries stay reproducible.
func NextAttemptDelay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	delay := payoutBackoffBase
	for i := 1; i < attemptCount && delay < payoutBackoffCap; i++ {
		delay *= 2
	}
	if delay > payoutBackoffCap {
		delay = payoutBackoffCap
	}

	h := fnv.New32a()
	h.Write([]byte(strconv.Itoa(attemptCount)))
	frac := float64(h.Sum32()%1000) / 1000.0
	jitter := time.Duration(float64(delay) * 0.2 * (2*frac - 1))

	return delay + jitter
}

// DrainStats summarizes one pass over the payout queue.
type DrainStats struct {
	Claimed   int
	Completed int
	Failed    int
	Exhausted int
}

// PayoutUsecase drains the durable queue, crediting recipient wallets and
// advancing bonus rows to paid.
type PayoutUsecase struct {
	cfg     config.AppConfig
	queue   repository.QueueRepository
	payouts repository.PayoutRepository
	bonuses repository.BonusRepository
	audit   repository.AuditRepository
	pub     BonusEventPublisher
	clk     clock.Clock
	logger  *zap.Logger
}

func NewPayoutUsecase(
	cfg config.AppConfig,
	queue repository.QueueRepository,
	payouts repository.PayoutRepository,
	bonuses repository.BonusRepository,
	audit repository.AuditRepository,
	pub BonusEventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) *PayoutUsecase {
	return &PayoutUsecase{
		cfg:     cfg,
		queue:   queue,
		payouts: payouts,
		bonuses: bonuses,
		audit:   audit,
		pub:     pub,
		clk:     clk,
		logger:  logger,
	}
}

// Enqueue places stored bonus rows on the payout queue. Duplicate enqueues
// are no-ops.
func (uc *PayoutUsecase) Enqueue(ctx context.Context, rows []*domain.ReferralBonus) (int, error) {
	queued := 0
	now := uc.clk.Now()
	for _, b := range rows {
		if err := uc.queue.Enqueue(ctx, b.ID, b.UserID, b.Amount, uc.cfg.PayoutMaxAttempts, now); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// Drain claims one batch and processes each item. Cancellation is honored
// between items; already-claimed rows finish their current attempt.
func (uc *PayoutUsecase) Drain(ctx context.Context, batchSize int) (*DrainStats, error) {
	if batchSize <= 0 {
		batchSize = uc.cfg.PayoutBatchSize
	}

	items, err := uc.queue.ClaimBatch(ctx, batchSize, uc.clk.Now())
	if err != nil {
		return nil, err
	}

	stats := &DrainStats{Claimed: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		uc.processItem(ctx, item, stats)
	}
	return stats, nil
}

func (uc *PayoutUsecase) processItem(ctx context.Context, item *domain.PayoutItem, stats *DrainStats) {
	now := uc.clk.Now()
	reference := fmt.Sprintf("BONUS_%d_%s", item.BonusID, now.UTC().Format("20060102150405"))

	txn, err := uc.payouts.PayBonus(ctx, item.BonusID, reference, now)
	if err != nil && !errors.Is(err, xerrors.ErrDuplicate) {
		uc.failItem(ctx, item, err, stats)
		return
	}
	// Duplicate means the bonus was already paid on an earlier attempt; the
	// queue row just needs to catch up.

	if cerr := uc.queue.Complete(ctx, item.ID); cerr != nil {
		uc.logger.Error("failed to complete queue row after payout",
			zap.Int64("bonus_id", item.BonusID), zap.Error(cerr))
	}
	stats.Completed++

	details := map[string]any{
		"bonus_id":  item.BonusID,
		"user_id":   item.UserID,
		"amount":    item.Amount.String(),
		"reference": reference,
		"attempt":   item.AttemptCount,
	}
	if txn != nil {
		details["transaction_id"] = txn.ID
	}
	if aerr := uc.audit.Insert(ctx, &domain.AuditEntry{
		Action:  domain.AuditActionBonusPaid,
		Details: details,
	}); aerr != nil {
		uc.logger.Error("failed to audit bonus payout", zap.Int64("bonus_id", item.BonusID), zap.Error(aerr))
	}

	uc.pub.PublishBonusPaid(ctx, item.BonusID, item.UserID, item.Amount)
}

func (uc *PayoutUsecase) failItem(ctx context.Context, item *domain.PayoutItem, cause error, stats *DrainStats) {
	stats.Failed++

	if item.Exhausted() {
		stats.Exhausted++
		if err := uc.queue.Fail(ctx, item.ID, nil, cause.Error()); err != nil {
			uc.logger.Error("failed to mark queue row exhausted", zap.Int64("item_id", item.ID), zap.Error(err))
		}
		if err := uc.bonuses.MarkFailed(ctx, item.BonusID); err != nil {
			uc.logger.Error("failed to mark bonus failed", zap.Int64("bonus_id", item.BonusID), zap.Error(err))
		}
		if err := uc.audit.Insert(ctx, &domain.AuditEntry{
			Action: domain.AuditActionBonusPayoutFailed,
			Details: map[string]any{
				"bonus_id": item.BonusID,
				"user_id":  item.UserID,
				"attempts": item.AttemptCount,
				"error":    cause.Error(),
				"final":    true,
			},
		}); err != nil {
			uc.logger.Error("failed to audit exhausted payout", zap.Int64("bonus_id", item.BonusID), zap.Error(err))
		}
		uc.logger.Error("bonus payout exhausted all attempts",
			zap.Int64("bonus_id", item.BonusID),
			zap.Int("attempts", item.AttemptCount),
			zap.Error(cause),
		)
		return
	}

	next := uc.clk.Now().Add(NextAttemptDelay(item.AttemptCount))
	if err := uc.queue.Fail(ctx, item.ID, &next, cause.Error()); err != nil {
		uc.logger.Error("failed to schedule payout retry", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}
	uc.logger.Warn("bonus payout failed, retry scheduled",
		zap.Int64("bonus_id", item.BonusID),
		zap.Int("attempt", item.AttemptCount),
		zap.Time("next_attempt", next),
		zap.Error(cause),
	)
}

// Cancel withdraws a pending bonus from payout. Paid bonuses cannot be
// cancelled.
func (uc *PayoutUsecase) Cancel(ctx context.Context, bonusID int64, reason, actor string) error {
	if err := uc.bonuses.CancelIfPending(ctx, bonusID); err != nil {
		return err
	}
	if err := uc.queue.CancelByBonus(ctx, bonusID); err != nil {
		return err
	}

	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID: actor,
		Action:  domain.AuditActionBonusCancelled,
		Details: map[string]any{"bonus_id": bonusID, "reason": reason},
	}); err != nil {
		uc.logger.Error("failed to audit bonus cancellation", zap.Int64("bonus_id", bonusID), zap.Error(err))
	}

	uc.pub.PublishBonusCancelled(ctx, bonusID, reason)
	return nil
}
