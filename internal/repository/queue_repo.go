package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

type QueueRepository interface {
	// Enqueue inserts one queue row per bonus. Re-enqueueing the same bonus
	// is a no-op.
	Enqueue(ctx context.Context, bonusID, userID int64, amount decimal.Decimal, maxAttempts int, nextAttempt time.Time) error

	// ClaimBatch atomically claims due rows for processing: selects with
	// skip-locked, bumps attempt_count, stamps last_attempt, and commits the
	// claim before any payout work starts.
	ClaimBatch(ctx context.Context, batchSize int, now time.Time) ([]*domain.PayoutItem, error)

	Complete(ctx context.Context, itemID int64) error
	Fail(ctx context.Context, itemID int64, nextAttempt *time.Time, lastError string) error
	CancelByBonus(ctx context.Context, bonusID int64) error
	GetByBonus(ctx context.Context, bonusID int64) (*domain.PayoutItem, error)
}

type queueRepo struct {
	db *pgxpool.Pool
}

func NewQueueRepo(db *pgxpool.Pool) QueueRepository {
	return &queueRepo{db: db}
}

const queueColumns = `
	id, bonus_id, user_id, amount, status, attempt_count, max_attempts,
	next_attempt, last_attempt, last_error, created_at
`

func scanQueueItem(row pgx.Row) (*domain.PayoutItem, error) {
	var i domain.PayoutItem
	err := row.Scan(
		&i.ID,
		&i.BonusID,
		&i.UserID,
		&i.Amount,
		&i.Status,
		&i.AttemptCount,
		&i.MaxAttempts,
		&i.NextAttempt,
		&i.LastAttempt,
		&i.LastError,
		&i.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	return &i, nil
}

func (r *queueRepo) Enqueue(ctx context.Context, bonusID, userID int64, amount decimal.Decimal, maxAttempts int, nextAttempt time.Time) error {
	query := `
		INSERT INTO bonus_payout_queue (bonus_id, user_id, amount, status, attempt_count, max_attempts, next_attempt)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (bonus_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query,
		bonusID, userID, amount, domain.PayoutStatusPending, maxAttempts, nextAttempt,
	); err != nil {
		return fmt.Errorf("failed to enqueue bonus %d: %w", bonusID, err)
	}
	return nil
}

func (r *queueRepo) ClaimBatch(ctx context.Context, batchSize int, now time.Time) ([]*domain.PayoutItem, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin claim tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	// Failed rows with attempts remaining are retried alongside fresh ones.
	selectQuery := `
		SELECT ` + queueColumns + `
		FROM bonus_payout_queue
		WHERE status IN ($1, $2)
		  AND next_attempt <= $3
		  AND attempt_count < max_attempts
		ORDER BY next_attempt ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, selectQuery,
		domain.PayoutStatusPending, domain.PayoutStatusFailed, now, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable rows: %w", err)
	}

	var items []*domain.PayoutItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating claimable rows: %w", err)
	}
	rows.Close()

	if len(items) == 0 {
		return nil, tx.Commit(ctx)
	}

	claim := `
		UPDATE bonus_payout_queue
		SET status = $1, attempt_count = attempt_count + 1, last_attempt = $2
		WHERE id = $3
	`
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(claim, domain.PayoutStatusProcessing, now, item.ID)
	}

	br := tx.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("failed to claim queue row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("failed to close claim batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit claim tx: %v", xerrors.ErrTransient, err)
	}

	for _, item := range items {
		item.Status = domain.PayoutStatusProcessing
		item.AttemptCount++
		stamped := now
		item.LastAttempt = &stamped
	}
	return items, nil
}

func (r *queueRepo) Complete(ctx context.Context, itemID int64) error {
	query := `
		UPDATE bonus_payout_queue
		SET status = $1, last_error = NULL
		WHERE id = $2 AND status = $3
	`
	cmdTag, err := r.db.Exec(ctx, query, domain.PayoutStatusCompleted, itemID, domain.PayoutStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete queue item %d: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: queue item %d not processing", xerrors.ErrStaleState, itemID)
	}
	return nil
}

func (r *queueRepo) Fail(ctx context.Context, itemID int64, nextAttempt *time.Time, lastError string) error {
	query := `
		UPDATE bonus_payout_queue
		SET status = $1, next_attempt = $2, last_error = $3
		WHERE id = $4
	`
	if _, err := r.db.Exec(ctx, query, domain.PayoutStatusFailed, nextAttempt, lastError, itemID); err != nil {
		return fmt.Errorf("failed to fail queue item %d: %w", itemID, err)
	}
	return nil
}

func (r *queueRepo) CancelByBonus(ctx context.Context, bonusID int64) error {
	query := `
		UPDATE bonus_payout_queue
		SET status = $1
		WHERE bonus_id = $2 AND status NOT IN ($3, $1)
	`
	if _, err := r.db.Exec(ctx, query, domain.PayoutStatusCancelled, bonusID, domain.PayoutStatusCompleted); err != nil {
		return fmt.Errorf("failed to cancel queue row for bonus %d: %w", bonusID, err)
	}
	return nil
}

func (r *queueRepo) GetByBonus(ctx context.Context, bonusID int64) (*domain.PayoutItem, error) {
	query := `SELECT ` + queueColumns + ` FROM bonus_payout_queue WHERE bonus_id = $1`
	return scanQueueItem(r.db.QueryRow(ctx, query, bonusID))
}
