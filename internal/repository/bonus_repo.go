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
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/xerrors"
)

type BonusRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.ReferralBonus, error)
	CountByPayment(ctx context.Context, paymentID int64) (int, error)
	ListByPayment(ctx context.Context, paymentID int64) ([]*domain.ReferralBonus, error)

	// ExistsForPaymentUserLevel is the duplicate check for the idempotency
	// key (payment, user, level). Rows locked by a concurrent writer are
	// skipped rather than waited on.
	ExistsForPaymentUserLevel(ctx context.Context, paymentID, userID int64, level int) (bool, error)

	// StoreBatch inserts the accepted rows and marks the payment calculated
	// in one transaction. Conflicting rows are skipped; the IDs of inserted
	// rows are written back into the slice. Returns the number inserted.
	StoreBatch(ctx context.Context, paymentID int64, rows []*domain.ReferralBonus, processingID string) (int, error)

	GetForPayoutWithLock(ctx context.Context, tx pgx.Tx, bonusID int64) (*domain.ReferralBonus, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, bonusID, transactionID int64, paidAt time.Time) error
	MarkFailed(ctx context.Context, bonusID int64) error
	CancelIfPending(ctx context.Context, bonusID int64) error

	// SumToUserSince totals non-cancelled bonus amounts credited to a user
	// after the given instant. Used for per-user velocity limits.
	SumToUserSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)

	InsertDaily(ctx context.Context, tx pgx.Tx, b *domain.DailyBonus) error
}

type bonusRepo struct {
	db  *pgxpool.Pool
	clk clock.Clock
}

func NewBonusRepo(db *pgxpool.Pool, clk clock.Clock) BonusRepository {
	return &bonusRepo{db: db, clk: clk}
}

const bonusColumns = `
	id, user_id, referrer_id, referred_id, payment_id, level, amount,
	bonus_percentage, qualifying_amount, status, payout_transaction_id,
	paid_at, created_at
`

func scanBonus(row pgx.Row) (*domain.ReferralBonus, error) {
	var b domain.ReferralBonus
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.ReferrerID,
		&b.ReferredID,
		&b.PaymentID,
		&b.Level,
		&b.Amount,
		&b.BonusPercentage,
		&b.QualifyingAmount,
		&b.Status,
		&b.PayoutTransactionID,
		&b.PaidAt,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan bonus: %w", err)
	}
	return &b, nil
}

func (r *bonusRepo) GetByID(ctx context.Context, id int64) (*domain.ReferralBonus, error) {
	query := `SELECT ` + bonusColumns + ` FROM referral_bonuses WHERE id = $1`
	return scanBonus(r.db.QueryRow(ctx, query, id))
}

func (r *bonusRepo) CountByPayment(ctx context.Context, paymentID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM referral_bonuses WHERE payment_id = $1`
	if err := r.db.QueryRow(ctx, query, paymentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bonuses for payment %d: %w", paymentID, err)
	}
	return count, nil
}

func (r *bonusRepo) ListByPayment(ctx context.Context, paymentID int64) ([]*domain.ReferralBonus, error) {
	query := `SELECT ` + bonusColumns + ` FROM referral_bonuses WHERE payment_id = $1 ORDER BY level ASC`

	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses for payment %d: %w", paymentID, err)
	}
	defer rows.Close()

	var out []*domain.ReferralBonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bonus rows: %w", err)
	}
	return out, nil
}

func (r *bonusRepo) ExistsForPaymentUserLevel(ctx context.Context, paymentID, userID int64, level int) (bool, error) {
	query := `
		SELECT id FROM referral_bonuses
		WHERE payment_id = $1 AND user_id = $2 AND level = $3
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id int64
	err := r.db.QueryRow(ctx, query, paymentID, userID, level).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed duplicate bonus check: %w", err)
	}
	return true, nil
}

func (r *bonusRepo) StoreBatch(ctx context.Context, paymentID int64, rows []*domain.ReferralBonus, processingID string) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin bonus batch tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO referral_bonuses (
			user_id, referrer_id, referred_id, payment_id, level, amount,
			bonus_percentage, qualifying_amount, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_id, user_id, level) DO NOTHING
		RETURNING id, created_at
	`

	inserted := 0
	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, b := range rows {
			batch.Queue(insert,
				b.UserID, b.ReferrerID, b.ReferredID, b.PaymentID, b.Level,
				b.Amount, b.BonusPercentage, b.QualifyingAmount, b.Status,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, b := range rows {
			err := br.QueryRow().Scan(&b.ID, &b.CreatedAt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					// Conflict on the idempotency key: another run already
					// wrote this row. Not an error.
					continue
				}
				br.Close()
				return 0, fmt.Errorf("failed to insert bonus row level %d: %w", b.Level, err)
			}
			inserted++
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("failed to close bonus batch: %w", err)
		}
	}

	markCalculated := `
		UPDATE payments
		SET bonuses_calculated = TRUE,
		    bonuses_calculated_at = $1,
		    bonus_processing_id = $2,
		    bonus_processing_started = NULL
		WHERE id = $3 AND bonuses_calculated = FALSE
	`
	cmdTag, err := tx.Exec(ctx, markCalculated, r.clk.Now(), processingID, paymentID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark payment calculated: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: payment %d already calculated", xerrors.ErrStaleState, paymentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit bonus batch tx: %v", xerrors.ErrTransient, err)
	}
	return inserted, nil
}

func (r *bonusRepo) GetForPayoutWithLock(ctx context.Context, tx pgx.Tx, bonusID int64) (*domain.ReferralBonus, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}

	query := `SELECT ` + bonusColumns + ` FROM referral_bonuses WHERE id = $1 FOR UPDATE`
	return scanBonus(tx.QueryRow(ctx, query, bonusID))
}

func (r *bonusRepo) MarkPaid(ctx context.Context, tx pgx.Tx, bonusID, transactionID int64, paidAt time.Time) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE referral_bonuses
		SET status = $1, payout_transaction_id = $2, paid_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`
	cmdTag, err := tx.Exec(ctx, query,
		domain.BonusStatusPaid, transactionID, paidAt, bonusID,
		domain.BonusStatusPending, domain.BonusStatusApproved,
	)
	if err != nil {
		return fmt.Errorf("failed to mark bonus %d paid: %w", bonusID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bonus %d", xerrors.ErrBonusNotPayable, bonusID)
	}
	return nil
}

func (r *bonusRepo) MarkFailed(ctx context.Context, bonusID int64) error {
	query := `
		UPDATE referral_bonuses
		SET status = $1
		WHERE id = $2 AND status NOT IN ($3, $4)
	`
	if _, err := r.db.Exec(ctx, query,
		domain.BonusStatusFailed, bonusID, domain.BonusStatusPaid, domain.BonusStatusCancelled,
	); err != nil {
		return fmt.Errorf("failed to mark bonus %d failed: %w", bonusID, err)
	}
	return nil
}

func (r *bonusRepo) CancelIfPending(ctx context.Context, bonusID int64) error {
	query := `
		UPDATE referral_bonuses
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	cmdTag, err := r.db.Exec(ctx, query, domain.BonusStatusCancelled, bonusID, domain.BonusStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel bonus %d: %w", bonusID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bonus %d not pending", xerrors.ErrStaleState, bonusID)
	}
	return nil
}

func (r *bonusRepo) SumToUserSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM referral_bonuses
		WHERE user_id = $1 AND status != $2 AND created_at >= $3
	`

	var sum decimal.Decimal
	if err := r.db.QueryRow(ctx, query, userID, domain.BonusStatusCancelled, since).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum bonuses for user %d: %w", userID, err)
	}
	return sum, nil
}

func (r *bonusRepo) InsertDaily(ctx context.Context, tx pgx.Tx, b *domain.DailyBonus) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO bonuses (user_id, package_id, type, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query, b.UserID, b.PackageID, b.Type, b.Amount, b.Status).
		Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert daily bonus: %w", err)
	}
	return nil
}
