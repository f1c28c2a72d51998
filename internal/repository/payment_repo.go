package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

type PaymentRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)

	// MarkCompleted transitions a pending payment to completed. Returns the
	// payment and whether this call performed the transition; a payment that
	// was already completed reports false with no change.
	MarkCompleted(ctx context.Context, reference string, providerRef *string) (*domain.Payment, bool, error)
	MarkFailed(ctx context.Context, reference string) error

	// BeginBonusProcessing row-locks the payment, asserts it is completed
	// and unprocessed, asserts no bonus rows exist, asserts any earlier
	// processing marker is stale, then sets the marker.
	BeginBonusProcessing(ctx context.Context, paymentID int64, staleWindow time.Duration) error

	// ClearBonusProcessing resets the processing marker without touching the
	// calculated flag. Used on failure paths; the success path flips the
	// flag atomically with the stored rows.
	ClearBonusProcessing(ctx context.Context, paymentID int64) error

	CountRecentByUser(ctx context.Context, userID int64, since time.Time) (int, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepo(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
	id, user_id, amount, currency, status, reference, provider_reference,
	package_catalog_id, idempotency_key, bonuses_calculated, bonuses_calculated_at,
	bonus_processing_started, bonus_processing_id, created_at
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Reference,
		&p.ProviderReference,
		&p.PackageCatalogID,
		&p.IdempotencyKey,
		&p.BonusesCalculated,
		&p.BonusesCalculatedAt,
		&p.BonusProcessingStarted,
		&p.BonusProcessingID,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return &p, nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

func (r *paymentRepo) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`
	return scanPayment(r.db.QueryRow(ctx, query, reference))
}

func (r *paymentRepo) MarkCompleted(ctx context.Context, reference string, providerRef *string) (*domain.Payment, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin payment tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, lockQuery, reference))
	if err != nil {
		return nil, false, err
	}

	if p.Status == domain.PaymentStatusCompleted {
		return p, false, nil
	}
	if p.Status != domain.PaymentStatusPending {
		return nil, false, fmt.Errorf("%w: payment %s is %s", xerrors.ErrStaleState, reference, p.Status)
	}

	update := `
		UPDATE payments
		SET status = $1, provider_reference = COALESCE($2, provider_reference)
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, update, domain.PaymentStatusCompleted, providerRef, p.ID); err != nil {
		return nil, false, fmt.Errorf("failed to mark payment completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: commit payment tx: %v", xerrors.ErrTransient, err)
	}

	p.Status = domain.PaymentStatusCompleted
	if providerRef != nil {
		p.ProviderReference = providerRef
	}
	return p, true, nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, reference string) error {
	query := `
		UPDATE payments
		SET status = $1
		WHERE reference = $2 AND status = $3
	`
	if _, err := r.db.Exec(ctx, query, domain.PaymentStatusFailed, reference, domain.PaymentStatusPending); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}

func (r *paymentRepo) BeginBonusProcessing(ctx context.Context, paymentID int64, staleWindow time.Duration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin processing tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, lockQuery, paymentID))
	if err != nil {
		return err
	}

	if !p.CanCalculateBonuses() {
		return fmt.Errorf("%w: payment %d status=%s calculated=%t",
			xerrors.ErrStaleState, paymentID, p.Status, p.BonusesCalculated)
	}

	var bonusCount int
	countQuery := `SELECT COUNT(*) FROM referral_bonuses WHERE payment_id = $1`
	if err := tx.QueryRow(ctx, countQuery, paymentID).Scan(&bonusCount); err != nil {
		return fmt.Errorf("failed to count existing bonuses: %w", err)
	}
	if bonusCount > 0 {
		return fmt.Errorf("%w: payment %d has %d bonus rows", xerrors.ErrBonusesAlreadyExist, paymentID, bonusCount)
	}

	if !p.ProcessingStale(time.Now(), staleWindow) {
		return fmt.Errorf("%w: payment %d started at %s",
			xerrors.ErrProcessingInProgress, paymentID, p.BonusProcessingStarted)
	}

	update := `UPDATE payments SET bonus_processing_started = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, update, time.Now(), paymentID); err != nil {
		return fmt.Errorf("failed to set processing marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit processing tx: %v", xerrors.ErrTransient, err)
	}
	return nil
}

func (r *paymentRepo) ClearBonusProcessing(ctx context.Context, paymentID int64) error {
	query := `UPDATE payments SET bonus_processing_started = NULL WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, paymentID); err != nil {
		return fmt.Errorf("failed to clear processing marker for payment %d: %w", paymentID, err)
	}
	return nil
}

func (r *paymentRepo) CountRecentByUser(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM payments
		WHERE user_id = $1 AND status = $2 AND created_at >= $3
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, domain.PaymentStatusCompleted, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent payments for user %d: %w", userID, err)
	}
	return count, nil
}
