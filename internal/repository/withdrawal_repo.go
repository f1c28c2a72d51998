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

type WithdrawalRepository interface {
	Create(ctx context.Context, w *domain.Withdrawal) error
	GetByReference(ctx context.Context, reference string) (*domain.Withdrawal, error)

	// Finalize moves a pending withdrawal to a terminal status under a row
	// lock. An already-finalized row returns xerrors.ErrWithdrawalFinalized.
	Finalize(ctx context.Context, reference string, status domain.WithdrawalStatus, providerTxn *string) (*domain.Withdrawal, error)
}

type withdrawalRepo struct {
	db *pgxpool.Pool
}

func NewWithdrawalRepo(db *pgxpool.Pool) WithdrawalRepository {
	return &withdrawalRepo{db: db}
}

const withdrawalColumns = `
	id, user_id, amount, phone_number, reference, provider_transaction,
	status, created_at, finalized_at
`

func scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Amount,
		&w.PhoneNumber,
		&w.Reference,
		&w.ProviderTransaction,
		&w.Status,
		&w.CreatedAt,
		&w.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
	}
	return &w, nil
}

func (r *withdrawalRepo) Create(ctx context.Context, w *domain.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (user_id, amount, phone_number, reference, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, w.UserID, w.Amount, w.PhoneNumber, w.Reference, domain.WithdrawalStatusPending).
		Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return fmt.Errorf("%w: withdrawal reference %s", xerrors.ErrDuplicate, w.Reference)
		}
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	w.Status = domain.WithdrawalStatusPending
	return nil
}

func (r *withdrawalRepo) GetByReference(ctx context.Context, reference string) (*domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE reference = $1`
	return scanWithdrawal(r.db.QueryRow(ctx, query, reference))
}

func (r *withdrawalRepo) Finalize(ctx context.Context, reference string, status domain.WithdrawalStatus, providerTxn *string) (*domain.Withdrawal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin withdrawal tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE reference = $1 FOR UPDATE`
	w, err := scanWithdrawal(tx.QueryRow(ctx, lockQuery, reference))
	if err != nil {
		return nil, err
	}

	if w.Finalized() {
		return w, xerrors.ErrWithdrawalFinalized
	}

	now := time.Now()
	update := `
		UPDATE withdrawals
		SET status = $1, provider_transaction = COALESCE($2, provider_transaction), finalized_at = $3
		WHERE id = $4
	`
	if _, err := tx.Exec(ctx, update, status, providerTxn, now, w.ID); err != nil {
		return nil, fmt.Errorf("failed to finalize withdrawal %s: %w", reference, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit withdrawal tx: %v", xerrors.ErrTransient, err)
	}

	w.Status = status
	w.FinalizedAt = &now
	if providerTxn != nil {
		w.ProviderTransaction = providerTxn
	}
	return w, nil
}
