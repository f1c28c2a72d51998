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

// YieldOutcome is the result of one daily accrual attempt on one package.
type YieldOutcome struct {
	PackageID int64
	UserID    int64
	Amount    decimal.Decimal
	Completed bool
	Skipped   bool
}

type PackageRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.Package) error

	// CreateFromPayment creates the package in its own transaction. A second
	// call for the same payment returns xerrors.ErrDuplicate.
	CreateFromPayment(ctx context.Context, p *domain.Package) error

	GetByID(ctx context.Context, id int64) (*domain.Package, error)
	ListActiveIDs(ctx context.Context, limit int) ([]int64, error)

	// AccrueDaily advances one package by one yield step in a single
	// transaction: row-lock the package (skipping ones held by parallel
	// workers), credit the owner's wallet, bump total_bonus_paid, complete
	// at cap, write the daily bonus audit row. The accrual day keys the
	// transaction reference, so a rerun on the same day is a no-op.
	AccrueDaily(ctx context.Context, packageID int64, day time.Time) (*YieldOutcome, error)
}

type packageRepo struct {
	db      *pgxpool.Pool
	wallets WalletRepository
	bonuses BonusRepository
}

func NewPackageRepo(db *pgxpool.Pool, wallets WalletRepository, bonuses BonusRepository) PackageRepository {
	return &packageRepo{db: db, wallets: wallets, bonuses: bonuses}
}

const packageColumns = `
	id, user_id, payment_id, principal, daily_rate, total_limit_rate,
	total_bonus_paid, status, created_at
`

func scanPackage(row pgx.Row) (*domain.Package, error) {
	var p domain.Package
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.PaymentID,
		&p.Principal,
		&p.DailyRate,
		&p.TotalLimitRate,
		&p.TotalBonusPaid,
		&p.Status,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan package: %w", err)
	}
	return &p, nil
}

func (r *packageRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Package) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO packages (user_id, payment_id, principal, daily_rate, total_limit_rate, total_bonus_paid, status)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		p.UserID, p.PaymentID, p.Principal, p.DailyRate, p.TotalLimitRate, domain.PackageStatusActive,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: package for payment %d", xerrors.ErrDuplicate, p.PaymentID)
		}
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *packageRepo) CreateFromPayment(ctx context.Context, p *domain.Package) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin package tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	if err := r.Create(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit package tx: %v", xerrors.ErrTransient, err)
	}
	return nil
}

func (r *packageRepo) GetByID(ctx context.Context, id int64) (*domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`
	return scanPackage(r.db.QueryRow(ctx, query, id))
}

func (r *packageRepo) ListActiveIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT id FROM packages
		WHERE status = $1
		ORDER BY id ASC
	`
	args := []any{domain.PackageStatusActive}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active packages: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan package id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package ids: %w", err)
	}
	return ids, nil
}

func (r *packageRepo) AccrueDaily(ctx context.Context, packageID int64, day time.Time) (*YieldOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin accrual tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT ` + packageColumns + `
		FROM packages
		WHERE id = $1 AND status = $2
		FOR UPDATE SKIP LOCKED
	`
	pkg, err := scanPackage(tx.QueryRow(ctx, lockQuery, packageID, domain.PackageStatusActive))
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			// Completed meanwhile, or claimed by a parallel worker.
			return &YieldOutcome{PackageID: packageID, Skipped: true}, nil
		}
		return nil, err
	}

	step := pkg.ComputeDailyYield()

	if step.Amount.IsZero() {
		if step.Completed {
			update := `UPDATE packages SET status = $1 WHERE id = $2`
			if _, err := tx.Exec(ctx, update, domain.PackageStatusCompleted, pkg.ID); err != nil {
				return nil, fmt.Errorf("failed to complete package %d: %w", pkg.ID, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("%w: commit accrual tx: %v", xerrors.ErrTransient, err)
			}
			return &YieldOutcome{PackageID: pkg.ID, UserID: pkg.UserID, Amount: decimal.Zero, Completed: true}, nil
		}
		return &YieldOutcome{PackageID: pkg.ID, UserID: pkg.UserID, Skipped: true}, nil
	}

	reference := fmt.Sprintf("DAILY_%d_%s", pkg.ID, day.UTC().Format("20060102"))
	if _, err := r.wallets.CreditTx(ctx, tx, &domain.WalletCredit{
		UserID:      pkg.UserID,
		Amount:      step.Amount,
		Type:        domain.TransactionTypeDailyYield,
		Reference:   reference,
		Description: fmt.Sprintf("Daily yield for package %d", pkg.ID),
	}); err != nil {
		if errors.Is(err, xerrors.ErrDuplicate) {
			// Already accrued for this day.
			return &YieldOutcome{PackageID: pkg.ID, UserID: pkg.UserID, Skipped: true}, nil
		}
		return nil, err
	}

	newTotal := pkg.TotalBonusPaid.Add(step.Amount)
	status := domain.PackageStatusActive
	if step.Completed {
		status = domain.PackageStatusCompleted
	}

	update := `UPDATE packages SET total_bonus_paid = $1, status = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, update, newTotal, status, pkg.ID); err != nil {
		return nil, fmt.Errorf("failed to update package %d: %w", pkg.ID, err)
	}

	daily := &domain.DailyBonus{
		UserID:    pkg.UserID,
		PackageID: pkg.ID,
		Type:      domain.DailyBonusType,
		Amount:    step.Amount,
		Status:    domain.BonusStatusPaid,
	}
	if err := r.bonuses.InsertDaily(ctx, tx, daily); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit accrual tx: %v", xerrors.ErrTransient, err)
	}

	return &YieldOutcome{
		PackageID: pkg.ID,
		UserID:    pkg.UserID,
		Amount:    step.Amount,
		Completed: step.Completed,
	}, nil
}
