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

type WalletRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error)
	GetByUserIDWithLock(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Wallet, error)

	// Credit moves money into a wallet in its own transaction. CreditTx is
	// the same operation inside a caller-held transaction. Both go through
	// the single code path that writes the balance and the Transaction row
	// together; a duplicate reference returns xerrors.ErrDuplicate with no
	// balance change.
	Credit(ctx context.Context, req *domain.WalletCredit) (*domain.Transaction, error)
	CreditTx(ctx context.Context, tx pgx.Tx, req *domain.WalletCredit) (*domain.Transaction, error)

	Debit(ctx context.Context, req *domain.WalletDebit) (*domain.Transaction, error)

	GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// EnsureWallet creates the zero-balance wallet row if missing.
	EnsureWallet(ctx context.Context, tx pgx.Tx, userID int64, currency string) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, balance, currency, updated_at
		FROM wallets
		WHERE user_id = $1
	`

	var w domain.Wallet
	err := r.db.QueryRow(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet for user %d: %w", userID, err)
	}
	return &w, nil
}

func (r *walletRepo) GetByUserIDWithLock(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Wallet, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}

	query := `
		SELECT id, user_id, balance, currency, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`

	var w domain.Wallet
	err := tx.QueryRow(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet with lock for user %d: %w", userID, err)
	}
	return &w, nil
}

func (r *walletRepo) Credit(ctx context.Context, req *domain.WalletCredit) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin credit tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	txn, err := r.CreditTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit credit tx: %v", xerrors.ErrTransient, err)
	}
	return txn, nil
}

func (r *walletRepo) CreditTx(ctx context.Context, tx pgx.Tx, req *domain.WalletCredit) (*domain.Transaction, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: credit amount must be positive, got %s", xerrors.ErrValidation, req.Amount)
	}

	wallet, err := r.GetByUserIDWithLock(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	newBalance := wallet.Balance.Add(req.Amount)

	update := `
		UPDATE wallets
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, update, newBalance, time.Now(), wallet.ID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	txn := &domain.Transaction{
		WalletID:     wallet.ID,
		UserID:       req.UserID,
		Type:         req.Type,
		Amount:       req.Amount,
		BalanceAfter: newBalance,
		Reference:    req.Reference,
		Description:  req.Description,
	}

	insert := `
		INSERT INTO transactions (wallet_id, user_id, type, amount, balance_after, reference, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert,
		txn.WalletID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Reference, txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)

	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: transaction reference %s", xerrors.ErrDuplicate, req.Reference)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return txn, nil
}

func (r *walletRepo) Debit(ctx context.Context, req *domain.WalletDebit) (*domain.Transaction, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: debit amount must be positive, got %s", xerrors.ErrValidation, req.Amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin debit tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	wallet, err := r.GetByUserIDWithLock(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	newBalance := wallet.Balance.Sub(req.Amount)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, requested %s", xerrors.ErrInsufficientBalance, wallet.Balance, req.Amount)
	}

	update := `
		UPDATE wallets
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, update, newBalance, time.Now(), wallet.ID); err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	txn := &domain.Transaction{
		WalletID:     wallet.ID,
		UserID:       req.UserID,
		Type:         req.Type,
		Amount:       req.Amount.Neg(),
		BalanceAfter: newBalance,
		Reference:    req.Reference,
		Description:  req.Description,
	}

	insert := `
		INSERT INTO transactions (wallet_id, user_id, type, amount, balance_after, reference, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert,
		txn.WalletID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Reference, txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)

	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: transaction reference %s", xerrors.ErrDuplicate, req.Reference)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit debit tx: %v", xerrors.ErrTransient, err)
	}
	return txn, nil
}

func (r *walletRepo) EnsureWallet(ctx context.Context, tx pgx.Tx, userID int64, currency string) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO wallets (user_id, balance, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, userID, currency); err != nil {
		return fmt.Errorf("failed to ensure wallet for user %d: %w", userID, err)
	}
	return nil
}

func (r *walletRepo) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `
		SELECT id, wallet_id, user_id, type, amount, balance_after, reference, description, created_at
		FROM transactions
		WHERE reference = $1
	`

	var t domain.Transaction
	err := r.db.QueryRow(ctx, query, reference).Scan(
		&t.ID, &t.WalletID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter,
		&t.Reference, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", reference, err)
	}
	return &t, nil
}
