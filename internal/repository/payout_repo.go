package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

// PayoutRepository performs the atomic payout of one referral bonus: wallet
// credit, Transaction row, and bonus status change commit together.
type PayoutRepository interface {
	PayBonus(ctx context.Context, bonusID int64, reference string, paidAt time.Time) (*domain.Transaction, error)
}

type payoutRepo struct {
	db      *pgxpool.Pool
	wallets WalletRepository
	bonuses BonusRepository
}

func NewPayoutRepo(db *pgxpool.Pool, wallets WalletRepository, bonuses BonusRepository) PayoutRepository {
	return &payoutRepo{db: db, wallets: wallets, bonuses: bonuses}
}

func (r *payoutRepo) PayBonus(ctx context.Context, bonusID int64, reference string, paidAt time.Time) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin payout tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	bonus, err := r.bonuses.GetForPayoutWithLock(ctx, tx, bonusID)
	if err != nil {
		return nil, err
	}
	if !bonus.Payable() {
		if bonus.Status == domain.BonusStatusPaid {
			return nil, fmt.Errorf("%w: bonus %d already paid", xerrors.ErrDuplicate, bonusID)
		}
		return nil, fmt.Errorf("%w: bonus %d is %s", xerrors.ErrBonusNotPayable, bonusID, bonus.Status)
	}

	txn, err := r.wallets.CreditTx(ctx, tx, &domain.WalletCredit{
		UserID:      bonus.UserID,
		Amount:      bonus.Amount,
		Type:        domain.TransactionTypeBonusPayout,
		Reference:   reference,
		Description: fmt.Sprintf("Level %d referral bonus for payment %d", bonus.Level, bonus.PaymentID),
	})
	if err != nil {
		return nil, err
	}

	if err := r.bonuses.MarkPaid(ctx, tx, bonusID, txn.ID, paidAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit payout tx: %v", xerrors.ErrTransient, err)
	}
	return txn, nil
}
