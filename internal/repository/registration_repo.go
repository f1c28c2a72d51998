package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

// RegistrationRepository creates a user, their closure rows, and their
// wallet in one transaction. A failed signup leaves nothing behind.
type RegistrationRepository interface {
	Register(ctx context.Context, u *domain.User, currency string) error
}

type registrationRepo struct {
	db      *pgxpool.Pool
	users   UserRepository
	network NetworkRepository
	wallets WalletRepository
}

func NewRegistrationRepo(db *pgxpool.Pool, users UserRepository, network NetworkRepository, wallets WalletRepository) RegistrationRepository {
	return &registrationRepo{db: db, users: users, network: network, wallets: wallets}
}

func (r *registrationRepo) Register(ctx context.Context, u *domain.User, currency string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin registration tx: %v", xerrors.ErrTransient, err)
	}
	defer tx.Rollback(ctx)

	if err := r.users.Create(ctx, tx, u); err != nil {
		return err
	}
	if err := r.network.AddUser(ctx, tx, u.ID, u.ReferredBy); err != nil {
		return err
	}
	if err := r.wallets.EnsureWallet(ctx, tx, u.ID, currency); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit registration tx: %v", xerrors.ErrTransient, err)
	}
	return nil
}
