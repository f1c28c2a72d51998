package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByReferralCode(ctx context.Context, code string) (*domain.User, error)

	// EligibilityByIDs bulk-reads the status flags for a set of users.
	EligibilityByIDs(ctx context.Context, ids []int64) (map[int64]*domain.User, error)

	Create(ctx context.Context, tx pgx.Tx, u *domain.User) error
	SetFlagged(ctx context.Context, userID int64, flagged bool) error
}

type userRepo struct {
	db *pgxpool.Pool
}

func NewUserRepo(db *pgxpool.Pool) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `
	id, phone_number, email, country_code, referral_code, referred_by,
	active, verified, bonus_eligible, flagged, kyc_status, device_id,
	last_ip, created_at
`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.PhoneNumber,
		&u.Email,
		&u.CountryCode,
		&u.ReferralCode,
		&u.ReferredBy,
		&u.Active,
		&u.Verified,
		&u.BonusEligible,
		&u.Flagged,
		&u.KYCStatus,
		&u.DeviceID,
		&u.LastIP,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *userRepo) GetByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	return scanUser(r.db.QueryRow(ctx, query, code))
}

func (r *userRepo) EligibilityByIDs(ctx context.Context, ids []int64) (map[int64]*domain.User, error) {
	if len(ids) == 0 {
		return make(map[int64]*domain.User), nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query user eligibility: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*domain.User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return result, nil
}

func (r *userRepo) Create(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO users (
			phone_number, email, country_code, referral_code, referred_by,
			active, verified, bonus_eligible, flagged, kyc_status, device_id, last_ip
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		u.PhoneNumber,
		u.Email,
		u.CountryCode,
		u.ReferralCode,
		u.ReferredBy,
		u.Active,
		u.Verified,
		u.BonusEligible,
		u.Flagged,
		u.KYCStatus,
		u.DeviceID,
		u.LastIP,
	).Scan(&u.ID, &u.CreatedAt)

	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", xerrors.ErrDuplicate, u.PhoneNumber)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepo) SetFlagged(ctx context.Context, userID int64, flagged bool) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE users SET flagged = $1 WHERE id = $2`, flagged, userID)
	if err != nil {
		return fmt.Errorf("failed to update flagged for user %d: %w", userID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
