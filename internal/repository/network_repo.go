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

type NetworkRepository interface {
	// IsDescendant reports whether descendant sits anywhere below ancestor.
	// Fail-closed: a query error reports true so callers refuse the signup.
	IsDescendant(ctx context.Context, ancestorID, descendantID int64) bool

	// AddUser inserts the closure rows for a new user inside the caller's
	// transaction.
	AddUser(ctx context.Context, tx pgx.Tx, newUserID int64, referrerID *int64) error

	Ancestors(ctx context.Context, userID int64, maxDepth int) ([]*domain.Ancestor, error)
	Descendants(ctx context.Context, userID int64, level *int) ([]*domain.Descendant, error)

	// HasRelationship checks the exact (ancestor, descendant, depth) triple.
	HasRelationship(ctx context.Context, ancestorID, descendantID int64, depth int) (bool, error)

	// CyclicRows returns corruption: rows with ancestor = descendant at depth > 0.
	CyclicRows(ctx context.Context) ([]*domain.NetworkRow, error)
}

type networkRepo struct {
	db *pgxpool.Pool
}

func NewNetworkRepo(db *pgxpool.Pool) NetworkRepository {
	return &networkRepo{db: db}
}

func (r *networkRepo) IsDescendant(ctx context.Context, ancestorID, descendantID int64) bool {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM referral_network
			WHERE ancestor_id = $1 AND descendant_id = $2 AND depth >= 1
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, ancestorID, descendantID).Scan(&exists); err != nil {
		// Unknown answer counts as a cycle so we never insert one.
		return true
	}
	return exists
}

// descendantChecker is the subset of NetworkRepository that guardReferral
// consults before closure rows are written.
type descendantChecker interface {
	IsDescendant(ctx context.Context, ancestorID, descendantID int64) bool
}

// guardReferral refuses signups that would corrupt the closure table:
// a user sponsoring themselves, or a referrer that already sits below
// the new user. Because IsDescendant answers true on query errors, an
// unknown network state is also refused here.
func guardReferral(ctx context.Context, checker descendantChecker, newUserID int64, referrerID *int64) error {
	if referrerID == nil {
		return nil
	}
	if *referrerID == newUserID {
		return fmt.Errorf("%w: user %d", xerrors.ErrSelfReferral, newUserID)
	}
	if checker.IsDescendant(ctx, newUserID, *referrerID) {
		return fmt.Errorf("%w: user %d above referrer %d", xerrors.ErrReferralCycle, newUserID, *referrerID)
	}
	return nil
}

func (r *networkRepo) AddUser(ctx context.Context, tx pgx.Tx, newUserID int64, referrerID *int64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	if err := guardReferral(ctx, r, newUserID, referrerID); err != nil {
		return err
	}

	selfRow := `
		INSERT INTO referral_network (ancestor_id, descendant_id, depth)
		VALUES ($1, $1, 0)
		ON CONFLICT (ancestor_id, descendant_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, selfRow, newUserID); err != nil {
		return fmt.Errorf("failed to insert self row for user %d: %w", newUserID, err)
	}

	if referrerID == nil {
		return nil
	}

	if _, err := tx.Exec(ctx, selfRow, *referrerID); err != nil {
		return fmt.Errorf("failed to insert referrer self row: %w", err)
	}

	// Fan the new user out under every ancestor of the referrer, depth
	// shifted by one, bounded by the maximum depth.
	fanOut := `
		INSERT INTO referral_network (ancestor_id, descendant_id, depth)
		SELECT ancestor_id, $1, depth + 1
		FROM referral_network
		WHERE descendant_id = $2 AND depth < $3
		ON CONFLICT (ancestor_id, descendant_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, fanOut, newUserID, *referrerID, domain.MaxReferralDepth); err != nil {
		return fmt.Errorf("failed to fan out ancestor rows: %w", err)
	}

	directRow := `
		INSERT INTO referral_network (ancestor_id, descendant_id, depth)
		VALUES ($1, $2, 1)
		ON CONFLICT (ancestor_id, descendant_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, directRow, *referrerID, newUserID); err != nil {
		return fmt.Errorf("failed to insert direct referral row: %w", err)
	}

	return nil
}

func (r *networkRepo) Ancestors(ctx context.Context, userID int64, maxDepth int) ([]*domain.Ancestor, error) {
	if maxDepth <= 0 || maxDepth > domain.MaxReferralDepth {
		maxDepth = domain.MaxReferralDepth
	}

	query := `
		SELECT ancestor_id, depth
		FROM referral_network
		WHERE descendant_id = $1 AND depth >= 1 AND depth <= $2
		ORDER BY depth ASC
	`

	rows, err := r.db.Query(ctx, query, userID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Ancestor
	for rows.Next() {
		var a domain.Ancestor
		if err := rows.Scan(&a.UserID, &a.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor row: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ancestor rows: %w", err)
	}

	return out, nil
}

func (r *networkRepo) Descendants(ctx context.Context, userID int64, level *int) ([]*domain.Descendant, error) {
	query := `
		SELECT descendant_id, depth
		FROM referral_network
		WHERE ancestor_id = $1 AND depth >= 1
	`
	args := []any{userID}
	if level != nil {
		query += ` AND depth = $2`
		args = append(args, *level)
	}
	query += ` ORDER BY depth ASC, descendant_id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Descendant
	for rows.Next() {
		var d domain.Descendant
		if err := rows.Scan(&d.UserID, &d.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan descendant row: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descendant rows: %w", err)
	}

	return out, nil
}

func (r *networkRepo) HasRelationship(ctx context.Context, ancestorID, descendantID int64, depth int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM referral_network
			WHERE ancestor_id = $1 AND descendant_id = $2 AND depth = $3
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, ancestorID, descendantID, depth).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check network relationship: %w", err)
	}
	return exists, nil
}

func (r *networkRepo) CyclicRows(ctx context.Context) ([]*domain.NetworkRow, error) {
	query := `
		SELECT ancestor_id, descendant_id, depth, created_at
		FROM referral_network
		WHERE ancestor_id = descendant_id AND depth > 0
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cyclic rows: %w", err)
	}
	defer rows.Close()

	var out []*domain.NetworkRow
	for rows.Next() {
		var n domain.NetworkRow
		if err := rows.Scan(&n.AncestorID, &n.DescendantID, &n.Depth, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan network row: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating network rows: %w", err)
	}

	if len(out) > 0 {
		return out, fmt.Errorf("%w: %d cyclic closure rows", xerrors.ErrFatal, len(out))
	}
	return out, nil
}
