package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Row shapes returned by the fraud sweep queries.

type PhoneUsage struct {
	PhoneNumber string
	Count       int
	UserIDs     []int64
}

type IPBurst struct {
	IPAddress string
	Count     int
}

type VelocityRow struct {
	UserID int64
	Count  int
}

type GeoAnomaly struct {
	UserID    int64
	CountryA  string
	CountryB  string
	FirstSeen time.Time
	LastSeen  time.Time
}

type SelfReferralRow struct {
	UserID int64
}

type SharedPhoneReferral struct {
	ReferrerID  int64
	ReferredID  int64
	PhoneNumber string
}

// BonusEvent is one historical bonus used in risk scoring.
type BonusEvent struct {
	Amount     decimal.Decimal
	ReferredID int64
	CreatedAt  time.Time
}

type FraudRepository interface {
	SelfReferrals(ctx context.Context) ([]SelfReferralRow, error)
	SharedPhoneReferrals(ctx context.Context) ([]SharedPhoneReferral, error)
	PhoneMisuse(ctx context.Context, maxAccounts int) ([]PhoneUsage, error)
	RapidAccountsByIP(ctx context.Context, window time.Duration, maxAccounts int) ([]IPBurst, error)
	GeoAnomalies(ctx context.Context, window time.Duration) ([]GeoAnomaly, error)
	BonusVelocity(ctx context.Context, window time.Duration, perHourThreshold int) ([]VelocityRow, error)
	BonusHistory(ctx context.Context, userID int64, since time.Time) ([]BonusEvent, error)
	GeoAnomalyForUser(ctx context.Context, userID int64, window time.Duration) (bool, error)
}

type fraudRepo struct {
	db *pgxpool.Pool
}

func NewFraudRepo(db *pgxpool.Pool) FraudRepository {
	return &fraudRepo{db: db}
}

func (r *fraudRepo) SelfReferrals(ctx context.Context) ([]SelfReferralRow, error) {
	query := `SELECT id FROM users WHERE referred_by = id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query self referrals: %w", err)
	}
	defer rows.Close()

	var out []SelfReferralRow
	for rows.Next() {
		var s SelfReferralRow
		if err := rows.Scan(&s.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan self referral: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *fraudRepo) SharedPhoneReferrals(ctx context.Context) ([]SharedPhoneReferral, error) {
	query := `
		SELECT u.referred_by, u.id, u.phone_number
		FROM users u
		JOIN users ref ON ref.id = u.referred_by
		WHERE u.phone_number = ref.phone_number AND u.id != ref.id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query shared phone referrals: %w", err)
	}
	defer rows.Close()

	var out []SharedPhoneReferral
	for rows.Next() {
		var s SharedPhoneReferral
		if err := rows.Scan(&s.ReferrerID, &s.ReferredID, &s.PhoneNumber); err != nil {
			return nil, fmt.Errorf("failed to scan shared phone referral: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *fraudRepo) PhoneMisuse(ctx context.Context, maxAccounts int) ([]PhoneUsage, error) {
	query := `
		SELECT phone_number, COUNT(*), ARRAY_AGG(id)
		FROM users
		GROUP BY phone_number
		HAVING COUNT(*) > $1
	`

	rows, err := r.db.Query(ctx, query, maxAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to query phone misuse: %w", err)
	}
	defer rows.Close()

	var out []PhoneUsage
	for rows.Next() {
		var p PhoneUsage
		if err := rows.Scan(&p.PhoneNumber, &p.Count, &p.UserIDs); err != nil {
			return nil, fmt.Errorf("failed to scan phone usage: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *fraudRepo) RapidAccountsByIP(ctx context.Context, window time.Duration, maxAccounts int) ([]IPBurst, error) {
	query := `
		SELECT last_ip, COUNT(*)
		FROM users
		WHERE last_ip IS NOT NULL AND created_at >= $1
		GROUP BY last_ip
		HAVING COUNT(*) > $2
	`

	rows, err := r.db.Query(ctx, query, time.Now().Add(-window), maxAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to query rapid account creation: %w", err)
	}
	defer rows.Close()

	var out []IPBurst
	for rows.Next() {
		var b IPBurst
		if err := rows.Scan(&b.IPAddress, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan ip burst: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *fraudRepo) GeoAnomalies(ctx context.Context, window time.Duration) ([]GeoAnomaly, error) {
	query := `
		SELECT s1.user_id, s1.country_code, s2.country_code, s1.created_at, s2.created_at
		FROM user_sessions s1
		JOIN user_sessions s2
		  ON s1.user_id = s2.user_id
		 AND s1.country_code != s2.country_code
		 AND s2.created_at > s1.created_at
		 AND s2.created_at - s1.created_at <= $1
		WHERE s1.created_at >= $2
	`

	rows, err := r.db.Query(ctx, query, window, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query geo anomalies: %w", err)
	}
	defer rows.Close()

	var out []GeoAnomaly
	for rows.Next() {
		var g GeoAnomaly
		if err := rows.Scan(&g.UserID, &g.CountryA, &g.CountryB, &g.FirstSeen, &g.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan geo anomaly: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *fraudRepo) GeoAnomalyForUser(ctx context.Context, userID int64, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_sessions s1
			JOIN user_sessions s2
			  ON s1.user_id = s2.user_id
			 AND s1.country_code != s2.country_code
			 AND s2.created_at > s1.created_at
			 AND s2.created_at - s1.created_at <= $1
			WHERE s1.user_id = $2
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, window, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check geo anomaly for user %d: %w", userID, err)
	}
	return exists, nil
}

func (r *fraudRepo) BonusVelocity(ctx context.Context, window time.Duration, perHourThreshold int) ([]VelocityRow, error) {
	hours := window.Hours()
	if hours < 1 {
		hours = 1
	}

	query := `
		SELECT user_id, COUNT(*)
		FROM referral_bonuses
		WHERE created_at >= $1
		GROUP BY user_id
		HAVING COUNT(*) > $2
	`

	rows, err := r.db.Query(ctx, query, time.Now().Add(-window), int(float64(perHourThreshold)*hours))
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus velocity: %w", err)
	}
	defer rows.Close()

	var out []VelocityRow
	for rows.Next() {
		var v VelocityRow
		if err := rows.Scan(&v.UserID, &v.Count); err != nil {
			return nil, fmt.Errorf("failed to scan velocity row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *fraudRepo) BonusHistory(ctx context.Context, userID int64, since time.Time) ([]BonusEvent, error) {
	query := `
		SELECT amount, referred_id, created_at
		FROM referral_bonuses
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus history for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []BonusEvent
	for rows.Next() {
		var e BonusEvent
		if err := rows.Scan(&e.Amount, &e.ReferredID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bonus event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
