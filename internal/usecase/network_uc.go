package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/pkg/xerrors"
	"bonus-service/internal/repository"
)

const ancestorCacheTTL = 5 * time.Minute

// NetworkUsecase handles signups and reads of the referral network. Ancestor
// chains are read-heavy and append-only, so they are cached in redis and
// invalidated when a downline member joins.
type NetworkUsecase struct {
	cfg     config.AppConfig
	reg     repository.RegistrationRepository
	users   repository.UserRepository
	network repository.NetworkRepository
	audit   repository.AuditRepository
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewNetworkUsecase(
	cfg config.AppConfig,
	reg repository.RegistrationRepository,
	users repository.UserRepository,
	network repository.NetworkRepository,
	audit repository.AuditRepository,
	rdb *redis.Client,
	logger *zap.Logger,
) *NetworkUsecase {
	return &NetworkUsecase{
		cfg:     cfg,
		reg:     reg,
		users:   users,
		network: network,
		audit:   audit,
		rdb:     rdb,
		logger:  logger,
	}
}

// RegisterInput is the signup payload after transport-level decoding.
type RegisterInput struct {
	PhoneNumber  string
	Email        *string
	CountryCode  string
	ReferralCode string
	ReferredBy   string
	DeviceID     *string
	IPAddress    string
}

// Register creates the user, wires them into the referral closure, and opens
// their wallet. ReferredBy is the sponsor's referral code; empty means a root
// signup.
func (uc *NetworkUsecase) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if in.PhoneNumber == "" || in.ReferralCode == "" {
		return nil, fmt.Errorf("%w: phone number and referral code are required", xerrors.ErrValidation)
	}
	if in.CountryCode == "" {
		in.CountryCode = uc.cfg.CountryCode
	}

	var referrerID *int64
	if in.ReferredBy != "" {
		referrer, err := uc.users.GetByReferralCode(ctx, in.ReferredBy)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown referral code %q", xerrors.ErrValidation, in.ReferredBy)
			}
			return nil, err
		}
		referrerID = &referrer.ID
	}

	u := &domain.User{
		PhoneNumber:   in.PhoneNumber,
		Email:         in.Email,
		CountryCode:   in.CountryCode,
		ReferralCode:  in.ReferralCode,
		ReferredBy:    referrerID,
		Active:        true,
		BonusEligible: true,
		KYCStatus:     domain.KYCStatusPending,
		DeviceID:      in.DeviceID,
	}
	if in.IPAddress != "" {
		u.LastIP = &in.IPAddress
	}

	if err := uc.reg.Register(ctx, u, uc.cfg.Currency); err != nil {
		return nil, err
	}

	uc.invalidateAncestors(ctx, u.ID)

	actor := fmt.Sprintf("user:%d", u.ID)
	if err := uc.audit.Insert(ctx, &domain.AuditEntry{
		ActorID:   actor,
		Action:    domain.AuditActionUserRegistered,
		IPAddress: in.IPAddress,
		Details: map[string]any{
			"user_id":       u.ID,
			"referral_code": u.ReferralCode,
			"referred_by":   referrerID,
			"country_code":  u.CountryCode,
		},
	}); err != nil {
		uc.logger.Error("failed to audit registration", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	uc.logger.Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("referral_code", u.ReferralCode),
		zap.Bool("has_referrer", referrerID != nil),
	)
	return u, nil
}

// Ancestors returns the user's upline chain, nearest first, capped at the
// configured depth. Served from redis when warm.
func (uc *NetworkUsecase) Ancestors(ctx context.Context, userID int64) ([]*domain.Ancestor, error) {
	key := ancestorCacheKey(userID)
	if uc.rdb != nil {
		if raw, err := uc.rdb.Get(ctx, key).Bytes(); err == nil {
			var cached []*domain.Ancestor
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	chain, err := uc.network.Ancestors(ctx, userID, domain.MaxReferralDepth)
	if err != nil {
		return nil, err
	}

	if uc.rdb != nil {
		if raw, err := json.Marshal(chain); err == nil {
			if err := uc.rdb.Set(ctx, key, raw, ancestorCacheTTL).Err(); err != nil {
				uc.logger.Debug("ancestor cache write failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
	}
	return chain, nil
}

// Downline returns the user's descendants, optionally at one exact level.
func (uc *NetworkUsecase) Downline(ctx context.Context, userID int64, level *int) ([]*domain.Descendant, error) {
	if level != nil && (*level < 1 || *level > domain.MaxReferralDepth) {
		return nil, fmt.Errorf("%w: level must be between 1 and %d", xerrors.ErrValidation, domain.MaxReferralDepth)
	}
	return uc.network.Descendants(ctx, userID, level)
}

// invalidateAncestors drops the new user's cached chain. The chains of users
// above them never change on a signup, only new descendant rows appear.
func (uc *NetworkUsecase) invalidateAncestors(ctx context.Context, userID int64) {
	if uc.rdb == nil {
		return
	}
	if err := uc.rdb.Del(ctx, ancestorCacheKey(userID)).Err(); err != nil {
		uc.logger.Debug("ancestor cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func ancestorCacheKey(userID int64) string {
	return fmt.Sprintf("referral:ancestors:%d", userID)
}
