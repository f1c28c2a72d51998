package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/pkg/xerrors"
)

type descendantCheckerFunc func(ctx context.Context, ancestorID, descendantID int64) bool

func (f descendantCheckerFunc) IsDescendant(ctx context.Context, ancestorID, descendantID int64) bool {
	return f(ctx, ancestorID, descendantID)
}

func TestGuardReferral(t *testing.T) {
	ctx := context.Background()
	referrer := int64(5)

	t.Run("allows a root signup without consulting the network", func(t *testing.T) {
		checker := descendantCheckerFunc(func(context.Context, int64, int64) bool {
			t.Fatal("checker should not be called for a root signup")
			return false
		})

		require.NoError(t, guardReferral(ctx, checker, 10, nil))
	})

	t.Run("allows a referral with no existing relationship", func(t *testing.T) {
		var gotAncestor, gotDescendant int64
		checker := descendantCheckerFunc(func(_ context.Context, ancestorID, descendantID int64) bool {
			gotAncestor, gotDescendant = ancestorID, descendantID
			return false
		})

		require.NoError(t, guardReferral(ctx, checker, 10, &referrer))
		assert.Equal(t, int64(10), gotAncestor, "should ask whether the referrer sits below the new user")
		assert.Equal(t, referrer, gotDescendant)
	})

	t.Run("rejects a user sponsoring themselves", func(t *testing.T) {
		self := int64(10)
		checker := descendantCheckerFunc(func(context.Context, int64, int64) bool {
			t.Fatal("checker should not be called once self referral is detected")
			return false
		})

		err := guardReferral(ctx, checker, 10, &self)
		require.Error(t, err)
		assert.ErrorIs(t, err, xerrors.ErrSelfReferral)
	})

	t.Run("rejects a referrer already below the new user", func(t *testing.T) {
		checker := descendantCheckerFunc(func(context.Context, int64, int64) bool {
			return true
		})

		err := guardReferral(ctx, checker, 10, &referrer)
		require.Error(t, err)
		assert.ErrorIs(t, err, xerrors.ErrReferralCycle)
	})

	t.Run("refuses when the network state is unknown", func(t *testing.T) {
		// IsDescendant reports true when its query fails, so an
		// unreachable database must read as a cycle here.
		checker := descendantCheckerFunc(func(context.Context, int64, int64) bool {
			return true
		})

		err := guardReferral(ctx, checker, 42, &referrer)
		assert.ErrorIs(t, err, xerrors.ErrReferralCycle)
	})
}
