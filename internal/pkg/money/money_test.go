package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/pkg/xerrors"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestQuantizeRoundsTowardZero(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.999", "10.99"},
		{"10.991", "10.99"},
		{"0.005", "0.00"},
		{"100", "100"},
		{"1234.5", "1234.5"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.True(t, Quantize(dec(tc.in)).Equal(dec(tc.want)),
				"quantize(%s) = %s, want %s", tc.in, Quantize(dec(tc.in)), tc.want)
		})
	}
}

func TestApplyRate(t *testing.T) {
	t.Run("level one on 100000", func(t *testing.T) {
		got, err := ApplyRate(dec("100000"), dec("0.10"))
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("10000")))
	})

	t.Run("truncates sub-cent remainder", func(t *testing.T) {
		got, err := ApplyRate(dec("333.33"), dec("0.03"))
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("9.99")), "got %s", got)
	})

	t.Run("overflow rejected", func(t *testing.T) {
		_, err := ApplyRate(dec("200000000"), dec("0.10"))
		require.Error(t, err)
		assert.ErrorIs(t, err, xerrors.ErrOverflow)
	})
}

func TestCheckRange(t *testing.T) {
	one := decimal.NewFromInt(1)
	assert.NoError(t, CheckRange(dec("1"), one))
	assert.NoError(t, CheckRange(dec("10000000"), one))
	assert.ErrorIs(t, CheckRange(dec("0.99"), one), xerrors.ErrValidation)
	assert.ErrorIs(t, CheckRange(dec("10000000.01"), one), xerrors.ErrOverflow)
}

func TestParse(t *testing.T) {
	got, err := Parse("250.509")
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("250.50")))

	_, err = Parse("not-a-number")
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}
