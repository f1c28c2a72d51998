package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonus-service/internal/pkg/clock"
)

func TestNewBonusRepoUsesInjectedClock(t *testing.T) {
	fixed := &clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	r, ok := NewBonusRepo(nil, fixed).(*bonusRepo)
	require.True(t, ok)
	assert.Equal(t, fixed.T, r.clk.Now())

	fixed.Advance(time.Hour)
	assert.Equal(t, fixed.T, r.clk.Now(), "calculated-at timestamps should follow the injected clock")
}
