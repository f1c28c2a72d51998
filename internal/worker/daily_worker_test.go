package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntilNextRun(t *testing.T) {
	t.Run("later today", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, 13*time.Hour+30*time.Minute, untilNextRun(now, 0))
		assert.Equal(t, 90*time.Minute, untilNextRun(now, 12))
	})

	t.Run("hour already passed rolls to tomorrow", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, 19*time.Hour+30*time.Minute, untilNextRun(now, 6))
	})

	t.Run("exactly on the hour waits a full day", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
		assert.Equal(t, 24*time.Hour, untilNextRun(now, 6))
	})
}
