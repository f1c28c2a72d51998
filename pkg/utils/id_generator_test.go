package utils

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("processing ids validate", func(t *testing.T) {
		id := g.ProcessingID(at)
		assert.True(t, ValidateProcessingID(id), id)
	})

	t.Run("ids are unique and sortable within one instant", func(t *testing.T) {
		ids := make([]string, 100)
		for i := range ids {
			ids[i] = g.ProcessingID(at)
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			seen[id] = struct{}{}
		}
		require.Len(t, seen, len(ids))
		assert.True(t, sort.StringsAreSorted(ids))
	})

	t.Run("payment references upper-case the prefix", func(t *testing.T) {
		ref := g.PaymentReference("pay", at)
		assert.Equal(t, "PAY_", ref[:4])
		assert.Len(t, ref, 4+26)
	})
}

func TestValidateProcessingID(t *testing.T) {
	assert.False(t, ValidateProcessingID(""))
	assert.False(t, ValidateProcessingID("proc_"))
	assert.False(t, ValidateProcessingID("proc_short"))
	assert.False(t, ValidateProcessingID("run_01ARZ3NDEKTSV4RRFFQ69G5FAV"))
	assert.False(t, ValidateProcessingID("proc_!!ARZ3NDEKTSV4RRFFQ69G5FAV"))
	assert.True(t, ValidateProcessingID("proc_01ARZ3NDEKTSV4RRFFQ69G5FAV"))
}
