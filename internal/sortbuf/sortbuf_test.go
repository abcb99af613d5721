package sortbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyChangeKeepsAscendingOrder(t *testing.T) {
	b := New()
	b.ApplyChange(Change{Window: 30, Row: []any{"c"}})
	b.ApplyChange(Change{Window: 10, Row: []any{"a"}})
	b.ApplyChange(Change{Window: 20, Row: []any{"b"}})

	require.Equal(t, 3, b.Len())
	got, err := Consume(b, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, windows(got))
}

func TestConsumeOnlyUpToWatermark(t *testing.T) {
	b := New()
	b.ApplyChange(Change{Window: 10, Row: []any{"a"}})
	b.ApplyChange(Change{Window: 20, Row: []any{"b"}})
	b.ApplyChange(Change{Window: 30, Row: []any{"c"}})

	got, err := Consume(b, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, windows(got))
	assert.Equal(t, 1, b.Len())
}

func TestDeleteRemovesMatchingRow(t *testing.T) {
	b := New()
	b.ApplyChange(Change{Window: 10, Row: []any{"a"}})
	b.ApplyChange(Change{Window: 20, Row: []any{"b"}})
	b.ApplyChange(Change{Window: 10, Row: []any{"a"}, Delete: true})

	assert.Equal(t, 1, b.Len())
	got, err := Consume(b, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, windows(got))
}

// TestConsumeAtWatermark25MatchesSpecScenario is spec §8 scenario 5: rows
// at window values {10, 20, 30, 40}, watermark pushed to 25, expecting
// exactly the rows at or below the watermark (10, 20) released and the
// rest (30, 40) left buffered.
func TestConsumeAtWatermark25MatchesSpecScenario(t *testing.T) {
	b := New()
	b.ApplyChange(Change{Window: 10, Row: []any{"row10"}})
	b.ApplyChange(Change{Window: 20, Row: []any{"row20"}})
	b.ApplyChange(Change{Window: 30, Row: []any{"row30"}})
	b.ApplyChange(Change{Window: 40, Row: []any{"row40"}})

	got, err := Consume(b, 25, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, windows(got))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []int64{30, 40}, windows(b.entries))
}

func windows(cs []Change) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Window
	}
	return out
}
