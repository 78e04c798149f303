package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := New[int](3)

	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.Equal(t, []int{1, 2, 3}, r.Snapshot())

	assert.True(t, r.Push(4))
	assert.True(t, r.Push(5))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := New[int](100)
	for i := range 1000 {
		r.Push(i)
		require.LessOrEqual(t, r.Len(), 100)
	}

	got := r.Snapshot()
	require.Len(t, got, 100)
	assert.Equal(t, 900, got[0])
	assert.Equal(t, 999, got[99])
}

func TestRingEachStopsEarly(t *testing.T) {
	r := New[string](4)
	for _, s := range []string{"a", "b", "c"} {
		r.Push(s)
	}

	var seen []string
	r.Each(func(s string) bool {
		seen = append(seen, s)
		return s != "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRingClear(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Clear()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())

	r.Push(7)
	assert.Equal(t, []int{7}, r.Snapshot())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := New[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Snapshot())
}
