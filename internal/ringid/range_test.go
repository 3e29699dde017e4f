package ringid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyFullDistinct(t *testing.T) {
	require.False(t, EmptyRange().Equal(FullRange()))
	require.True(t, EmptyRange().IsEmpty())
	require.True(t, FullRange().IsFull())
	require.True(t, FullRange().Contains(Zero))
}

func TestWrapAroundContains(t *testing.T) {
	r := NewRange(Max, Zero)
	require.True(t, r.Contains(Max))
	require.True(t, r.Contains(Zero))
	require.False(t, r.Contains(FromUint64(1)))
}

func TestSubtractIdentities(t *testing.T) {
	r := NewRange(FromUint64(0), FromUint64(100))
	require.True(t, r.Equal(r.Subtract(EmptyRange())[0]))
	require.Empty(t, r.Subtract(FullRange()))
}

func TestMergeCommutative(t *testing.T) {
	a := NewRange(FromUint64(0), FromUint64(50))
	b := NewRange(FromUint64(51), FromUint64(100))

	m1, ok1 := a.Merge(b)
	m2, ok2 := b.Merge(a)
	require.True(t, ok1)
	require.True(t, ok2)
	require.True(t, m1.Equal(m2))
	require.True(t, m1.Equal(NewRange(FromUint64(0), FromUint64(100))))
}

func TestDisjointRangesDoNotMerge(t *testing.T) {
	a := NewRange(FromUint64(0), FromUint64(10))
	b := NewRange(FromUint64(50), FromUint64(60))
	_, ok := a.Merge(b)
	require.False(t, ok)
}

func TestSubtractTwoSlivers(t *testing.T) {
	r := NewRange(FromUint64(0), FromUint64(100))
	hole := NewRange(FromUint64(40), FromUint64(60))
	parts := r.Subtract(hole)
	require.Len(t, parts, 2)
	require.True(t, parts[0].Equal(NewRange(FromUint64(0), FromUint64(39))))
	require.True(t, parts[1].Equal(NewRange(FromUint64(61), FromUint64(100))))
}
