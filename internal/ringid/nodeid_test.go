package ringid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSubWrap(t *testing.T) {
	n := Max.Add(1)
	require.True(t, n.Equal(Zero), "Max+1 should wrap to Zero")

	n2 := Zero.Sub(1)
	require.True(t, n2.Equal(Max), "Zero-1 should wrap to Max")
}

func TestSuccPredDist(t *testing.T) {
	a := FromUint64(10)
	b := FromUint64(20)
	require.Equal(t, uint64(10), SuccDist(a, b).Uint64())
	require.Equal(t, uint64(10), PredDist(b, a).Uint64())
}

func TestMidpoints(t *testing.T) {
	a := FromUint64(0)
	b := FromUint64(100)
	mid := SuccMidpoint(a, b)
	require.Equal(t, uint64(50), mid.Lo)

	predMid := PredMidpoint(b, a)
	require.Equal(t, uint64(50), predMid.Lo)
}

func TestMinDist(t *testing.T) {
	a := FromUint64(0)
	b := FromUint64(10)
	require.Equal(t, uint64(10), MinDist(a, b).Uint64())
}

func TestNodeInstanceSupersedes(t *testing.T) {
	id := FromUint64(1)
	older := NodeInstance{Id: id, InstanceId: 1}
	newer := NodeInstance{Id: id, InstanceId: 2}
	require.True(t, newer.Supersedes(older))
	require.False(t, older.Supersedes(newer))

	other := NodeInstance{Id: FromUint64(2), InstanceId: 5}
	require.False(t, other.Supersedes(older))
}
