package token

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
)

func TestAcceptRejectsRecovery(t *testing.T) {
	local := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: RecoveryIncrement + 100}
	received := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: 100}

	_, ok := Accept(local, received, ringid.FromUint64(0))
	require.False(t, ok, "a version that regresses by >= RecoveryIncrement must be rejected")
}

func TestAcceptEmptyRequiresOwnerInRange(t *testing.T) {
	local := Token{Range: ringid.EmptyRange(), Version: 0}
	owner := ringid.FromUint64(50)

	outside := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(10)), Version: 1}
	_, ok := Accept(local, outside, owner)
	require.False(t, ok)

	inside := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: 1}
	got, ok := Accept(local, inside, owner)
	require.True(t, ok)
	require.True(t, got.Range.Equal(inside.Range))
}

func TestSplitSuccMidpoint(t *testing.T) {
	owner := ringid.FromUint64(0)
	neighbor := ringid.FromUint64(100)
	local := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: 1}

	newOwner, transfer, ok := SplitSucc(local, owner, neighbor)
	require.True(t, ok)
	require.True(t, newOwner.Range.Contains(owner))
	require.False(t, newOwner.Range.Contains(neighbor))
	require.True(t, transfer.Range.Contains(neighbor))
	require.Equal(t, local.Version, transfer.SourceVersion)
	require.Equal(t, newOwner.Version, transfer.TargetVersion)
}

func TestSplitSuccInvalidWhenMidpointOutsideRange(t *testing.T) {
	local := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(10)), Version: 1}
	_, _, ok := SplitSucc(local, ringid.FromUint64(0), ringid.FromUint64(1000))
	require.False(t, ok)
}

func TestTokenVersionMonotonic(t *testing.T) {
	local := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: 5}
	newOwner, _, ok := SplitSucc(local, ringid.FromUint64(0), ringid.FromUint64(100))
	require.True(t, ok)
	require.Greater(t, newOwner.Version, local.Version)
}

func TestReleaseSuccTransfersFarSideArc(t *testing.T) {
	predId := ringid.FromUint64(0)
	succId := ringid.FromUint64(100)
	local := Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(100)), Version: 1}

	remainder, transfer, ok := ReleaseSucc(local, predId, ringid.FromUint64(50), succId)
	require.True(t, ok)
	require.False(t, remainder.Range.IsEmpty(), "the owner keeps the near-side remainder, not Empty")
	require.True(t, remainder.Range.Contains(predId))
	require.False(t, remainder.Range.Contains(succId))
	require.True(t, transfer.Range.Contains(succId))
	require.True(t, remainder.Range.Disjoint(transfer.Range))

	final, predTransfer, ok := ReleasePred(remainder, predId, ringid.FromUint64(50), succId)
	require.True(t, ok)
	require.True(t, final.Range.IsEmpty())
	require.True(t, predTransfer.Range.Equal(remainder.Range))
}
