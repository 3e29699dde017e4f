package arbitration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
)

func TestVoterGrantsRejectOnConflict(t *testing.T) {
	tbl := NewArbitrationTable()
	subject := ringid.FromUint64(1)
	tbl.RecordClaim(subject)

	v := NewVoter(tbl)
	reply := v.Decide(Request{
		Subject:       ringid.NodeInstance{Id: subject},
		HistoryNeeded: time.Minute,
		Type:          TwoWaySimple,
	})
	require.True(t, reply.Reject)
}

func TestVoterNeutralWithoutConflict(t *testing.T) {
	tbl := NewArbitrationTable()
	v := NewVoter(tbl)
	reply := v.Decide(Request{
		Subject:       ringid.NodeInstance{Id: ringid.FromUint64(99)},
		HistoryNeeded: time.Minute,
		Type:          TwoWaySimple,
	})
	require.False(t, reply.Reject)
}

func TestAggregateTwoWaySimpleMajority(t *testing.T) {
	replies := []Reply{{Reject: true}, {Reject: true}, {Reject: false}}
	require.True(t, Aggregate(TwoWaySimple, replies, Thresholds{MinQuorum: 3}))
}

func TestAggregateTwoWayExtendedRequiresStrong(t *testing.T) {
	replies := []Reply{{Reject: true}, {Reject: true}, {Reject: false}}
	require.False(t, Aggregate(TwoWayExtended, replies, Thresholds{MinQuorum: 3}), "no Strong flag present")

	replies[0].Flags = FlagStrong
	require.True(t, Aggregate(TwoWayExtended, replies, Thresholds{MinQuorum: 3}))
}

func TestFlagNormalizeSubsumes(t *testing.T) {
	f := FlagStrong.Normalize()
	require.NotZero(t, f&FlagExtended)
}
