package ping

import (
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routingtable"
	"github.com/luxfi/federation/internal/token"
)

func newTable() *routingtable.Table {
	this := routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(0), InstanceId: 1},
		Phase:    routingtable.Routing,
		Token:    token.Token{Range: ringid.FullRange(), Version: 1},
	}
	return routingtable.New(this, 2, 10, log.NewNoOpLogger(), nil)
}

func TestAgeProbesTimesOut(t *testing.T) {
	tbl := newTable()
	m := NewManager(tbl, time.Second, 5*time.Millisecond, log.NewNoOpLogger(), nil)
	m.BeginProbe(ringid.FromUint64(100))

	time.Sleep(10 * time.Millisecond)
	aged := m.AgeProbes()
	require.Len(t, aged, 1)
	require.Equal(t, ringid.FromUint64(100), aged[0])
}

func TestHandleReplyElevatesUnknown(t *testing.T) {
	tbl := newTable()
	m := NewManager(tbl, time.Second, time.Second, log.NewNoOpLogger(), nil)

	newPartner := routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(50), InstanceId: 1},
		Phase:    routingtable.Routing,
	}
	m.HandleReply(ringid.FromUint64(50), Reply{Neighborhood: []routingtable.PartnerNode{newPartner}})

	got, ok := tbl.Get(ringid.FromUint64(50))
	require.True(t, ok)
	require.Equal(t, routingtable.Unknown, got.Phase, "first observation via ping reply is recorded Unknown")
}
