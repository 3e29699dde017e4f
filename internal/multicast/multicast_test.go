package multicast

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
	"github.com/luxfi/federation/internal/token"
)

type recordingLocal struct {
	delivered []ringid.NodeId
}

func (r *recordingLocal) Deliver(_ context.Context, env Envelope) ([]byte, bool) {
	r.delivered = append(r.delivered, env.Targets[0].Id)
	return []byte("ack"), true
}

type noopSender struct{}

func (noopSender) ForwardHop(_ context.Context, _ ringid.NodeInstance, _ routing.Message) error {
	return nil
}

func newTestSetup(local LocalHandler) *Multicaster {
	this := routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(0), InstanceId: 1},
		Phase:    routingtable.Routing,
		Token:    token.Token{Range: ringid.FullRange(), Version: 1},
	}
	tbl := routingtable.New(this, 2, 10, log.NewNoOpLogger(), nil)
	tbl.Upsert(routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(100), InstanceId: 1},
		Phase:    routingtable.Routing,
	})
	router := routing.NewRouter(tbl, nil, noopSender{}, nil, log.NewNoOpLogger(), nil)
	return New(tbl, router, local, time.Millisecond, 10*time.Millisecond, log.NewNoOpLogger(), nil)
}

func TestMulticastDeliversLocalTargetDirectly(t *testing.T) {
	local := &recordingLocal{}
	m := newTestSetup(local)

	id, rc := m.Multicast(context.Background(), []ringid.NodeInstance{{Id: ringid.FromUint64(0), InstanceId: 1}}, []byte("x"))
	require.NotEqual(t, id, nil)

	select {
	case reply := <-rc.Replies():
		require.Equal(t, ringid.FromUint64(0), reply.RequestDestination)
		require.True(t, reply.IsReply)
	case <-time.After(time.Second):
		t.Fatal("expected a reply for the locally owned target")
	}
}

func TestGroupByIntermediateGroupsRemoteTargets(t *testing.T) {
	local := &recordingLocal{}
	m := newTestSetup(local)

	groups := m.groupByIntermediate([]ringid.NodeInstance{
		{Id: ringid.FromUint64(90), InstanceId: 1},
		{Id: ringid.FromUint64(110), InstanceId: 1},
	})
	require.Len(t, groups, 1, "both targets are closest to the sole known partner")
	owner := ringid.FromUint64(100)
	require.Len(t, groups[owner], 2)
}
