package core

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/config"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/voterstore"
)

type echoApp struct{}

func (echoApp) Deliver(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

func newTestNode(t *testing.T, reg *Registry, addr string, id ringid.NodeId, directory map[ringid.NodeId]string) *FederationCore {
	t.Helper()
	cfg := config.Default()
	self := ringid.NodeInstance{Id: id, InstanceId: 1}
	return New(cfg, self, addr, addr+"-lease", "ring0", directory, reg, echoApp{}, log.NewNoOpLogger(), prometheus.NewRegistry())
}

// buildCluster wires a 3-node ring sharing one Registry, each a voter seat.
func buildCluster(t *testing.T) (*Registry, []*FederationCore, []ringid.NodeInstance) {
	t.Helper()
	reg := NewRegistry()

	ids := []ringid.NodeId{
		ringid.FromUint64(0),
		ringid.FromUint64(1 << 40),
		ringid.FromUint64(2 << 40),
	}
	addrs := []string{"node0", "node1", "node2"}
	directory := map[ringid.NodeId]string{
		ids[0]: addrs[0],
		ids[1]: addrs[1],
		ids[2]: addrs[2],
	}

	nodes := make([]*FederationCore, 3)
	seats := make([]ringid.NodeInstance, 3)
	for i := range ids {
		nodes[i] = newTestNode(t, reg, addrs[i], ids[i], directory)
		seats[i] = nodes[i].self
	}

	// Partner tables mutually aware of one another (a real deployment
	// learns this via Join/Ping; the test seeds it directly).
	for i, n := range nodes {
		for j, other := range nodes {
			if i == j {
				continue
			}
			p, _ := other.Table.Get(other.self.Id)
			n.Table.Upsert(p)
		}
	}

	return reg, nodes, seats
}

func TestNewWiresEveryComponent(t *testing.T) {
	reg := NewRegistry()
	id := ringid.FromUint64(7)
	n := newTestNode(t, reg, "solo", id, map[ringid.NodeId]string{id: "solo"})
	require.NotNil(t, n.Table)
	require.NotNil(t, n.Dispatcher)
	require.NotNil(t, n.Join)
	require.NotNil(t, n.Ping)
	require.NotNil(t, n.Voters)
	require.NotNil(t, n.Router)
	require.NotNil(t, n.Broadcaster)
	require.NotNil(t, n.Multicaster)
	require.NotNil(t, n.Update)
	require.NotNil(t, n.GlobalTime)

	registered, ok := reg.lookup("solo")
	require.True(t, ok)
	require.Same(t, n, registered)
}

func TestBootstrapElectsPrimaryAndReplicatesWrites(t *testing.T) {
	_, nodes, seats := buildCluster(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, n := range nodes {
		require.NoError(t, n.Bootstrap(ctx, seats, ringid.FullRange()))
	}

	var primary *FederationCore
	for _, n := range nodes {
		if n.Voters.Phase() == voterstore.Primary {
			require.Nil(t, primary, "exactly one node must become primary")
			primary = n
		}
	}
	require.NotNil(t, primary, "bootstrap must elect a primary across the cluster")

	_, err := primary.Voters.Write(ctx, "k", voterstore.StringValue{S: "v1"}, -1)
	require.NoError(t, err)

	val, _, _, err := primary.Voters.Read("k")
	require.NoError(t, err)
	require.Equal(t, voterstore.StringValue{S: "v1"}, val)
}

func TestAppDeliverIsReachableThroughRoutingAdapter(t *testing.T) {
	reg := NewRegistry()
	id := ringid.FromUint64(9)
	n := newTestNode(t, reg, "solo2", id, map[ringid.NodeId]string{id: "solo2"})
	adapter := &routingAdapter{app: n.app}
	reply, err := adapter.Deliver(context.Background(), routing.Message{Payload: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), reply)
}
