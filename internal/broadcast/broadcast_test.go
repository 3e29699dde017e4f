package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
	"github.com/luxfi/federation/internal/token"
)

func TestExpiringSetDedupesThenExpires(t *testing.T) {
	s := newExpiringSet(5 * time.Millisecond)
	id := uuid.New()
	require.False(t, s.SeenOrAdd(id))
	require.True(t, s.SeenOrAdd(id), "second observation of the same id is a duplicate")

	time.Sleep(15 * time.Millisecond)
	require.False(t, s.SeenOrAdd(id), "expired id is no longer considered seen")
}

type recordingDirect struct {
	sent []ringid.NodeId
}

func (r *recordingDirect) SendDirect(_ context.Context, to ringid.NodeInstance, _ Envelope) error {
	r.sent = append(r.sent, to.Id)
	return nil
}

type recordingLocal struct {
	delivered int
}

func (r *recordingLocal) Deliver(_ context.Context, _ Envelope) ([]byte, bool) {
	r.delivered++
	return nil, false
}

func newTestTableWithNeighbors() *routingtable.Table {
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
	tbl.Upsert(routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(200), InstanceId: 1},
		Phase:    routingtable.Routing,
	})
	return tbl
}

func TestBroadcastFansOutToSuccessorAndPredecessor(t *testing.T) {
	tbl := newTestTableWithNeighbors()
	direct := &recordingDirect{}
	local := &recordingLocal{}
	b := New(tbl, nil, direct, local, 8, time.Minute, time.Second, nil, log.NewNoOpLogger(), nil)

	b.Broadcast(context.Background(), []byte("hello"))
	require.Len(t, direct.sent, 2)
}

func TestHandleUnreliableDropsDuplicate(t *testing.T) {
	tbl := newTestTableWithNeighbors()
	direct := &recordingDirect{}
	local := &recordingLocal{}
	b := New(tbl, nil, direct, local, 8, time.Minute, time.Second, nil, log.NewNoOpLogger(), nil)

	id := uuid.New()
	env := Envelope{BroadcastId: id, Payload: []byte("x")}
	b.HandleUnreliable(context.Background(), env)
	require.Equal(t, 1, local.delivered)

	b.HandleUnreliable(context.Background(), env)
	require.Equal(t, 1, local.delivered, "duplicate broadcast_id must not redeliver")
}

func TestBeginBroadcastCompletesWhenNoKnownOwners(t *testing.T) {
	this := routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(0), InstanceId: 1},
		Phase:    routingtable.Routing,
		Token:    token.Token{Range: ringid.FullRange(), Version: 1},
	}
	tbl := routingtable.New(this, 2, 10, log.NewNoOpLogger(), nil)
	direct := &recordingDirect{}
	local := &recordingLocal{}
	router := routing.NewRouter(tbl, fakeLocalHandler{}, fakeSenderNoop{}, nil, log.NewNoOpLogger(), nil)
	b := New(tbl, router, direct, local, 8, time.Minute, time.Millisecond, nil, log.NewNoOpLogger(), nil)

	_, err := b.BeginBroadcast(context.Background(), []byte("x"), ringid.FullRange())
	require.NoError(t, err)
}

type fakeLocalHandler struct{}

func (fakeLocalHandler) Deliver(_ context.Context, _ routing.Message) ([]byte, error) { return nil, nil }

type fakeSenderNoop struct{}

func (fakeSenderNoop) ForwardHop(_ context.Context, _ ringid.NodeInstance, _ routing.Message) error {
	return nil
}
