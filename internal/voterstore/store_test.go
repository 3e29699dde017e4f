package voterstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
)

// fakeSyncer acks every secondary sync immediately in-process, modeling the
// quorum as entirely reachable unless a replica id is listed in down.
type fakeSyncer struct {
	down       map[string]bool
	generation uint64
	progress   int64
}

func (f *fakeSyncer) SyncSecondary(_ context.Context, r Replica, _ string, _ int64, _ Value) error {
	if f.down[r.Instance.Id.String()] {
		return errDown
	}
	return nil
}

func (f *fakeSyncer) Introduce(_ context.Context, _ Replica) (uint64, error) {
	return f.generation, nil
}

func (f *fakeSyncer) Progress(_ context.Context, _ Replica) (int64, error) {
	return f.progress, nil
}

type downErr struct{}

func (downErr) Error() string { return "replica down" }

var errDown = downErr{}

func inst(n uint64) ringid.NodeInstance {
	return ringid.NodeInstance{Id: ringid.FromUint64(n), InstanceId: 1}
}

func primaryStore(t *testing.T, replicaCount int) *Store {
	t.Helper()
	self := inst(1)
	s := New(self, &fakeSyncer{down: map[string]bool{}}, nil, nil)
	replicas := make([]Replica, 0, replicaCount)
	for i := 0; i < replicaCount; i++ {
		replicas = append(replicas, Replica{Instance: inst(uint64(i + 1))})
	}
	s.replicaSet = ReplicaSet{Generation: 1, Replicas: replicas}
	s.phase = Primary
	return s
}

func TestWriteCommitsWithQuorum(t *testing.T) {
	s := primaryStore(t, 3)
	seq, err := s.Write(context.Background(), "k", StringValue{S: "v1"}, -1)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	v, gotSeq, _, err := s.Read("k")
	require.NoError(t, err)
	require.Equal(t, int64(1), gotSeq)
	require.Equal(t, StringValue{S: "v1"}, v)
}

func TestWriteFailsWithoutQuorum(t *testing.T) {
	s := primaryStore(t, 3)
	fs := s.syncer.(*fakeSyncer)
	fs.down[inst(2).Id.String()] = true
	fs.down[inst(3).Id.String()] = true

	_, err := s.Write(context.Background(), "k", StringValue{S: "v1"}, -1)
	require.Error(t, err)
}

func TestWriteRejectsStaleCheckSequence(t *testing.T) {
	s := primaryStore(t, 3)
	_, err := s.Write(context.Background(), "k", StringValue{S: "v1"}, -1)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), "k", StringValue{S: "v2"}, 0)
	require.Error(t, err)
}

func TestReadModifyWriteCommitsOnFirstAttemptWithoutConflict(t *testing.T) {
	s := primaryStore(t, 3)
	attempts := 0
	_, err := s.ReadModifyWrite(context.Background(), "counter", 3, func(cur Value, ok bool) Value {
		attempts++
		n := SequenceCounter{N: 1}
		if ok {
			n.N = cur.(SequenceCounter).N + 1
		}
		return n
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	v, _, _, err := s.Read("counter")
	require.NoError(t, err)
	require.Equal(t, SequenceCounter{N: 1}, v)
}

func TestBootstrapElectsLowestIdAsPrimary(t *testing.T) {
	self := inst(5)
	syncer := &fakeSyncer{generation: 2}
	s := New(self, syncer, nil, nil)
	seats := []ringid.NodeInstance{inst(1), inst(5), inst(9)}

	err := s.Bootstrap(context.Background(), seats)
	require.NoError(t, err)
	require.Equal(t, Secondary, s.Phase(), "node 1 has the lowest id, node 5 must become secondary")
	require.Equal(t, uint64(3), s.ReplicaSet().Generation)
}

func TestBootstrapSelfBecomesPrimaryWhenLowestId(t *testing.T) {
	self := inst(1)
	syncer := &fakeSyncer{generation: 4}
	s := New(self, syncer, nil, nil)
	seats := []ringid.NodeInstance{inst(1), inst(5), inst(9)}

	err := s.Bootstrap(context.Background(), seats)
	require.NoError(t, err)
	require.Equal(t, Primary, s.Phase())
	require.Equal(t, uint64(5), s.ReplicaSet().Generation)
}

func TestAcceptSyncRejectsStaleGeneration(t *testing.T) {
	self := inst(1)
	s := New(self, &fakeSyncer{}, nil, nil)
	s.phase = Secondary
	s.replicaSet = ReplicaSet{
		Generation: 5,
		Epoch:      2,
		Replicas:   []Replica{{Instance: inst(1)}, {Instance: inst(5)}, {Instance: inst(9)}},
	}

	err := s.AcceptSync(ReplicaSet{Generation: 4, Epoch: 0}, "k", 1, StringValue{S: "x"})
	require.Error(t, err)
}

func TestAcceptSyncAcceptsNewerGeneration(t *testing.T) {
	self := inst(1)
	s := New(self, &fakeSyncer{}, nil, nil)
	s.phase = Secondary
	s.replicaSet = ReplicaSet{
		Generation: 5,
		Epoch:      2,
		Replicas:   []Replica{{Instance: inst(1)}, {Instance: inst(5)}, {Instance: inst(9)}},
	}

	next := ReplicaSet{Generation: 6, Epoch: 0, Replicas: s.replicaSet.Replicas}
	err := s.AcceptSync(next, "k", 1, StringValue{S: "x"})
	require.NoError(t, err)
	require.Equal(t, uint64(6), s.ReplicaSet().Generation)
}

func TestJoinOpensCatchUpWindowAndSuppressesFurtherChanges(t *testing.T) {
	s := primaryStore(t, 3)
	_, err := s.Write(context.Background(), "k", StringValue{S: "v1"}, -1)
	require.NoError(t, err)

	newVoter := inst(10)
	require.NoError(t, s.Join(context.Background(), newVoter))
	require.Equal(t, 4, len(s.ReplicaSet().Replicas))

	_, catchingUp := s.CatchingUp()
	require.True(t, catchingUp)

	err = s.Join(context.Background(), inst(11))
	require.Error(t, err, "a second membership change must be suppressed during catch-up")

	s.CatchUpComplete(1)
	_, catchingUp = s.CatchingUp()
	require.False(t, catchingUp)
}

func TestFailoverBumpsEpochByLocalIndex(t *testing.T) {
	self := inst(2)
	syncer := &fakeSyncer{progress: 7}
	s := New(self, syncer, nil, nil)
	s.phase = Secondary
	s.replicaSet = ReplicaSet{
		Generation: 1,
		Epoch:      0,
		Replicas:   []Replica{{Instance: inst(1)}, {Instance: inst(2)}, {Instance: inst(3)}},
	}

	err := s.Failover(context.Background())
	require.NoError(t, err)
	require.Equal(t, Primary, s.Phase())
	require.Equal(t, uint64(1*0x100000000+1), s.ReplicaSet().Epoch)
}

func TestFailoverGatesReadsUntilLocalWritesCatchUp(t *testing.T) {
	self := inst(2)
	syncer := &fakeSyncer{progress: 7}
	s := New(self, syncer, nil, nil)
	s.phase = Secondary
	s.replicaSet = ReplicaSet{
		Generation: 1,
		Epoch:      0,
		Replicas:   []Replica{{Instance: inst(1)}, {Instance: inst(2)}, {Instance: inst(3)}},
	}

	require.NoError(t, s.Failover(context.Background()))
	require.Equal(t, Primary, s.Phase())

	_, _, _, err := s.Read("k")
	require.Error(t, err, "a peer reported sequence 7, which this replica has not reached yet")

	for i := 0; i < 7; i++ {
		_, err := s.Write(context.Background(), "k", StringValue{S: "v"}, -1)
		require.NoError(t, err)
	}

	_, _, _, err = s.Read("k")
	require.NoError(t, err, "local writes have now caught up past the peer's reported sequence")
}

func TestFailoverDropsDownReplicas(t *testing.T) {
	self := inst(2)
	syncer := &fakeSyncer{progress: 0}
	s := New(self, syncer, nil, nil)
	s.phase = Secondary
	s.replicaSet = ReplicaSet{
		Generation: 1,
		Epoch:      0,
		Replicas: []Replica{
			{Instance: inst(1), IsDown: true},
			{Instance: inst(2)},
			{Instance: inst(3)},
		},
	}

	require.NoError(t, s.Failover(context.Background()))
	require.Equal(t, 2, len(s.ReplicaSet().Replicas))
	require.Equal(t, -1, s.ReplicaSet().IndexOf(inst(1).Id))
}
