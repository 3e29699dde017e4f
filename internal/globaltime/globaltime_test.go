package globaltime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/voterstore"
)

type fakeSyncer struct{ generation uint64 }

func (fakeSyncer) SyncSecondary(_ context.Context, _ voterstore.Replica, _ string, _ int64, _ voterstore.Value) error {
	return nil
}
func (f fakeSyncer) Introduce(_ context.Context, _ voterstore.Replica) (uint64, error) {
	return f.generation, nil
}
func (fakeSyncer) Progress(_ context.Context, _ voterstore.Replica) (int64, error) { return 0, nil }

// primaryStore bootstraps a single-voter replica set so the node becomes
// Primary immediately, letting BumpEpoch exercise the real store.
func primaryStore(t *testing.T) *voterstore.Store {
	t.Helper()
	self := ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 1}
	s := voterstore.New(self, fakeSyncer{generation: 0}, nil, nil)
	require.NoError(t, s.Bootstrap(context.Background(), []ringid.NodeInstance{self}))
	return s
}

func TestNowWidensWithElapsedTime(t *testing.T) {
	m := NewManager(nil, 1.0, time.Second, time.Millisecond, time.Minute, nil, nil)
	lower1, upper1 := m.Now()
	time.Sleep(5 * time.Millisecond)
	lower2, upper2 := m.Now()
	require.True(t, lower2.Before(lower1) || lower2.Equal(lower1))
	require.True(t, upper2.After(upper1) || upper2.Equal(upper1))
}

func TestAcceptAdoptsHigherEpoch(t *testing.T) {
	m := NewManager(nil, 0.0001, time.Second, time.Millisecond, time.Minute, nil, nil)
	require.Equal(t, uint64(0), m.Epoch())

	now := time.Now()
	m.Accept(Exchange{Epoch: 3, SendTime: now, SenderLowerLimit: now.Add(-time.Millisecond), ReceiverUpperLimit: now.Add(time.Millisecond)})
	require.Equal(t, uint64(3), m.Epoch())
}

func TestAcceptIgnoresLowerEpoch(t *testing.T) {
	m := NewManager(nil, 0.0001, time.Second, time.Millisecond, time.Minute, nil, nil)
	now := time.Now()
	m.Accept(Exchange{Epoch: 5, SendTime: now, SenderLowerLimit: now, ReceiverUpperLimit: now})
	require.Equal(t, uint64(5), m.Epoch())

	m.Accept(Exchange{Epoch: 2, SendTime: now, SenderLowerLimit: now.Add(-time.Hour), ReceiverUpperLimit: now.Add(-time.Hour)})
	require.Equal(t, uint64(5), m.Epoch(), "a stale, lower epoch must not roll back ours")
}

func TestBumpEpochCommitsAgainstVoterStore(t *testing.T) {
	s := primaryStore(t)
	m := NewManager(s, 0.0001, time.Second, time.Millisecond, time.Minute, nil, nil)

	require.NoError(t, m.BumpEpoch(context.Background()))
	require.Equal(t, uint64(1), m.Epoch())

	v, _, _, err := s.Read(EpochKey)
	require.NoError(t, err)
	require.Equal(t, voterstore.SequenceCounter{N: 1}, v)
}
