package update

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

type noopSender struct{}

func (noopSender) ForwardHop(_ context.Context, _ ringid.NodeInstance, _ routing.Message) error {
	return nil
}

func newTestManager() *Manager {
	this := routingtable.PartnerNode{
		Instance: ringid.NodeInstance{Id: ringid.FromUint64(0), InstanceId: 1},
		Phase:    routingtable.Routing,
		Token:    token.Token{Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(50)), Version: 1},
	}
	tbl := routingtable.New(this, 2, 10, log.NewNoOpLogger(), nil)
	router := routing.NewRouter(tbl, nil, noopSender{}, nil, log.NewNoOpLogger(), nil)
	return NewManager(tbl, router, nil, 8, log.NewNoOpLogger(), nil)
}

func TestNextExponentialTargetStartsAtSelf(t *testing.T) {
	m := newTestManager()
	self := ringid.FromUint64(0)
	require.True(t, m.NextExponentialTarget(self).Equal(self))
	require.False(t, m.NextExponentialTarget(self).Equal(self), "the second call must pick an offset target")
}

func TestNextExponentialTargetCyclesWithoutPanicking(t *testing.T) {
	m := newTestManager()
	self := ringid.FromUint64(0)
	for i := 0; i < 20; i++ {
		_ = m.NextExponentialTarget(self)
	}
}

func TestGapTargetShrinksAsCoverageGrows(t *testing.T) {
	m := newTestManager()
	target, ok := m.GapTarget()
	require.True(t, ok, "a brand new manager starts with the full ring as one gap")

	covered := ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(1000))
	m.observeCovered(covered)

	target2, ok := m.GapTarget()
	require.True(t, ok)
	require.NotEqual(t, target, target2, "the gap-filling target must move once a chunk of the ring is covered")
}

func TestHandleRequestObservesSenderRangeAsCovered(t *testing.T) {
	m := newTestManager()
	req := Request{RequestTime: time.Now(), Range: ringid.NewRange(ringid.FromUint64(0), ringid.FromUint64(40))}
	reply := m.HandleRequest(req)
	require.False(t, reply.UpdateRange.IsEmpty())
	require.NotContains(t, m.gaps, ringid.FullRange(), "the full-ring gap must have been split by the covered sub-range")
}
