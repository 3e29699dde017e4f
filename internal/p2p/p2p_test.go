package p2p

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/ringid"
)

func TestDispatchRejectsWrongNode(t *testing.T) {
	self := ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 1}
	d := NewDispatcher(self, nil, log.NewNoOpLogger())

	err := d.Dispatch(Envelope{Header: Header{To: ringid.NodeInstance{Id: ringid.FromUint64(2)}}})
	code, ok := federrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, federrors.P2PNodeDoesNotMatchFault, code)
}

func TestDispatchRejectsExactInstanceMismatch(t *testing.T) {
	self := ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 5}
	d := NewDispatcher(self, nil, log.NewNoOpLogger())

	err := d.Dispatch(Envelope{Header: Header{
		To:            ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 4},
		ExactInstance: true,
	}})
	code, ok := federrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, federrors.P2PNodeDoesNotMatchFault, code)
}

func TestDispatchFiltersInOrder(t *testing.T) {
	self := ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 1}
	d := NewDispatcher(self, nil, log.NewNoOpLogger())

	var calledA, calledB bool
	d.Register(ActorDirect, HandlerFunc{
		FilterFn: func(Envelope) bool { return false },
		HandleFn: func(Envelope) error { calledA = true; return nil },
	})
	d.Register(ActorDirect, HandlerFunc{
		FilterFn: AcceptAll,
		HandleFn: func(Envelope) error { calledB = true; return nil },
	})

	err := d.Dispatch(Envelope{Header: Header{To: self, Actor: ActorDirect}})
	require.NoError(t, err)
	require.False(t, calledA)
	require.True(t, calledB)
}

func TestDispatchMissingHandler(t *testing.T) {
	self := ringid.NodeInstance{Id: ringid.FromUint64(1), InstanceId: 1}
	d := NewDispatcher(self, nil, log.NewNoOpLogger())

	err := d.Dispatch(Envelope{Header: Header{To: self, Actor: ActorBroadcast}})
	code, ok := federrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, federrors.EndpointNotFound, code)
}
