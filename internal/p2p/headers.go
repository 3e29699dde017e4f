// Package p2p dispatches every inbound framed message to exactly one actor
// (spec §4.3, component C). Grounded on the teacher's networking/router
// (Message/Op/InboundHandler) and networking/timeout.Manager's
// RegisterRequest/RegisterResponse shape, generalized from a single
// request table to the federation's multi-actor demux.
package p2p

import "github.com/luxfi/federation/internal/ringid"

// Actor names the demux target for an inbound wrapper header (spec §4.3).
type Actor int

const (
	ActorDirect Actor = iota
	ActorFederation
	ActorRouting
	ActorBroadcast
)

func (a Actor) String() string {
	switch a {
	case ActorDirect:
		return "Direct"
	case ActorFederation:
		return "Federation"
	case ActorRouting:
		return "Routing"
	case ActorBroadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

// Header is the PToP wrapper header carried on every message (spec §6).
type Header struct {
	From         ringid.NodeInstance
	FromRing     string
	To           ringid.NodeInstance
	ToRing       string
	Actor        Actor
	ExactInstance bool
}

// Envelope is a received message: the wrapper header plus an opaque body
// that the target actor deserializes itself (spec.md §1 treats
// serialization format as out of scope).
type Envelope struct {
	Header Header
	Body   []byte
}
