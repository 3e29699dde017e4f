// Package transport declares the external transport contract spec.md §1
// treats as an out-of-scope collaborator: a framed, reliable, duplex
// per-connection transport with a SendTarget abstraction and connection
// fault notification. Grounded on the teacher's networking/sender.Sender
// minimal-interface shape; this package owns interfaces only, never a
// concrete socket implementation.
package transport

import (
	"context"
	"time"
)

// SendTarget corresponds to one resolved peer connection.
type SendTarget interface {
	// SendOneWay delivers a framed message with no reply expected.
	SendOneWay(ctx context.Context, body []byte) error

	// BeginRequest delivers a framed message and arranges for body's
	// eventual reply to be delivered to the returned channel, or an error
	// if no reply arrives before ctx is done.
	BeginRequest(ctx context.Context, body []byte) (<-chan []byte, <-chan error)

	Address() string
}

// Transport resolves addresses to SendTargets and reports connection
// health. Consumed, not implemented: a real deployment supplies a TCP
// (or other framed/reliable) implementation.
type Transport interface {
	ResolveTarget(address string) (SendTarget, error)
	SetConnectionFaultHandler(fn func(address string))
}

// EndRequestTimeout is the default end_request wait when a caller doesn't
// specify one explicitly.
const EndRequestTimeout = 5 * time.Second
