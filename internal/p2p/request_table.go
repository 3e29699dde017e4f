package p2p

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/federation/internal/federrors"
)

// RequestId correlates a request with its eventual reply (RelatesToHeader
// in spec §6). Generated per outstanding request.
type RequestId = uuid.UUID

// NewRequestId allocates a fresh correlation id.
func NewRequestId() RequestId { return uuid.New() }

// pendingRequest tracks one outstanding request/response pair.
type pendingRequest struct {
	complete func(body []byte, err error)
	timer    *time.Timer
}

// RequestTable does end-to-end request/response correlation, keyed by
// message id, with per-request timeout and cancellation (spec §4.3). P2P
// only does correlation; retries are the caller's responsibility.
type RequestTable struct {
	mu      sync.Mutex
	pending map[RequestId]*pendingRequest
}

func NewRequestTable() *RequestTable {
	return &RequestTable{pending: make(map[RequestId]*pendingRequest)}
}

// Register arms a new pending request, returning its id. complete is
// invoked exactly once: either with a reply body, or with an error on
// timeout/cancellation.
func (rt *RequestTable) Register(timeout time.Duration, complete func(body []byte, err error)) RequestId {
	id := NewRequestId()
	rt.mu.Lock()
	pr := &pendingRequest{complete: complete}
	pr.timer = time.AfterFunc(timeout, func() { rt.fail(id, errTimeout) })
	rt.pending[id] = pr
	rt.mu.Unlock()
	return id
}

// Complete delivers a reply body to the waiting request, if still pending.
func (rt *RequestTable) Complete(id RequestId, body []byte) bool {
	rt.mu.Lock()
	pr, ok := rt.pending[id]
	if ok {
		delete(rt.pending, id)
	}
	rt.mu.Unlock()
	if !ok {
		return false
	}
	pr.timer.Stop()
	pr.complete(body, nil)
	return true
}

// Cancel disarms a pending request and invokes its completion with the
// given err (spec §5: "cooperative cancellation").
func (rt *RequestTable) Cancel(id RequestId, err error) bool {
	return rt.fail(id, err)
}

func (rt *RequestTable) fail(id RequestId, err error) bool {
	rt.mu.Lock()
	pr, ok := rt.pending[id]
	if ok {
		delete(rt.pending, id)
	}
	rt.mu.Unlock()
	if !ok {
		return false
	}
	pr.timer.Stop()
	pr.complete(nil, err)
	return true
}

// errTimeout is a sentinel; callers compare via federrors.CodeOf on the
// wrapped fault instead of this value directly.
var errTimeout error = federrors.Wrap(federrors.Timeout, &timeoutErr{})

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "p2p: request timed out" }
