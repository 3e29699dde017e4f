// Package multicast implements explicit-destination-list dissemination
// (spec §4.10, component J). Grounded on internal/broadcast's reply
// aggregation machinery: the package keeps its own ReplyContext of the
// same shape, generalized from a ring sub-arc partition to a partition of
// an explicit NodeInstance list.
package multicast

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
)

// Id correlates one multicast's fan-out (spec §4.10).
type Id = uuid.UUID

// Envelope carries the remaining destination list and payload, or — for
// the reply path — the responding destination and reply payload.
type Envelope struct {
	MulticastId        Id
	Targets            []ringid.NodeInstance
	Payload            []byte
	IsReply            bool
	RelatesTo          Id
	RequestDestination ringid.NodeId
}

// LocalHandler delivers a multicast payload addressed to this node,
// optionally producing a reply.
type LocalHandler interface {
	Deliver(ctx context.Context, env Envelope) (reply []byte, hasReply bool)
}

// ReplyContext surfaces multicast replies as they arrive, each tagged
// with its request_destination (spec §4.10).
type ReplyContext struct {
	ch chan Envelope
}

func (rc *ReplyContext) Replies() <-chan Envelope { return rc.ch }

// Multicaster is one node's Multicast actor.
type Multicaster struct {
	table   *routingtable.Table
	router  *routing.Router
	local   LocalHandler
	log     log.Logger
	metrics *metrics.Metrics

	retryTimeout   time.Duration
	overallTimeout time.Duration

	mu      sync.Mutex
	replies map[Id]*ReplyContext
}

func New(table *routingtable.Table, router *routing.Router, local LocalHandler, retryTimeout, overallTimeout time.Duration, logger log.Logger, m *metrics.Metrics) *Multicaster {
	return &Multicaster{
		table:          table,
		router:         router,
		local:          local,
		log:            logger,
		metrics:        m,
		retryTimeout:   retryTimeout,
		overallTimeout: overallTimeout,
		replies:        make(map[Id]*ReplyContext),
	}
}

// Multicast packages targets in a MulticastTargetsHeader-equivalent
// envelope and routes one copy per closest-intermediate group (spec
// §4.10). Returns a ReplyContext the caller can drain for independent
// replies from each target.
func (m *Multicaster) Multicast(ctx context.Context, targets []ringid.NodeInstance, payload []byte) (Id, *ReplyContext) {
	id := uuid.New()
	rc := &ReplyContext{ch: make(chan Envelope, len(targets))}
	m.mu.Lock()
	m.replies[id] = rc
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MulticastsStarted.Inc()
	}

	m.dispatch(ctx, id, targets, payload)
	return id, rc
}

// dispatch delivers to any target owned locally, then partitions the rest
// by closest known intermediate and routes one copy to each (spec §4.10
// "each intermediate partitions the remaining list by ring ownership").
func (m *Multicaster) dispatch(ctx context.Context, id Id, targets []ringid.NodeInstance, payload []byte) {
	this := m.table.ThisNode()
	var remaining []ringid.NodeInstance
	for _, t := range targets {
		if t.Id.Equal(this.Id()) {
			m.deliverLocal(ctx, id, t, payload)
			continue
		}
		remaining = append(remaining, t)
	}
	if len(remaining) == 0 {
		return
	}

	groups := m.groupByIntermediate(remaining)
	for owner, group := range groups {
		env := Envelope{MulticastId: id, Targets: group, Payload: payload}
		go m.routeGroup(ctx, owner, env)
	}
}

func (m *Multicaster) deliverLocal(ctx context.Context, id Id, target ringid.NodeInstance, payload []byte) {
	if m.local == nil {
		return
	}
	reply, hasReply := m.local.Deliver(ctx, Envelope{MulticastId: id, Targets: []ringid.NodeInstance{target}, Payload: payload})
	if !hasReply {
		return
	}
	m.mu.Lock()
	rc, ok := m.replies[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case rc.ch <- Envelope{MulticastId: id, RelatesTo: id, RequestDestination: target.Id, Payload: reply, IsReply: true}:
	case <-ctx.Done():
	}
}

func (m *Multicaster) routeGroup(ctx context.Context, owner ringid.NodeId, env Envelope) {
	_, err := m.router.BeginRoute(ctx, routing.Message{
		To:           owner,
		RetryTimeout: m.retryTimeout,
		Payload:      env.Payload,
	}, m.overallTimeout)
	if err != nil && m.log != nil {
		m.log.Debug("multicast: group route failed", "owner", owner.String(), "err", err)
	}
}

// groupByIntermediate assigns each target to the known partner closest to
// it by ring distance (the "closest intermediate" of spec §4.10); targets
// with no known partner at all fall back to this node's own successor.
func (m *Multicaster) groupByIntermediate(targets []ringid.NodeInstance) map[ringid.NodeId][]ringid.NodeInstance {
	known := m.table.Snapshot()
	groups := make(map[ringid.NodeId][]ringid.NodeInstance)
	for _, t := range targets {
		owner, ok := closestOwner(known, t.Id)
		if !ok {
			succ, ok := m.table.Successor()
			if !ok {
				continue
			}
			owner = succ.Id()
		}
		groups[owner] = append(groups[owner], t)
	}
	return groups
}

func closestOwner(known []routingtable.PartnerNode, target ringid.NodeId) (ringid.NodeId, bool) {
	var best ringid.NodeId
	var bestDist *big.Int
	found := false
	for _, p := range known {
		if !p.Phase.Available() {
			continue
		}
		d := ringid.MinDist(p.Id(), target)
		if !found || d.Cmp(bestDist) < 0 {
			best, bestDist, found = p.Id(), d, true
		}
	}
	return best, found
}

// HandleIncoming processes a multicast envelope forwarded to this node:
// delivers any target owned locally and re-partitions the remainder.
func (m *Multicaster) HandleIncoming(ctx context.Context, env Envelope) {
	m.dispatch(ctx, env.MulticastId, env.Targets, env.Payload)
}
