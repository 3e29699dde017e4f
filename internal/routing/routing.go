// Package routing implements multi-hop route-by-id with retry and reply
// correlation (spec §4.8, component H). Grounded on the teacher's
// networking/timeout.Manager retry/timeout registration and core/router's
// message-dispatch shape, generalized from chain-message dispatch to
// ring-distance next-hop selection.
package routing

import (
	"context"
	"math/big"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/p2p"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routingtable"
)

// Message is a Routing-actor envelope (spec §6 Routing header).
type Message struct {
	From            ringid.NodeInstance
	FromRing        string
	To              ringid.NodeId
	ToInstance      uint64 // 0 means "any instance"; set with UseExactRouting
	ToRing          string
	MessageId       p2p.RequestId
	Expiration      time.Time
	RetryTimeout    time.Duration
	UseExactRouting bool
	ExpectsReply    bool
	Payload         []byte
}

// LocalHandler delivers a Routing message whose target falls in the local
// token range to the application, optionally producing a reply body.
type LocalHandler interface {
	Deliver(ctx context.Context, msg Message) ([]byte, error)
}

// Sender forwards one hop to a resolved partner. The composition root
// implements this over P2P/transport.
type Sender interface {
	ForwardHop(ctx context.Context, hop ringid.NodeInstance, msg Message) error
}

// Router is one node's Routing actor.
type Router struct {
	table   *routingtable.Table
	local   LocalHandler
	sender  Sender
	log     log.Logger
	metrics *metrics.Metrics

	requests *p2p.RequestTable

	// seeds maps a foreign ring name to known seed instances, used for
	// cross-ring hops (spec §4.8 step 4). Populated by the composition
	// root from static configuration; Routing never discovers rings on
	// its own.
	seeds map[string][]ringid.NodeInstance
}

func NewRouter(table *routingtable.Table, local LocalHandler, sender Sender, seeds map[string][]ringid.NodeInstance, logger log.Logger, m *metrics.Metrics) *Router {
	return &Router{
		table:    table,
		local:    local,
		sender:   sender,
		log:      logger,
		metrics:  m,
		requests: p2p.NewRequestTable(),
		seeds:    seeds,
	}
}

// BeginRoute is the async entry point a local caller uses to route a
// message by id (spec §4.8). It retries the first hop's send on transient
// failure every retryTimeout, bounded by overallTimeout, and — when
// expectsReply is set — blocks until the correlated reply arrives or the
// overall timeout elapses.
func (r *Router) BeginRoute(ctx context.Context, msg Message, overallTimeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(overallTimeout)

	var replyCh chan replyResult
	if msg.ExpectsReply {
		replyCh = make(chan replyResult, 1)
		msg.MessageId = r.requests.Register(overallTimeout, func(body []byte, err error) {
			replyCh <- replyResult{body: body, err: err}
		})
	}

	retryCount := 0
	for {
		if time.Now().After(deadline) {
			return nil, federrors.New(federrors.Timeout)
		}
		err := r.routeOneHop(ctx, msg)
		if err == nil {
			break
		}
		if !federrors.Retryable(err) {
			return nil, err
		}
		retryCount++
		if r.log != nil {
			r.log.Debug("routing: retrying hop", "retry_count", retryCount, "target", msg.To.String())
		}
		wait := msg.RetryTimeout
		if wait <= 0 {
			wait = time.Until(deadline)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			r.requests.Cancel(msg.MessageId, federrors.New(federrors.OperationCanceled))
			return nil, federrors.New(federrors.OperationCanceled)
		}
	}

	if !msg.ExpectsReply {
		return nil, nil
	}
	select {
	case res := <-replyCh:
		return res.body, res.err
	case <-time.After(time.Until(deadline)):
		r.requests.Cancel(msg.MessageId, federrors.New(federrors.Timeout))
		return nil, federrors.New(federrors.Timeout)
	case <-ctx.Done():
		r.requests.Cancel(msg.MessageId, federrors.New(federrors.OperationCanceled))
		return nil, federrors.New(federrors.OperationCanceled)
	}
}

type replyResult struct {
	body []byte
	err  error
}

// HandleIncoming is invoked by P2P's dispatcher for messages addressed to
// the Routing actor (spec §4.8 algorithm, steps 1-2 run at every hop).
func (r *Router) HandleIncoming(ctx context.Context, msg Message) error {
	return r.routeOneHop(ctx, msg)
}

// HandleReply delivers a reply body to the originator's pending
// BeginRoute, correlated by RelatesToHeader.
func (r *Router) HandleReply(id p2p.RequestId, body []byte) bool {
	return r.requests.Complete(id, body)
}

func (r *Router) routeOneHop(ctx context.Context, msg Message) error {
	this := r.table.ThisNode()

	if msg.ToRing != "" && msg.ToRing != this.RingName {
		return r.forwardCrossRing(ctx, msg)
	}

	if this.Token.Range.Contains(msg.To) {
		if msg.UseExactRouting && msg.ToInstance != 0 && msg.ToInstance != this.Instance.InstanceId {
			return federrors.New(federrors.RoutingNodeDoesNotMatchFault)
		}
		body, err := r.local.Deliver(ctx, msg)
		if err != nil {
			return err
		}
		if msg.ExpectsReply {
			r.HandleReply(msg.MessageId, body)
		}
		return nil
	}

	hop, ok := r.selectHop(msg.To)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	if this.Token.Range.IsEmpty() && r.metrics != nil {
		r.metrics.EmptyTokenForwards.Inc()
	}
	return r.sender.ForwardHop(ctx, hop.Instance, msg)
}

// selectHop picks the known partner with the smallest ring distance to
// target on the side target lies, per spec §4.8 step 2. Ties are broken
// by higher phase, then by more recent last_accessed.
func (r *Router) selectHop(target ringid.NodeId) (routingtable.PartnerNode, bool) {
	this := r.table.ThisNode()
	var best routingtable.PartnerNode
	var bestDist *big.Int
	found := false

	for _, p := range r.table.Snapshot() {
		if !p.Phase.Available() || p.Id().Equal(this.Id()) {
			continue
		}
		d := ringid.MinDist(p.Id(), target)
		if !found {
			best, bestDist, found = p, d, true
			continue
		}
		cmp := d.Cmp(bestDist)
		switch {
		case cmp < 0:
			best, bestDist = p, d
		case cmp == 0:
			if p.Phase > best.Phase || (p.Phase == best.Phase && p.LastAccessed.After(best.LastAccessed)) {
				best, bestDist = p, d
			}
		}
	}
	return best, found
}

func (r *Router) forwardCrossRing(ctx context.Context, msg Message) error {
	seeds := r.seeds[msg.ToRing]
	if len(seeds) == 0 {
		return federrors.New(federrors.EndpointNotFound)
	}
	this := r.table.ThisNode()
	best := seeds[0]
	bestDist := ringid.MinDist(this.Id(), best.Id)
	for _, seed := range seeds[1:] {
		d := ringid.MinDist(this.Id(), seed.Id)
		if d.Cmp(bestDist) < 0 {
			best, bestDist = seed, d
		}
	}
	return r.sender.ForwardHop(ctx, best, msg)
}
