// Package broadcast implements unreliable and reliable ring-wide
// dissemination (spec §4.9, component I). Grounded on the teacher's
// engine fan-out + reply-aggregation pattern (parallel dispatch joined by
// a completion context), generalized from a flat validator fan-out to
// ring sub-arc partitioning via RoutingTable.PartitionRanges.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
)

// Id correlates every copy of one broadcast (spec §4.9 broadcast_id).
type Id = uuid.UUID

// Envelope is the wire payload carried by both broadcast flavors.
type Envelope struct {
	BroadcastId     Id
	StepCount       int
	Range           ringid.NodeIdRange // reliable only: the sub-arc this copy covers
	Payload         []byte
	RelatesTo       Id   // reply only
	RespondingRange ringid.NodeIdRange // reply only
	IsReply         bool
}

// DirectSender sends one envelope to an immediate ring neighbor, used by
// unreliable broadcast's successor/predecessor fan-out.
type DirectSender interface {
	SendDirect(ctx context.Context, to ringid.NodeInstance, env Envelope) error
}

// LocalHandler delivers a broadcast payload to the application, optionally
// producing a reply body (spec §4.9 "Broadcast-with-reply").
type LocalHandler interface {
	Deliver(ctx context.Context, env Envelope) (reply []byte, hasReply bool)
}

// Broadcaster is one node's Broadcast actor.
type Broadcaster struct {
	table   *routingtable.Table
	router  *routing.Router
	direct  DirectSender
	local   LocalHandler
	log     log.Logger
	metrics *metrics.Metrics

	stepCountMax  int
	keepDuration  time.Duration
	retryTimeout  time.Duration

	dedup *expiringSet

	mu        sync.Mutex
	forwards  map[Id]*ForwardContext
	replies   map[Id]*ReplyContext

	// seeds maps a foreign ring name to known seed instances, used by
	// cross-ring reliable broadcast (spec §4.9). Populated by the
	// composition root from static configuration.
	seeds map[string][]ringid.NodeInstance
}

func New(table *routingtable.Table, router *routing.Router, direct DirectSender, local LocalHandler, stepCountMax int, keepDuration, retryTimeout time.Duration, seeds map[string][]ringid.NodeInstance, logger log.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		table:        table,
		router:       router,
		direct:       direct,
		local:        local,
		log:          logger,
		metrics:      m,
		stepCountMax: stepCountMax,
		keepDuration: keepDuration,
		retryTimeout: retryTimeout,
		dedup:        newExpiringSet(keepDuration),
		forwards:     make(map[Id]*ForwardContext),
		replies:      make(map[Id]*ReplyContext),
		seeds:        seeds,
	}
}

// BeginCrossRingBroadcast runs BeginBroadcast locally and additionally
// sends one copy with range = Full directly to the nearest known seed of
// every external ring (spec §4.9 "Cross-ring reliable broadcast").
func (b *Broadcaster) BeginCrossRingBroadcast(ctx context.Context, payload []byte) (Id, error) {
	id, err := b.BeginBroadcast(ctx, payload, ringid.FullRange())
	if err != nil {
		return id, err
	}
	this := b.table.ThisNode()
	for ring, seeds := range b.seeds {
		if len(seeds) == 0 {
			continue
		}
		best := seeds[0]
		bestDist := ringid.MinDist(this.Id(), best.Id)
		for _, s := range seeds[1:] {
			if d := ringid.MinDist(this.Id(), s.Id); d.Cmp(bestDist) < 0 {
				best, bestDist = s, d
			}
		}
		env := Envelope{BroadcastId: id, Range: ringid.FullRange(), Payload: payload}
		if err := b.direct.SendDirect(ctx, best, env); err != nil && b.log != nil {
			b.log.Debug("broadcast: cross-ring seed send failed", "ring", ring, "err", err)
		}
	}
	return id, nil
}

// Broadcast sends an unreliable, best-effort broadcast (spec §4.9
// "Unreliable"): a fresh broadcast_id, delivered to successor and
// predecessor at step 0.
func (b *Broadcaster) Broadcast(ctx context.Context, payload []byte) Id {
	id := uuid.New()
	b.dedup.Add(id)
	b.fanOutUnreliable(ctx, Envelope{BroadcastId: id, StepCount: 0, Payload: payload})
	return id
}

// HandleUnreliable processes an incoming unreliable broadcast envelope.
// First-seen ids are delivered locally and re-forwarded with an
// incremented step_count; ids already seen are dropped.
func (b *Broadcaster) HandleUnreliable(ctx context.Context, env Envelope) {
	if b.dedup.SeenOrAdd(env.BroadcastId) {
		if b.metrics != nil {
			b.metrics.BroadcastDuplicate.Inc()
		}
		return
	}
	if b.local != nil {
		b.local.Deliver(ctx, env)
	}
	env.StepCount++
	if env.StepCount >= b.stepCountMax {
		// Exhausted the neighbor-chain hop budget; fall back to a
		// partitioned broadcast over this node's own token range so
		// the arcs beyond the chain still get covered.
		b.beginReliableLocked(ctx, env.BroadcastId, env.Payload, b.table.ThisNode().Token.Range)
		return
	}
	b.fanOutUnreliable(ctx, env)
}

func (b *Broadcaster) fanOutUnreliable(ctx context.Context, env Envelope) {
	if succ, ok := b.table.Successor(); ok {
		if err := b.direct.SendDirect(ctx, succ.Instance, env); err != nil && b.log != nil {
			b.log.Debug("broadcast: unreliable send to successor failed", "err", err)
		}
	}
	if pred, ok := b.table.Predecessor(); ok {
		if err := b.direct.SendDirect(ctx, pred.Instance, env); err != nil && b.log != nil {
			b.log.Debug("broadcast: unreliable send to predecessor failed", "err", err)
		}
	}
}

// ForwardContext tracks which sub-ranges of a reliable broadcast have
// acked, per spec §4.9 "Reliable".
type ForwardContext struct {
	mu      sync.Mutex
	pending map[string]ringid.NodeIdRange // keyed by range string, holes included
	done    chan struct{}
}

func newForwardContext(subs []routingtable.SubRange, holes []routingtable.Hole) *ForwardContext {
	fc := &ForwardContext{pending: make(map[string]ringid.NodeIdRange), done: make(chan struct{})}
	for _, s := range subs {
		fc.pending[s.Range.String()] = s.Range
	}
	for _, h := range holes {
		fc.pending[h.Range.String()] = h.Range
	}
	if len(fc.pending) == 0 {
		close(fc.done)
	}
	return fc
}

func (fc *ForwardContext) ack(r ringid.NodeIdRange) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if _, ok := fc.pending[r.String()]; !ok {
		return
	}
	delete(fc.pending, r.String())
	if len(fc.pending) == 0 {
		close(fc.done)
	}
}

// ReplyContext is a reader queue of replies for Broadcast-with-reply (spec
// §4.9), surfacing (reply, responding_range) pairs as they arrive.
type ReplyContext struct {
	ch chan Envelope
}

func (rc *ReplyContext) Replies() <-chan Envelope { return rc.ch }

// BeginBroadcast initiates a reliable broadcast over target (spec §4.9
// "Reliable"), returning once every sub-range has ACKed or ctx is done.
func (b *Broadcaster) BeginBroadcast(ctx context.Context, payload []byte, target ringid.NodeIdRange) (Id, error) {
	id := uuid.New()
	if err := b.beginReliableLocked(ctx, id, payload, target); err != nil {
		return id, err
	}
	b.mu.Lock()
	fc := b.forwards[id]
	b.mu.Unlock()
	if fc == nil {
		return id, nil
	}
	select {
	case <-fc.done:
		return id, nil
	case <-ctx.Done():
		return id, federrors.New(federrors.OperationCanceled)
	}
}

func (b *Broadcaster) beginReliableLocked(ctx context.Context, id Id, payload []byte, target ringid.NodeIdRange) error {
	subs, holes := b.table.PartitionRanges(target)
	fc := newForwardContext(subs, holes)
	b.mu.Lock()
	b.forwards[id] = fc
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BroadcastsStarted.Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		s := s
		g.Go(func() error { b.routeSubRange(gctx, id, s.Range, payload); return nil })
	}
	for _, h := range holes {
		h := h
		g.Go(func() error { b.routeSubRange(gctx, id, h.Range, payload); return nil })
	}
	go func() {
		if err := g.Wait(); err != nil && b.log != nil {
			b.log.Debug("broadcast: sub-range dispatch group failed", "broadcast_id", id.String(), "err", err)
		}
	}()
	return nil
}

func (b *Broadcaster) routeSubRange(ctx context.Context, id Id, r ringid.NodeIdRange, payload []byte) {
	mid := midpoint(r)
	env := Envelope{BroadcastId: id, Range: r, Payload: payload}
	_, err := b.router.BeginRoute(ctx, routing.Message{
		To:           mid,
		RetryTimeout: b.retryTimeout,
		Payload:      encode(env),
	}, b.retryTimeout*4)
	if err != nil {
		if b.log != nil {
			b.log.Debug("broadcast: sub-range route failed", "range", r.String(), "err", err)
		}
		return
	}
	b.mu.Lock()
	fc := b.forwards[id]
	b.mu.Unlock()
	if fc != nil {
		fc.ack(r)
		if b.metrics != nil {
			b.metrics.BroadcastAcks.Inc()
		}
	}
}

// HandleReliable processes an incoming reliable-broadcast copy: delivers
// locally, then recursively partitions and forwards within env.Range
// restricted to this node's own coverage (spec §4.9 "recursively
// range-broadcasts within its own local coverage").
func (b *Broadcaster) HandleReliable(ctx context.Context, env Envelope) {
	var replyBody []byte
	var hasReply bool
	if b.local != nil {
		replyBody, hasReply = b.local.Deliver(ctx, env)
	}
	if hasReply {
		reply := Envelope{
			BroadcastId:     env.BroadcastId,
			RelatesTo:       env.BroadcastId,
			RespondingRange: env.Range,
			Payload:         replyBody,
			IsReply:         true,
		}
		b.routeReply(ctx, reply)
	}

	own := b.table.ThisNode().Token.Range
	remainder := intersectRemainder(env.Range, own)
	if remainder.IsEmpty() {
		return
	}
	subs, holes := b.table.PartitionRanges(remainder)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		s := s
		g.Go(func() error { b.routeSubRange(gctx, env.BroadcastId, s.Range, env.Payload); return nil })
	}
	for _, h := range holes {
		h := h
		g.Go(func() error { b.routeSubRange(gctx, env.BroadcastId, h.Range, env.Payload); return nil })
	}
	go func() { _ = g.Wait() }()
}

func (b *Broadcaster) routeReply(ctx context.Context, reply Envelope) {
	b.mu.Lock()
	rc, ok := b.replies[reply.BroadcastId]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case rc.ch <- reply:
	case <-ctx.Done():
	}
}

// OpenReplyContext registers a ReplyContext that HandleReliable's replies
// will be delivered to for the given broadcast id, until the caller stops
// reading (the channel is never explicitly closed: callers abandon it
// alongside ctx cancellation).
func (b *Broadcaster) OpenReplyContext(id Id, buffer int) *ReplyContext {
	rc := &ReplyContext{ch: make(chan Envelope, buffer)}
	b.mu.Lock()
	b.replies[id] = rc
	b.mu.Unlock()
	return rc
}

func midpoint(r ringid.NodeIdRange) ringid.NodeId {
	if r.IsFull() {
		return ringid.SuccMidpoint(ringid.Zero, ringid.Max)
	}
	return ringid.SuccMidpoint(r.Begin, r.End)
}

// intersectRemainder narrows target to target ∩ own (via a \ (a \ b)
// folded over Subtract, mirroring routingtable's intersect), so
// HandleReliable only recurses over the part of the range this node
// actually owns.
func intersectRemainder(target, own ringid.NodeIdRange) ringid.NodeIdRange {
	if own.IsFull() {
		return target
	}
	if target.IsFull() {
		return own
	}
	cut := target.Subtract(own)
	remaining := []ringid.NodeIdRange{target}
	for _, d := range cut {
		var next []ringid.NodeIdRange
		for _, r := range remaining {
			next = append(next, r.Subtract(d)...)
		}
		remaining = next
	}
	if len(remaining) == 0 {
		return ringid.EmptyRange()
	}
	acc := remaining[0]
	for _, p := range remaining[1:] {
		if merged, ok := acc.Merge(p); ok {
			acc = merged
		}
	}
	return acc
}

// encode is a placeholder wire encoding: the broadcast envelope metadata
// travels on dedicated headers in the real transport; here the payload is
// passed through unchanged since Routing's Message.Payload is opaque bytes.
func encode(env Envelope) []byte { return env.Payload }
