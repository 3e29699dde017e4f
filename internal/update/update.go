// Package update implements UpdateManager's periodic neighborhood gossip
// and global-time piggyback (spec §4.11, component K). Grounded on the
// teacher's networking/tracker resource-usage polling loop shape
// (ticker-driven periodic work against a moving window), generalized from
// resource samples to ring-range coverage.
package update

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/globaltime"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
)

// Request is the body of an UpdateRequest (spec §4.11).
type Request struct {
	RequestTime         time.Time
	IsExponentialTarget bool
	Range               ringid.NodeIdRange
}

// Reply is the body of an UpdateReply.
type Reply struct {
	GlobalLease           globaltime.Exchange
	UpdateRange           ringid.NodeIdRange
	IsToExponentialTarget bool
	Snapshot              []routingtable.PartnerNode
}

// Manager runs the periodic update round: alternating between an
// exponentially-spaced target and a gap-filling target, piggybacking
// global-time lease refresh on every reply.
type Manager struct {
	log       log.Logger
	metrics   *metrics.Metrics
	table     *routingtable.Table
	router    *routing.Router
	time      *globaltime.Manager
	maxTarget int

	mu       sync.Mutex
	expIdx   int
	gaps     []ringid.NodeIdRange
	coverage ringid.NodeIdRange // ranges confirmed covered by recent replies
}

func NewManager(table *routingtable.Table, router *routing.Router, gt *globaltime.Manager, maxTarget int, logger log.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		log:       logger,
		metrics:   m,
		table:     table,
		router:    router,
		time:      gt,
		maxTarget: maxTarget,
		gaps:      []ringid.NodeIdRange{ringid.FullRange()},
		coverage:  ringid.EmptyRange(),
	}
}

// NextExponentialTarget returns the exponentially-spaced target for this round's
// index (self, self+2^127, self-2^127, self+2^126, ...), wrapping through
// maxTarget before the caller should fall back to a gap target (spec
// §4.11 "alternated with a gap-filling target").
func (m *Manager) NextExponentialTarget(self ringid.NodeId) ringid.NodeId {
	m.mu.Lock()
	idx := m.expIdx
	m.expIdx = (m.expIdx + 1) % m.maxTarget
	m.mu.Unlock()

	if idx == 0 {
		return self
	}
	exp := 127 - (idx-1)/2
	if exp < 0 {
		exp = 0
	}
	if idx%2 == 1 {
		return self.AddPow2(exp)
	}
	return self.SubPow2(exp)
}

// GapTarget picks a point inside the widest tracked gap not recently
// covered by a received update reply, or false if every gap has closed.
func (m *Manager) GapTarget() (ringid.NodeId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.gaps) == 0 {
		return ringid.NodeId{}, false
	}
	begin, end, found := gapBounds(m.gaps[0])
	widestDist := ringid.SuccDist(begin, end)
	for _, g := range m.gaps[1:] {
		b, e, ok := gapBounds(g)
		if !ok {
			continue
		}
		d := ringid.SuccDist(b, e)
		if d.Cmp(widestDist) > 0 {
			begin, end, widestDist = b, e, d
		}
	}
	if !found {
		return ringid.NodeId{}, false
	}
	return ringid.SuccMidpoint(begin, end), true
}

// gapBounds resolves a gap range's endpoints, treating the Full sentinel
// as the entire ring [0, Max] since it has no normal Begin/End pair.
func gapBounds(r ringid.NodeIdRange) (ringid.NodeId, ringid.NodeId, bool) {
	if r.IsEmpty() {
		return ringid.NodeId{}, ringid.NodeId{}, false
	}
	if r.IsFull() {
		return ringid.Zero, ringid.Max, true
	}
	return r.Begin, r.End, true
}

// Round runs a single update round against target by routing an
// UpdateRequest to it. It does not wait for or read a reply: folding a
// reply's covered range and global-time lease into local state is done
// only by HandleReply, which Round does not call.
func (m *Manager) Round(ctx context.Context, target ringid.NodeId, isExponential bool, timeout time.Duration) error {
	req := Request{
		RequestTime:         time.Now(),
		IsExponentialTarget: isExponential,
		Range:               m.table.GetCombinedNeighborhoodTokenRange(),
	}
	_, err := m.router.BeginRoute(ctx, routing.Message{
		To:      target,
		Payload: encodeRequest(req),
	}, timeout)
	if err != nil {
		return err
	}
	return nil
}

// HandleRequest is the receiver-side half of an update round: it
// observes the sender's range as covered, and returns an UpdateReply
// carrying this node's own neighborhood range, global-time lease, and a
// routing-table snapshot subset.
func (m *Manager) HandleRequest(req Request) Reply {
	m.observeCovered(req.Range)

	var lease globaltime.Exchange
	if m.time != nil {
		lease = m.time.BuildExchange()
	}
	return Reply{
		GlobalLease:           lease,
		UpdateRange:           m.table.GetCombinedNeighborhoodTokenRange(),
		IsToExponentialTarget: req.IsExponentialTarget,
		Snapshot:              m.table.Snapshot(),
	}
}

// HandleReply is the sender-side half: folds the receiver's range into
// the gap tracker and adopts the piggybacked global-time lease.
func (m *Manager) HandleReply(reply Reply) {
	m.observeCovered(reply.UpdateRange)
	if m.time != nil {
		m.time.Accept(reply.GlobalLease)
	}
	for _, p := range reply.Snapshot {
		if _, known := m.table.Get(p.Id()); !known {
			m.table.Upsert(p)
		}
	}
	if m.metrics != nil {
		m.metrics.UpdateRoundsCompleted.Inc()
	}
}

// observeCovered shrinks the tracked gap set by the newly covered range,
// re-deriving the moving "snapshot interval" of spec §4.11.
func (m *Manager) observeCovered(covered ringid.NodeIdRange) {
	if covered.IsEmpty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var next []ringid.NodeIdRange
	for _, g := range m.gaps {
		next = append(next, g.Subtract(covered)...)
	}
	m.gaps = next
	if merged, ok := m.coverage.Merge(covered); ok {
		m.coverage = merged
	}
}

// encodeRequest is a stand-in for this node's wire codec (out of scope;
// see internal/transport). It returns nil, so the routed message carries
// no request body.
func encodeRequest(req Request) []byte { return nil }
