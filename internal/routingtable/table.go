package routingtable

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
)

// Hole is emitted by PartitionRanges for an arc with no known Routing
// owner; the midpoint is carried as the routing hint (spec §4.2).
type Hole struct {
	Range     ringid.NodeIdRange
	Midpoint  ringid.NodeId
}

// SubRange is one arc of a partition assigned to a known target.
type SubRange struct {
	Range  ringid.NodeIdRange
	Target ringid.NodeId
}

// Table is the local ring view: this_node plus a sorted vector of known
// partners, neighborhood edge cursors, and an address->node reverse index.
// One coarse RWMutex covers the whole structure (spec §5: "RoutingTable:
// one coarse read-write lock; reads common, writes rare"), matching the
// lock-guarded map shape of the teacher's networking/benchlist.manager.
type Table struct {
	mu sync.RWMutex

	log     log.Logger
	metrics *metrics.Metrics

	thisNode PartnerNode

	hoodSize int
	capacity int

	byId    *lru.Cache // ringid.NodeId -> *PartnerNode, capacity-bounded backing store
	sorted  []ringid.NodeId
	byAddr  map[string][]ringid.NodeId

	predHoodEdge int // index into sorted
	succHoodEdge int
	completeHoodRange bool
}

// New creates a Table centered on this_node. hoodSize is NeighborhoodSize
// (§6); capacity is RoutingTableCapacity.
func New(thisNode PartnerNode, hoodSize, capacity int, logger log.Logger, m *metrics.Metrics) *Table {
	// One slot above the most entries compaction keeps (capacity, or the
	// three protected ids), so the LRU never evicts on its own and the
	// ranking in compactLocked decides what is dropped.
	cache, _ := lru.New(max(capacity, 3) + 1)
	t := &Table{
		log:      logger,
		metrics:  m,
		thisNode: thisNode,
		hoodSize: hoodSize,
		capacity: capacity,
		byId:     cache,
		byAddr:   make(map[string][]ringid.NodeId),
	}
	t.insertSorted(thisNode.Id())
	t.byId.Add(thisNode.Id(), &thisNode)
	t.recomputeHood()
	return t
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (t *Table) ThisNode() PartnerNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thisNode
}

// SetThisToken replaces this_node's own entry, token and phase included
// (owned exclusively by this table per spec §3 lifecycle rules).
func (t *Table) SetThisToken(tok PartnerNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thisNode = tok
	t.byId.Add(t.thisNode.Id(), &t.thisNode)
}

func (t *Table) insertSorted(id ringid.NodeId) {
	i := sort.Search(len(t.sorted), func(i int) bool { return !t.sorted[i].Less(id) })
	if i < len(t.sorted) && t.sorted[i].Equal(id) {
		return
	}
	t.sorted = append(t.sorted, ringid.NodeId{})
	copy(t.sorted[i+1:], t.sorted[i:])
	t.sorted[i] = id
}

func (t *Table) removeSorted(id ringid.NodeId) {
	i := sort.Search(len(t.sorted), func(i int) bool { return !t.sorted[i].Less(id) })
	if i < len(t.sorted) && t.sorted[i].Equal(id) {
		t.sorted = append(t.sorted[:i], t.sorted[i+1:]...)
	}
}

// Upsert adds or merges a partner observation (spec §4.2 add/update):
// newer instance_id replaces prior state; equal instance_id may only
// advance phase monotonically. Returns the stored PartnerNode.
func (t *Table) Upsert(p PartnerNode) PartnerNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.LastAccessed = time.Now()
	existing, ok := t.get(p.Id())
	if !ok {
		t.insertSorted(p.Id())
		t.byId.Add(p.Id(), &p)
		t.indexAddr(p)
		t.evictIfNeeded()
		t.recomputeHood()
		t.updateSizeMetric()
		return p
	}

	if p.Instance.InstanceId > existing.Instance.InstanceId {
		t.byId.Add(p.Id(), &p)
		t.indexAddr(p)
		t.recomputeHood()
		return p
	}
	if p.Instance.InstanceId == existing.Instance.InstanceId {
		if canAdvanceTo(existing.Phase, p.Phase) {
			existing.Phase = p.Phase
			existing.Token = p.Token
			existing.LastAccessed = p.LastAccessed
			existing.GlobalTimeUpperLimit = p.GlobalTimeUpperLimit
			t.byId.Add(p.Id(), existing)
			t.recomputeHood()
			return *existing
		}
		return *existing
	}
	// Stale observation (older instance_id); ignored.
	return *existing
}

func (t *Table) indexAddr(p PartnerNode) {
	if p.PhysicalAddress == "" {
		return
	}
	list := t.byAddr[p.PhysicalAddress]
	for _, id := range list {
		if id.Equal(p.Id()) {
			return
		}
	}
	t.byAddr[p.PhysicalAddress] = append(list, p.Id())
}

func (t *Table) get(id ringid.NodeId) (*PartnerNode, bool) {
	v, ok := t.byId.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*PartnerNode), true
}

// Get looks up a known partner by id.
func (t *Table) Get(id ringid.NodeId) (PartnerNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.get(id)
	if !ok {
		return PartnerNode{}, false
	}
	return *p, true
}

// ByAddress resolves partners previously observed at a physical address
// (spec §4.2 "address -> node multimap for reverse lookup").
func (t *Table) ByAddress(addr string) []PartnerNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PartnerNode
	for _, id := range t.byAddr[addr] {
		if p, ok := t.get(id); ok {
			out = append(out, *p)
		}
	}
	return out
}

// Remove deletes a node from the table; it panics for either of the two
// hood edges per spec §4.2 ("removing an edge node is forbidden").
func (t *Table) Remove(id ringid.NodeId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isHoodEdgeLocked(id) {
		panic("routingtable: refusing to remove a neighborhood edge node")
	}
	if _, ok := t.get(id); !ok {
		return false
	}
	t.byId.Remove(id)
	t.removeSorted(id)
	t.recomputeHood()
	t.updateSizeMetric()
	return true
}

func (t *Table) isHoodEdgeLocked(id ringid.NodeId) bool {
	if len(t.sorted) == 0 {
		return false
	}
	return t.sorted[t.predHoodEdge].Equal(id) || t.sorted[t.succHoodEdge].Equal(id)
}

// Successor returns the immediate Routing/Inserting successor of this_node.
func (t *Table) Successor() (PartnerNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.neighborAt(1, true)
}

// Predecessor returns the immediate Routing/Inserting predecessor.
func (t *Table) Predecessor() (PartnerNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.neighborAt(1, false)
}

func (t *Table) selfIndex() int {
	i := sort.Search(len(t.sorted), func(i int) bool { return !t.sorted[i].Less(t.thisNode.Id()) })
	return i
}

func (t *Table) neighborAt(steps int, succ bool) (PartnerNode, bool) {
	n := len(t.sorted)
	if n <= 1 {
		return PartnerNode{}, false
	}
	self := t.selfIndex()
	seen := 0
	for i := 1; i < n; i++ {
		var idx int
		if succ {
			idx = (self + i) % n
		} else {
			idx = ((self-i)%n + n) % n
		}
		p, ok := t.get(t.sorted[idx])
		if !ok || !p.Phase.Available() {
			continue
		}
		seen++
		if seen == steps {
			return *p, true
		}
	}
	return PartnerNode{}, false
}

// recomputeHood adjusts the two edge cursors and counts so each covers up
// to hoodSize available nodes on its side (spec §4.2 on_node_added /
// on_node_removed invariant maintenance).
func (t *Table) recomputeHood() {
	n := len(t.sorted)
	if n == 0 {
		return
	}
	self := t.selfIndex()
	t.succHoodEdge = t.edgeIndex(self, true)
	t.predHoodEdge = t.edgeIndex(self, false)
	t.completeHoodRange = t.predHoodEdge == self && t.succHoodEdge == self && t.availableCount() > 0 && t.availableCount() <= t.hoodSize*2
}

func (t *Table) edgeIndex(self int, succ bool) int {
	n := len(t.sorted)
	count := 0
	idx := self
	for i := 1; i <= n; i++ {
		var candidate int
		if succ {
			candidate = (self + i) % n
		} else {
			candidate = ((self-i)%n + n) % n
		}
		if candidate == self {
			idx = self
			break
		}
		p, ok := t.get(t.sorted[candidate])
		idx = candidate
		if ok && p.Phase.Available() {
			count++
		}
		if count >= t.hoodSize {
			break
		}
	}
	return idx
}

func (t *Table) availableCount() int {
	n := 0
	for _, id := range t.sorted {
		if p, ok := t.get(id); ok && p.Phase.Available() {
			n++
		}
	}
	return n
}

// CompleteHoodRange reports whether the neighborhood covers the entire
// ring (spec §3).
func (t *Table) CompleteHoodRange() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completeHoodRange
}

// Snapshot returns every known partner, for gossip/piggyback headers.
func (t *Table) Snapshot() []PartnerNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PartnerNode, 0, len(t.sorted))
	for _, id := range t.sorted {
		if p, ok := t.get(id); ok {
			out = append(out, *p)
		}
	}
	return out
}

// NeighborhoodSnapshot returns up to hoodSize predecessors and successors,
// for piggybacking on lock-replies and join-replies (spec §4.4 step 4).
func (t *Table) NeighborhoodSnapshot() []PartnerNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.sorted)
	if n <= 1 {
		return nil
	}
	self := t.selfIndex()
	seenPred, seenSucc := 0, 0
	var out []PartnerNode
	for i := 1; i < n && (seenPred < t.hoodSize || seenSucc < t.hoodSize); i++ {
		if seenSucc < t.hoodSize {
			idx := (self + i) % n
			if p, ok := t.get(t.sorted[idx]); ok && p.Phase.Available() {
				out = append(out, *p)
				seenSucc++
			}
		}
		if seenPred < t.hoodSize {
			idx := ((self-i)%n + n) % n
			if p, ok := t.get(t.sorted[idx]); ok && p.Phase.Available() {
				out = append(out, *p)
				seenPred++
			}
		}
	}
	return out
}

func (t *Table) updateSizeMetric() {
	if t.metrics != nil {
		t.metrics.RoutingTableSize.Set(float64(t.byId.Len()))
	}
}
