package routingtable

import (
	"sort"

	"github.com/luxfi/federation/internal/ringid"
)

// evictIfNeeded applies the compaction policy (spec §4.2) once the number
// of entries exceeds RoutingTableCapacity: retain the top-K ranked by
// (is_routing desc, is_shutdown asc, is_unknown asc, last_accessed desc).
// Called synchronously on insert to keep the invariant between the
// periodic RoutingTableCompactInterval sweeps (Compact) tight under churn.
func (t *Table) evictIfNeeded() {
	if t.capacity <= 0 || t.byId.Len() <= t.capacity {
		return
	}
	t.compactLocked()
}

// Compact runs the full compaction pass; call periodically at
// RoutingTableCompactInterval (spec §4.2). Never evicts this_node or
// either neighborhood edge.
func (t *Table) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compactLocked()
}

func (t *Table) compactLocked() {
	if t.byId.Len() <= t.capacity {
		return
	}

	type candidate struct {
		id   ringid.NodeId
		node *PartnerNode
	}
	all := make([]candidate, 0, len(t.sorted))
	for _, id := range t.sorted {
		if p, ok := t.get(id); ok {
			all = append(all, candidate{id: id, node: p})
		}
	}

	protect := map[ringid.NodeId]bool{t.thisNode.Id(): true}
	if len(t.sorted) > 0 {
		protect[t.sorted[t.predHoodEdge]] = true
		protect[t.sorted[t.succHoodEdge]] = true
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].node, all[j].node
		if protect[a.Id()] != protect[b.Id()] {
			return protect[a.Id()]
		}
		if (a.Phase == Routing) != (b.Phase == Routing) {
			return a.Phase == Routing
		}
		if (a.Phase == Shutdown) != (b.Phase == Shutdown) {
			return b.Phase == Shutdown
		}
		if (a.Phase == Unknown) != (b.Phase == Unknown) {
			return b.Phase == Unknown
		}
		return a.LastAccessed.After(b.LastAccessed)
	})

	keep := t.capacity
	if keep < len(protect) {
		keep = len(protect)
	}
	if keep >= len(all) {
		return
	}
	for _, c := range all[keep:] {
		t.byId.Remove(c.id)
		t.removeSorted(c.id)
		t.metricsEvict()
	}
	t.recomputeHood()
	t.updateSizeMetric()
}

func (t *Table) metricsEvict() {
	if t.metrics != nil {
		t.metrics.RoutingTableEvicts.Inc()
	}
}
