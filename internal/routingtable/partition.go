package routingtable

import "github.com/luxfi/federation/internal/ringid"

// PartitionRanges splits target into sub-arcs, one per known Routing node
// whose token range overlaps target: each sub-arc is that overlap and is
// assigned to that token's owner. Used by Broadcast and Multicast. Points
// of target covered by no known token are returned as holes carrying
// their midpoint as a routing hint; they are not assigned to the closest
// known node by id distance.
func (t *Table) PartitionRanges(target ringid.NodeIdRange) (subranges []SubRange, holes []Hole) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type owned struct {
		id    ringid.NodeId
		token ringid.NodeIdRange
	}
	var owners []owned
	for _, id := range t.sorted {
		p, ok := t.get(id)
		if !ok || p.Phase != Routing || p.Token.Range.IsEmpty() {
			continue
		}
		owners = append(owners, owned{id: id, token: p.Token.Range})
	}

	if len(owners) == 0 {
		mid := midpointOf(target)
		return nil, []Hole{{Range: target, Midpoint: mid}}
	}

	for _, o := range owners {
		covered := intersect(target, o.token)
		if covered.IsEmpty() {
			continue
		}
		subranges = append(subranges, SubRange{Range: covered, Target: o.id})
	}

	// Anything in target not covered by a known owner's token is a hole.
	remaining := []ringid.NodeIdRange{target}
	for _, sr := range subranges {
		var next []ringid.NodeIdRange
		for _, r := range remaining {
			next = append(next, r.Subtract(sr.Range)...)
		}
		remaining = next
	}
	for _, r := range remaining {
		if r.IsEmpty() {
			continue
		}
		holes = append(holes, Hole{Range: r, Midpoint: midpointOf(r)})
	}
	return subranges, holes
}

func midpointOf(r ringid.NodeIdRange) ringid.NodeId {
	if r.IsFull() {
		return ringid.SuccMidpoint(ringid.Zero, ringid.Max)
	}
	return ringid.SuccMidpoint(r.Begin, r.End)
}

// intersect returns the overlap of a and b as a single merged arc (the
// partition use below only ever intersects a contiguous target against a
// contiguous owner token, so the result is always expressible as one arc
// or Empty). Uses the set identity a ∩ b = a \ (a \ b), subtracting each
// disjoint piece of a\b from a in turn via NodeIdRange.Subtract.
func intersect(a, b ringid.NodeIdRange) ringid.NodeIdRange {
	if a.IsEmpty() || b.IsEmpty() {
		return ringid.EmptyRange()
	}
	if a.IsFull() {
		return b
	}
	if b.IsFull() {
		return a
	}

	remaining := []ringid.NodeIdRange{a}
	for _, d := range a.Subtract(b) {
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

// GetCombinedNeighborhoodTokenRange is the union of our own token and the
// token ranges reported by known neighbors whose ranges are adjacent to
// ours (spec §4.2), used for authoritative-range replies.
func (t *Table) GetCombinedNeighborhoodTokenRange() ringid.NodeIdRange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	combined := t.thisNode.Token.Range
	for _, id := range t.sorted {
		p, ok := t.get(id)
		if !ok || p.Id().Equal(t.thisNode.Id()) || p.Token.Range.IsEmpty() {
			continue
		}
		if merged, ok := combined.Merge(p.Token.Range); ok {
			combined = merged
		}
	}
	return combined
}
