package ringid

import "fmt"

// rangeKind distinguishes the two sentinel arcs from a normal half-open arc.
type rangeKind uint8

const (
	kindNormal rangeKind = iota
	kindEmpty
	kindFull
)

// NodeIdRange is a half-open arc [Begin, End] on the ring (spec §3). A
// range of size exactly 2^128 is the distinguished Full sentinel; a range
// of size 0 is the distinguished Empty sentinel. Both sentinels are
// represented distinctly so they are never mistaken for one another or for
// a degenerate single-point range.
type NodeIdRange struct {
	kind  rangeKind
	Begin NodeId
	End   NodeId
}

// EmptyRange is the distinguished empty arc.
func EmptyRange() NodeIdRange { return NodeIdRange{kind: kindEmpty} }

// FullRange is the distinguished arc covering the entire ring.
func FullRange() NodeIdRange { return NodeIdRange{kind: kindFull} }

// NewRange builds a normal half-open arc [begin, end]. Callers must not
// pass begin==end meaning "full" or "empty" — use FullRange/EmptyRange.
func NewRange(begin, end NodeId) NodeIdRange {
	return NodeIdRange{kind: kindNormal, Begin: begin, End: end}
}

func (r NodeIdRange) IsEmpty() bool { return r.kind == kindEmpty }
func (r NodeIdRange) IsFull() bool  { return r.kind == kindFull }

// Contains reports whether p lies within the arc, inclusive of both ends.
// Empty contains nothing; Full contains every point.
func (r NodeIdRange) Contains(p NodeId) bool {
	switch r.kind {
	case kindEmpty:
		return false
	case kindFull:
		return true
	default:
		if r.Begin.Equal(r.End) {
			return p.Equal(r.Begin)
		}
		if r.Begin.Less(r.End) {
			return !p.Less(r.Begin) && !r.End.Less(p)
		}
		// Wraps around Max -> 0.
		return !p.Less(r.Begin) || !r.End.Less(p)
	}
}

// Disjoint reports whether r and o share no point.
func (r NodeIdRange) Disjoint(o NodeIdRange) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return true
	}
	if r.IsFull() || o.IsFull() {
		return false
	}
	return !r.Contains(o.Begin) && !r.Contains(o.End) &&
		!o.Contains(r.Begin) && !o.Contains(r.End)
}

func (r NodeIdRange) Equal(o NodeIdRange) bool {
	if r.kind != o.kind {
		return false
	}
	if r.kind != kindNormal {
		return true
	}
	return r.Begin.Equal(o.Begin) && r.End.Equal(o.End)
}

// Merge combines r and o when they are adjacent or overlapping, per §4.1's
// accept rule. It is commutative; returns (merged, true) or (_, false) if
// the two arcs cannot be expressed as one contiguous arc.
func (r NodeIdRange) Merge(o NodeIdRange) (NodeIdRange, bool) {
	if r.IsEmpty() {
		return o, true
	}
	if o.IsEmpty() {
		return r, true
	}
	if r.IsFull() || o.IsFull() {
		return FullRange(), true
	}
	// Adjacent/overlapping on the succ side: r.End immediately precedes or
	// is inside o, and o extends beyond r.End.
	if r.Contains(o.Begin) || o.Begin.Equal(r.End.Add(1)) {
		if r.Contains(o.End) {
			return r, true
		}
		return NewRange(r.Begin, o.End), true
	}
	if o.Contains(r.Begin) || r.Begin.Equal(o.End.Add(1)) {
		if o.Contains(r.End) {
			return o, true
		}
		return NewRange(o.Begin, r.End), true
	}
	return NodeIdRange{}, false
}

// Subtract removes o from r, yielding 0, 1, or 2 resulting arcs.
func (r NodeIdRange) Subtract(o NodeIdRange) []NodeIdRange {
	if r.IsEmpty() || o.IsFull() {
		return nil
	}
	if o.IsEmpty() {
		return []NodeIdRange{r}
	}
	if r.IsFull() {
		// Complement of o within the full ring.
		if o.IsFull() {
			return nil
		}
		return []NodeIdRange{NewRange(o.End.Add(1), o.Begin.Sub(1))}
	}
	containsBegin := o.Contains(r.Begin)
	containsEnd := o.Contains(r.End)
	switch {
	case containsBegin && containsEnd:
		if r.Equal(o) || !r.Contains(o.Begin) || !r.Contains(o.End) || o.End.Add(1).Equal(o.Begin) {
			return nil
		}
		// o and r each wrap past both ends of the other: the only part of
		// r left is the gap between o.End and o.Begin.
		return []NodeIdRange{NewRange(o.End.Add(1), o.Begin.Sub(1))}
	case containsBegin:
		return []NodeIdRange{NewRange(o.End.Add(1), r.End)}
	case containsEnd:
		return []NodeIdRange{NewRange(r.Begin, o.Begin.Sub(1))}
	case r.Contains(o.Begin) && r.Contains(o.End):
		return []NodeIdRange{
			NewRange(r.Begin, o.Begin.Sub(1)),
			NewRange(o.End.Add(1), r.End),
		}
	default:
		// r and o disjoint.
		return []NodeIdRange{r}
	}
}

func (r NodeIdRange) String() string {
	switch r.kind {
	case kindEmpty:
		return "Empty"
	case kindFull:
		return "Full"
	default:
		return fmt.Sprintf("[%s, %s]", r.Begin, r.End)
	}
}
