// Package token implements the RoutingToken merge/split/release rules of
// spec §4.1 (component A). Grounded on the teacher's pure-function
// arithmetic style in utils/math, generalized from scalar math to ring
// arithmetic via internal/ringid.
package token

import (
	"github.com/luxfi/federation/internal/ringid"
)

// RecoveryIncrement is re-declared here (matching internal/config) so this
// package has no dependency on config; the two must stay equal.
const RecoveryIncrement uint64 = 1 << 32

// Token is a versioned half-open arc a node claims to own (spec §3).
type Token struct {
	Range   ringid.NodeIdRange
	Version uint64
}

// Transfer describes an arc moving from one owner to a neighbor, emitted
// by split/release and carried on the wire as the RoutingToken transfer
// header {range, source_version, target_version}.
type Transfer struct {
	Range         ringid.NodeIdRange
	SourceVersion uint64
	TargetVersion uint64
}

// versionDelta returns received-local, saturating at 0 when received is
// behind local (version is unsigned and monotone so "older" is the only
// direction that can produce a large magnitude negative delta in practice).
func versionDelta(local, received uint64) uint64 {
	if received >= local {
		return received - local
	}
	return 0
}

// Accept applies an incoming token announcement from ownerId, returning
// the new local token and whether the merge was accepted. Merge safety
// (spec §4.1): reject if the incoming version is older than local by at
// least RecoveryIncrement — an unusually large backward delta signals a
// reissue after a suspected owner death, not a normal increment.
func Accept(local Token, received Token, ownerId ringid.NodeId) (Token, bool) {
	if local.Version > received.Version && local.Version-received.Version >= RecoveryIncrement {
		return local, false
	}

	if local.Range.IsEmpty() {
		if !received.Range.Contains(ownerId) {
			return local, false
		}
		return Token{Range: received.Range, Version: max(local.Version, received.Version) + 1}, true
	}

	merged, ok := local.Range.Merge(received.Range)
	if !ok {
		return local, false
	}
	return Token{Range: merged, Version: max(local.Version, received.Version) + 1}, true
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// SplitSucc transfers the arc strictly past succ_midpoint(ownerId,
// neighborId) to the successor. The owner retains [local.begin, midpoint];
// the neighbor receives (midpoint, local.end]. Returns ok=false if the
// midpoint does not lie inside the local range (the split is not valid).
func SplitSucc(local Token, ownerId, neighborId ringid.NodeId) (owner Token, transfer Transfer, ok bool) {
	if local.Range.IsEmpty() {
		return local, Transfer{}, false
	}
	mid := ringid.SuccMidpoint(ownerId, neighborId)
	if !rangeContainsMidpoint(local.Range, mid) {
		return local, Transfer{}, false
	}
	ownerRange := ringid.NewRange(rangeBegin(local.Range), mid)
	neighborRange := ringid.NewRange(mid.Add(1), rangeEnd(local.Range))
	newVersion := local.Version + 1
	return Token{Range: ownerRange, Version: newVersion},
		Transfer{Range: neighborRange, SourceVersion: local.Version, TargetVersion: newVersion},
		true
}

// SplitPred is the predecessor-side analogue of SplitSucc.
func SplitPred(local Token, ownerId, neighborId ringid.NodeId) (owner Token, transfer Transfer, ok bool) {
	if local.Range.IsEmpty() {
		return local, Transfer{}, false
	}
	mid := ringid.PredMidpoint(ownerId, neighborId)
	if !rangeContainsMidpoint(local.Range, mid) {
		return local, Transfer{}, false
	}
	ownerRange := ringid.NewRange(mid, rangeEnd(local.Range))
	neighborRange := ringid.NewRange(rangeBegin(local.Range), mid.Sub(1))
	newVersion := local.Version + 1
	return Token{Range: ownerRange, Version: newVersion},
		Transfer{Range: neighborRange, SourceVersion: local.Version, TargetVersion: newVersion},
		true
}

// ReleaseSucc is the first step of a voluntary release (the owner is going
// down cleanly): split local at succ_midpoint(pred, succ) and transfer the
// far-side arc (midpoint, end] to the successor (spec §4.1). The sizes of
// the two arcs are not compared, so the transferred arc may be the smaller
// one. The owner retains the near-side remainder [begin, midpoint], which a
// follow-up ReleasePred call then hands to the predecessor to finish
// emptying the token.
func ReleaseSucc(local Token, predId, ownerId, succId ringid.NodeId) (owner Token, transfer Transfer, ok bool) {
	if local.Range.IsEmpty() {
		return local, Transfer{}, false
	}
	mid := ringid.SuccMidpoint(predId, succId)
	if !rangeContainsMidpoint(local.Range, mid) {
		return local, Transfer{}, false
	}
	ownerRange := ringid.NewRange(rangeBegin(local.Range), mid)
	succArc := ringid.NewRange(mid.Add(1), rangeEnd(local.Range))
	newVersion := local.Version + 1
	return Token{Range: ownerRange, Version: newVersion},
		Transfer{Range: succArc, SourceVersion: local.Version, TargetVersion: newVersion},
		true
}

// ReleasePred completes a release started by ReleaseSucc: it hands the
// owner's entire remaining range to the predecessor and empties the local
// token. Unlike ReleaseSucc it does not split again — whatever local.Range
// holds here is exactly the near-side remainder ReleaseSucc kept.
func ReleasePred(local Token, pred, ownerId, succId ringid.NodeId) (owner Token, transfer Transfer, ok bool) {
	if local.Range.IsEmpty() {
		return local, Transfer{}, false
	}
	newVersion := local.Version + 1
	return Token{Range: ringid.EmptyRange(), Version: newVersion},
		Transfer{Range: local.Range, SourceVersion: local.Version, TargetVersion: newVersion},
		true
}

func rangeContainsMidpoint(r ringid.NodeIdRange, mid ringid.NodeId) bool {
	if r.IsFull() {
		return true
	}
	return r.Contains(mid)
}

// rangeBegin/rangeEnd expose the endpoints of a non-sentinel range; Full is
// treated as spanning the whole ring from Zero to Max for split purposes,
// matching the teacher's convention of normalizing sentinel ranges to
// concrete endpoints before arithmetic (utils/math helpers do the same for
// saturating types).
func rangeBegin(r ringid.NodeIdRange) ringid.NodeId {
	if r.IsFull() {
		return ringid.Zero
	}
	return r.Begin
}

func rangeEnd(r ringid.NodeIdRange) ringid.NodeId {
	if r.IsFull() {
		return ringid.Max
	}
	return r.End
}
