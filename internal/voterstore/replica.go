// Package voterstore implements the Paxos-like quorum-replicated KV store
// over seed voters (spec §4.7, component G — the hardest subsystem).
// Grounded on the teacher's validators.Manager/Set for the replica-set
// shape and bootstrap/common.go's phase-driven state machine style.
package voterstore

import (
	"time"

	"github.com/luxfi/federation/internal/ringid"
)

// Phase is a replica process's lifecycle stage (spec §4.7).
type Phase int

const (
	Uninitialized Phase = iota
	None                // permanent state of a non-voter
	Invalid
	Introduce
	Bootstrap
	BecomeSecondary
	Secondary
	BecomePrimary
	Primary
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "Uninitialized"
	case None:
		return "None"
	case Invalid:
		return "Invalid"
	case Introduce:
		return "Introduce"
	case Bootstrap:
		return "Bootstrap"
	case BecomeSecondary:
		return "BecomeSecondary"
	case Secondary:
		return "Secondary"
	case BecomePrimary:
		return "BecomePrimary"
	case Primary:
		return "Primary"
	default:
		return "Unknown"
	}
}

// Replica is one member of a ReplicaSet.
type Replica struct {
	Instance ringid.NodeInstance
	IsDown   bool
	Sequence int64
	LastSend time.Time
}

// ReplicaSet identifies the current primary + secondaries, versioned by
// (generation, epoch) (spec §3, §4.7). Primary is Replicas[0] when up.
type ReplicaSet struct {
	Generation uint64
	Epoch      uint64
	Replicas   []Replica
}

// Newer reports whether o is a strictly newer view than rs, per spec
// §4.7's invariant "a secondary refuses any Sync whose (generation,
// epoch) is older than what it already has".
func (rs ReplicaSet) Newer(o ReplicaSet) bool {
	if o.Generation != rs.Generation {
		return o.Generation > rs.Generation
	}
	return o.Epoch > rs.Epoch
}

// IndexOf returns the position of id within Replicas, or -1.
func (rs ReplicaSet) IndexOf(id ringid.NodeId) int {
	for i, r := range rs.Replicas {
		if r.Instance.Id.Equal(id) {
			return i
		}
	}
	return -1
}

// LiveReplicas returns the subset not marked down.
func (rs ReplicaSet) LiveReplicas() []Replica {
	var out []Replica
	for _, r := range rs.Replicas {
		if !r.IsDown {
			out = append(out, r)
		}
	}
	return out
}

// WriteQuorumSize is a strict majority of the full replica set, matching
// Paxos-style quorum writes.
func (rs ReplicaSet) WriteQuorumSize() int {
	return len(rs.Replicas)/2 + 1
}
