// Package routingtable maintains the local sorted ring view and
// neighborhood invariants (spec §4.2, component B). Grounded on the
// teacher's validators.Set/Manager interfaces (Has/List/Len), generalized
// from a flat validator set to an ordered ring with neighborhood cursors,
// and on networking/benchlist's lock-guarded map shape.
package routingtable

import (
	"time"

	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/token"
)

// Phase is a PartnerNode's lifecycle stage (spec §3). The zero value,
// Unknown, is used for nodes observed but not yet confirmed (spec §4.5).
type Phase int

const (
	Unknown Phase = iota
	Booting
	Joining
	Inserting
	Routing
	Shutdown
)

// phaseOrder gives each phase a rank so transitions can be checked for
// monotonicity (spec §4.2: "phase can only advance in this order").
var phaseOrder = map[Phase]int{
	Unknown:   0,
	Booting:   1,
	Joining:   2,
	Inserting: 3,
	Routing:   4,
	Shutdown:  5,
}

func (p Phase) String() string {
	switch p {
	case Unknown:
		return "Unknown"
	case Booting:
		return "Booting"
	case Joining:
		return "Joining"
	case Inserting:
		return "Inserting"
	case Routing:
		return "Routing"
	case Shutdown:
		return "Shutdown"
	default:
		return "Invalid"
	}
}

// Available reports whether a node in this phase counts toward
// available_count / hood counts (spec §3: Inserting or Routing).
func (p Phase) Available() bool { return p == Inserting || p == Routing }

// PartnerNode is the local view of a remote peer (spec §3).
type PartnerNode struct {
	Instance            ringid.NodeInstance
	Phase               Phase
	PhysicalAddress     string
	LeaseAgentAddress   string
	Token               token.Token
	RingName            string
	LastAccessed        time.Time
	GlobalTimeUpperLimit time.Time
}

func (p PartnerNode) Id() ringid.NodeId { return p.Instance.Id }

// canAdvanceTo reports whether transitioning from cur to next is a legal
// phase advance, per the monotonic order above. Any phase may transition
// to Shutdown.
func canAdvanceTo(cur, next Phase) bool {
	if next == Shutdown {
		return true
	}
	return phaseOrder[next] >= phaseOrder[cur]
}
