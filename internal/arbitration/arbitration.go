// Package arbitration resolves lease-failure conflicts via quorum of
// voters (spec §4.6, component F). Grounded on the teacher's
// networking/benchlist suspicion/failure accounting, generalized from a
// single node's local view to a quorum vote.
package arbitration

import (
	"sync"
	"time"

	"github.com/luxfi/federation/internal/ringid"
)

// Type is the arbitration request kind (spec §4.6 table).
type Type int

const (
	TwoWaySimple Type = iota
	TwoWayExtended
	OneWay
	Implicit
	KeepAlive
)

// Flag bits, normalized so the strongest subsuming flag wins (spec §4.6).
type Flag uint8

const (
	FlagExtended Flag = 1 << iota
	FlagStrong
	FlagContinuous
	FlagDelayed
)

// Normalize adds every bit implied by a stronger bit already set: Strong
// implies Extended, Continuous implies Delayed. No bit is removed.
func (f Flag) Normalize() Flag {
	out := f
	if out&FlagStrong != 0 {
		out |= FlagExtended
	}
	if out&FlagContinuous != 0 {
		out |= FlagDelayed
	}
	return out
}

// Request is sent by the monitor to a quorum of voters.
type Request struct {
	Monitor               ringid.NodeInstance
	Subject               ringid.NodeInstance
	MonitorLeaseInstance  uint64
	SubjectLeaseInstance  uint64
	SubjectTTL            time.Duration
	HistoryNeeded         time.Duration
	Type                  Type
}

// Reply is returned by each consulted voter.
type Reply struct {
	SubjectTTL      time.Duration
	MonitorTTL      time.Duration
	SubjectReported bool
	Flags           Flag
	Reject          bool
}

// claim records a conflicting claim the voter has itself observed against
// a subject, for the history_needed lookback window.
type claim struct {
	subject ringid.NodeId
	at      time.Time
}

// ArbitrationTable is the voter-local record of recent conflicting claims,
// consulted when deciding reject vs neutral (spec §4.6).
type ArbitrationTable struct {
	mu     sync.Mutex
	claims []claim
}

func NewArbitrationTable() *ArbitrationTable {
	return &ArbitrationTable{}
}

// RecordClaim notes that this voter has itself observed a conflicting
// claim against subject.
func (t *ArbitrationTable) RecordClaim(subject ringid.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.claims = append(t.claims, claim{subject: subject, at: time.Now()})
}

// HasConflict reports whether a conflicting claim against subject was
// recorded within historyNeeded.
func (t *ArbitrationTable) HasConflict(subject ringid.NodeId, historyNeeded time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-historyNeeded)
	for _, c := range t.claims {
		if c.subject.Equal(subject) && c.at.After(cutoff) {
			return true
		}
	}
	return false
}

// Voter decides its reply to one ArbitrationRequest (spec §4.6 decision
// rule): grants reject if it has itself observed a conflicting claim
// against the subject within history_needed; neutral otherwise.
type Voter struct {
	table *ArbitrationTable
}

func NewVoter(table *ArbitrationTable) *Voter { return &Voter{table: table} }

func (v *Voter) Decide(req Request) Reply {
	reject := v.table.HasConflict(req.Subject.Id, req.HistoryNeeded)
	flags := Flag(0)
	if req.Type == TwoWayExtended {
		flags |= FlagExtended
	}
	if reject {
		flags |= FlagStrong
	}
	return Reply{
		SubjectReported: reject,
		Reject:          reject,
		Flags:           flags.Normalize(),
	}
}

// Thresholds configures the monitor-side quorum aggregation (spec §6
// ArbitrationTimeoutThreshold etc.).
type Thresholds struct {
	// MinQuorum is the minimum number of replies required before a
	// decision can be reached at all.
	MinQuorum int
}

// Aggregate applies the quorum rule table of spec §4.6 to the collected
// voter replies for an arbitration of the given Type, returning whether
// the subject must die.
func Aggregate(t Type, replies []Reply, thresholds Thresholds) bool {
	if len(replies) < thresholds.MinQuorum {
		return false
	}
	switch t {
	case OneWay:
		// Monitor asserts unilaterally; voters merely record.
		return true
	case KeepAlive:
		// Renews a previous grant; treated as an extension, not a new kill.
		return false
	case TwoWaySimple:
		return majorityReject(replies)
	case TwoWayExtended:
		if !majorityReject(replies) {
			return false
		}
		for _, r := range replies {
			if r.Flags&FlagStrong != 0 {
				return true
			}
		}
		return false
	case Implicit:
		return majorityReject(replies)
	default:
		return false
	}
}

func majorityReject(replies []Reply) bool {
	rejects := 0
	for _, r := range replies {
		if r.Reject {
			rejects++
		}
	}
	return rejects*2 > len(replies)
}
