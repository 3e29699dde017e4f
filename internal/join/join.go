// Package join implements the admission handshake of spec §4.4 (component
// D): Booting -> Joining -> Inserting -> Routing, any state may transition
// to Shutdown. Grounded on bootstrap/common.go's Bootstrapper interface
// (Start/Connected/Disconnected/Timeout), generalized into an explicit
// JoinPhase state machine per the "model each long-running protocol as a
// state machine" rule in spec §9.
package join

import (
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routingtable"
	"github.com/luxfi/federation/internal/token"
)

// Phase is an alias of routingtable.Phase: the join state machine moves
// through the same Booting, Joining and Inserting values a PartnerNode
// carries.
type Phase = routingtable.Phase

// Lock is the JoinLock a neighbor grants a joiner (spec §3): it guarantees
// the neighbor will not concurrently admit another joiner in the
// overlapping arc.
type Lock struct {
	Id        uint64
	HoodRange ringid.NodeIdRange
	IsRenew   bool
	grantedAt time.Time
}

// LockRequest is sent by a joiner to a would-be neighbor.
type LockRequest struct {
	Joiner ringid.NodeInstance
}

// LockGrantor tracks outstanding JoinLock grants made BY this node to
// joiners requesting admission into our neighborhood (spec §4.4 step 2).
type LockGrantor struct {
	mu       sync.Mutex
	nextId   uint64
	outstanding map[uint64]Lock
	lockDuration time.Duration
}

func NewLockGrantor(lockDuration time.Duration) *LockGrantor {
	return &LockGrantor{outstanding: make(map[uint64]Lock), lockDuration: lockDuration}
}

// Grant attempts to grant a lock over hoodRange, denying if an outstanding
// grant with a different id overlaps the requested arc (spec §4.4 step 2).
func (g *LockGrantor) Grant(hoodRange ringid.NodeIdRange) (Lock, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()

	for _, l := range g.outstanding {
		if !l.HoodRange.Disjoint(hoodRange) {
			return Lock{}, false
		}
	}
	g.nextId++
	l := Lock{Id: g.nextId, HoodRange: hoodRange, grantedAt: time.Now()}
	g.outstanding[l.Id] = l
	return l, true
}

// Release drops a previously granted lock (spec §4.4 step 5: commit).
func (g *LockGrantor) Release(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.outstanding, id)
}

func (g *LockGrantor) expireLocked() {
	now := time.Now()
	for id, l := range g.outstanding {
		if now.Sub(l.grantedAt) > g.lockDuration {
			delete(g.outstanding, id)
		}
	}
}

// Manager drives one joiner's handshake through the state machine. It
// holds no transport; AcceptTransfer is fed pre-resolved token transfers
// by the caller (the composition root wires the actual P2P
// round-trips).
type Manager struct {
	log     log.Logger
	metrics *metrics.Metrics
	table   *routingtable.Table

	mu    sync.Mutex
	phase Phase
}

func NewManager(table *routingtable.Table, logger log.Logger, m *metrics.Metrics) *Manager {
	return &Manager{log: logger, metrics: m, table: table, phase: routingtable.Booting}
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// BeginAttempt records a new attempt at the handshake (spec §4.4 step 1).
func (m *Manager) BeginAttempt() {
	m.mu.Lock()
	m.phase = routingtable.Joining
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.JoinAttempts.Inc()
	}
}

// AcceptTransfer merges an incoming token transfer from a locked neighbor
// into this node's accumulating token (spec §4.4 step 3). A successful
// merge moves the handshake to Inserting.
func (m *Manager) AcceptTransfer(current token.Token, transfer token.Transfer, ownerId ringid.NodeId) (token.Token, bool) {
	incoming := token.Token{Range: transfer.Range, Version: transfer.TargetVersion}
	merged, ok := token.Accept(current, incoming, ownerId)
	if ok {
		m.mu.Lock()
		m.phase = routingtable.Inserting
		m.mu.Unlock()
	}
	return merged, ok
}

// Commit transitions Inserting -> Routing once neighborhood population and
// token transfer are both complete (spec §4.4 step 5).
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != routingtable.Inserting {
		return federrors.New(federrors.InvalidConfiguration)
	}
	m.phase = routingtable.Routing
	return nil
}

// Fail reverts to Booting so the caller can retry from step 1 with
// back-off (spec §4.4 "Failure semantics").
func (m *Manager) Fail() {
	m.mu.Lock()
	m.phase = routingtable.Booting
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.JoinFailures.Inc()
	}
}

// Shutdown moves to the terminal phase from any state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.phase = routingtable.Shutdown
	m.mu.Unlock()
}
