// Package ping implements liveness probing of neighborhood edges and
// unknown-node discovery (spec §4.5, component E). Grounded on the
// teacher's networking/benchlist failure-counting idiom and
// uptime/manager.go's Connect/Disconnect/IsConnected shape.
package ping

import (
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routingtable"
)

// Request is the body of a PingRequest (spec §6).
type Request struct {
	SenderInstance  ringid.NodeInstance
	SenderHoodRange ringid.NodeIdRange
}

// Reply is the body of a PingReply: the receiver's own range plus partner
// headers for the receiver's own neighborhood.
type Reply struct {
	ReceiverRange ringid.NodeIdRange
	Neighborhood  []routingtable.PartnerNode
}

// probe tracks one outstanding liveness probe, for UnknownNodeProbeTimeout
// aging (spec §4.5).
type probe struct {
	startedAt time.Time
}

// Manager runs periodic probes of the immediate pred/succ, and
// elevates/ages Unknown nodes discovered via PingReply partner headers.
type Manager struct {
	log      log.Logger
	metrics  *metrics.Metrics
	table    *routingtable.Table
	interval time.Duration
	probeTimeout time.Duration

	mu     sync.Mutex
	probes map[ringid.NodeId]probe
}

func NewManager(table *routingtable.Table, interval, probeTimeout time.Duration, logger log.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		log:          logger,
		metrics:      m,
		table:        table,
		interval:     interval,
		probeTimeout: probeTimeout,
		probes:       make(map[ringid.NodeId]probe),
	}
}

// Targets returns the set of nodes this tick's probe round reaches: the
// immediate successor and predecessor only. The two neighborhood edges are
// not included unless they are that successor or predecessor.
func (m *Manager) Targets() []ringid.NodeId {
	var targets []ringid.NodeId
	if succ, ok := m.table.Successor(); ok {
		targets = append(targets, succ.Id())
	}
	if pred, ok := m.table.Predecessor(); ok {
		targets = append(targets, pred.Id())
	}
	return targets
}

// BeginProbe records a new outstanding probe against id.
func (m *Manager) BeginProbe(id ringid.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[id] = probe{startedAt: time.Now()}
}

// HandleReply processes a PingReply, elevating newly discovered neighbors
// to Unknown and clearing the outstanding probe for the replier.
func (m *Manager) HandleReply(from ringid.NodeId, reply Reply) {
	m.mu.Lock()
	delete(m.probes, from)
	m.mu.Unlock()

	for _, partner := range reply.Neighborhood {
		if _, known := m.table.Get(partner.Id()); known {
			continue
		}
		partner.Phase = routingtable.Unknown
		m.table.Upsert(partner)
	}
}

// AgeProbes drops outstanding probes that have exceeded
// UnknownNodeProbeTimeout, returning the ids that timed out so the caller
// can mark them aged/suspect.
func (m *Manager) AgeProbes() []ringid.NodeId {
	m.mu.Lock()
	defer m.mu.Unlock()
	var aged []ringid.NodeId
	now := time.Now()
	for id, p := range m.probes {
		if now.Sub(p.startedAt) > m.probeTimeout {
			aged = append(aged, id)
			delete(m.probes, id)
			if m.metrics != nil {
				m.metrics.PingTimeouts.Inc()
			}
		}
	}
	return aged
}
