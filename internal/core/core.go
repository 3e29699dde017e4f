// Package core is the composition root wiring every component into one
// running federation node (spec §9's "pass a context object, not a
// singleton" rule). Grounded on the teacher's cmd/consensus and
// example/simple composition style: one constructor builds every
// component and threads a shared logger/metrics bundle through, rather
// than relying on package-level state.
//
// Wire transport and serialization are out of scope collaborators (spec.md
// §1); internal/transport declares that contract for a real deployment.
// This package's Registry is the in-process stand-in a local multi-node
// simulation (cmd/federation-node) uses instead: peer FederationCores
// exchange already-typed Go values directly rather than round-tripping
// through a wire codec this repo does not own.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/federation/internal/arbitration"
	"github.com/luxfi/federation/internal/broadcast"
	"github.com/luxfi/federation/internal/config"
	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/globaltime"
	"github.com/luxfi/federation/internal/join"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/multicast"
	"github.com/luxfi/federation/internal/p2p"
	"github.com/luxfi/federation/internal/ping"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routing"
	"github.com/luxfi/federation/internal/routingtable"
	"github.com/luxfi/federation/internal/token"
	"github.com/luxfi/federation/internal/update"
	"github.com/luxfi/federation/internal/voterstore"
)

// LocalHandler is the application actor a deployment supplies for
// addressed traffic (the ActorDirect / Routing target of spec §4.3/§4.8).
type LocalHandler interface {
	Deliver(ctx context.Context, payload []byte) ([]byte, error)
}

// Registry is the shared in-process directory every simulated node
// registers with, standing in for address resolution a real transport
// would otherwise provide.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*FederationCore
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*FederationCore)}
}

func (r *Registry) register(address string, c *FederationCore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[address] = c
}

func (r *Registry) lookup(address string) (*FederationCore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.nodes[address]
	return c, ok
}

// FederationCore wires every component (A-L) into one node.
type FederationCore struct {
	log      log.Logger
	metrics  *metrics.Metrics
	cfg      *config.Config
	self     ringid.NodeInstance
	address  string
	registry *Registry

	Table       *routingtable.Table
	Dispatcher  *p2p.Dispatcher
	JoinLocks   *join.LockGrantor
	Join        *join.Manager
	Ping        *ping.Manager
	ArbTable    *arbitration.ArbitrationTable
	Arbitration *arbitration.Voter
	Voters      *voterstore.Store
	Router      *routing.Router
	Broadcaster *broadcast.Broadcaster
	Multicaster *multicast.Multicaster
	Update      *update.Manager
	GlobalTime  *globaltime.Manager

	app LocalHandler
}

// New builds one node and registers it with reg. voterDirectory maps
// every statically configured voter seat (spec §6 Votes) to its address,
// used only by this node's VoterStore Syncer to resolve a Replica to a
// peer; it is the same static list on every node by construction.
func New(cfg *config.Config, self ringid.NodeInstance, address, leaseAgentAddress, ringName string, voterDirectory map[ringid.NodeId]string, reg *Registry, app LocalHandler, logger log.Logger, promReg prometheus.Registerer) *FederationCore {
	m := metrics.New(promReg)

	this := routingtable.PartnerNode{
		Instance:        self,
		Phase:           routingtable.Booting,
		PhysicalAddress: address,
		LeaseAgentAddress: leaseAgentAddress,
		Token:           token.Token{Range: ringid.EmptyRange()},
		RingName:        ringName,
	}
	table := routingtable.New(this, cfg.NeighborhoodSize, cfg.RoutingTableCapacity, logger, m)

	c := &FederationCore{
		log:      logger,
		metrics:  m,
		cfg:      cfg,
		self:     self,
		address:  address,
		registry: reg,
		Table:    table,
		app:      app,
	}

	c.Dispatcher = p2p.NewDispatcher(self, table, logger)
	c.JoinLocks = join.NewLockGrantor(cfg.JoinLockDuration)
	c.Join = join.NewManager(table, logger, m)
	c.Ping = ping.NewManager(table, cfg.PingInterval, cfg.UnknownNodeProbeTimeout, logger, m)
	c.ArbTable = arbitration.NewArbitrationTable()
	c.Arbitration = arbitration.NewVoter(c.ArbTable)

	syncer := &coreSyncer{registry: reg, directory: voterDirectory}
	c.Voters = voterstore.New(self, syncer, logger, m)

	sender := &coreSender{registry: reg, table: table, log: logger}
	c.Router = routing.NewRouter(table, &routingAdapter{app: app}, sender, nil, logger, m)

	direct := &coreDirect{registry: reg, table: table}
	c.Broadcaster = broadcast.New(table, c.Router, direct, &broadcastAdapter{app: app}, cfg.BroadcastStepCountMax, cfg.BroadcastContextKeepDuration, cfg.RoutingRetryTimeout, nil, logger, m)
	c.Multicaster = multicast.New(table, c.Router, &multicastAdapter{app: app}, cfg.RoutingRetryTimeout, cfg.MessageTimeout, logger, m)

	c.GlobalTime = globaltime.NewManager(c.Voters, cfg.GlobalTimeClockDriftRatio, cfg.GlobalTimeUncertaintyMaxIncrease, cfg.GlobalTimeUncertaintyMaxDecrease, cfg.GlobalTimeNewEpochWaitInterval, logger, m)
	c.Update = update.NewManager(table, c.Router, c.GlobalTime, cfg.MaxUpdateTarget, logger, m)

	reg.register(address, c)
	return c
}

// Bootstrap runs VoterStore's Introduce/Bootstrap sequence against the
// statically configured voter seats (spec §4.7), then marks this node
// Routing once it has an owning token, mirroring the join/bootstrap
// handoff described in spec §4.4 for a ring's first seed members.
func (c *FederationCore) Bootstrap(ctx context.Context, voterSeats []ringid.NodeInstance, fullRange ringid.NodeIdRange) error {
	if err := c.Voters.Bootstrap(ctx, voterSeats); err != nil {
		return err
	}
	this := c.Table.ThisNode()
	this.Phase = routingtable.Routing
	this.Token = token.Token{Range: fullRange, Version: 1}
	c.Table.SetThisToken(this)
	return nil
}

// RunMaintenance starts the periodic ticker-driven work every node runs
// once bootstrapped: ping probes, update gossip rounds, and (primary
// only) the global-time epoch bump. It blocks until ctx is done.
func (c *FederationCore) RunMaintenance(ctx context.Context) {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	updateTicker := time.NewTicker(c.cfg.UpdateInterval)
	epochTicker := time.NewTicker(c.cfg.GlobalTimeNewEpochWaitInterval)
	defer pingTicker.Stop()
	defer updateTicker.Stop()
	defer epochTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			c.runPingRound(ctx)
		case <-updateTicker.C:
			c.runUpdateRound(ctx)
		case <-epochTicker.C:
			if err := c.GlobalTime.BumpEpoch(ctx); err != nil && c.log != nil {
				c.log.Debug("core: global-time epoch bump failed", "err", err)
			}
		}
	}
}

func (c *FederationCore) runPingRound(ctx context.Context) {
	for _, target := range c.Ping.Targets() {
		c.Ping.BeginProbe(target)
		_, _ = c.Router.BeginRoute(ctx, routing.Message{To: target, RetryTimeout: c.cfg.RoutingRetryTimeout}, c.cfg.MessageTimeout)
	}
	for _, aged := range c.Ping.AgeProbes() {
		if partner, ok := c.Table.Get(aged); ok {
			partner.Phase = routingtable.Unknown
			c.Table.Upsert(partner)
		}
	}
}

func (c *FederationCore) runUpdateRound(ctx context.Context) {
	self := c.Table.ThisNode().Id()
	target := c.Update.NextExponentialTarget(self)
	isExp := true
	if target.Equal(self) {
		if gap, ok := c.Update.GapTarget(); ok {
			target, isExp = gap, false
		}
	}
	if err := c.Update.Round(ctx, target, isExp, c.cfg.MessageTimeout); err != nil && c.log != nil {
		c.log.Debug("core: update round failed", "target", target.String(), "err", err)
	}
}

// coreSender implements routing.Sender over the Registry.
type coreSender struct {
	registry *Registry
	table    *routingtable.Table
	log      log.Logger
}

func (s *coreSender) ForwardHop(ctx context.Context, hop ringid.NodeInstance, msg routing.Message) error {
	partner, ok := s.table.Get(hop.Id)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	peer, ok := s.registry.lookup(partner.PhysicalAddress)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	go func() {
		if err := peer.Router.HandleIncoming(ctx, msg); err != nil && s.log != nil {
			s.log.Debug("core: forwarded hop failed at peer", "peer", partner.PhysicalAddress, "err", err)
		}
	}()
	return nil
}

// coreDirect implements broadcast.DirectSender over the Registry.
type coreDirect struct {
	registry *Registry
	table    *routingtable.Table
}

func (d *coreDirect) SendDirect(ctx context.Context, to ringid.NodeInstance, env broadcast.Envelope) error {
	partner, ok := d.table.Get(to.Id)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	peer, ok := d.registry.lookup(partner.PhysicalAddress)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	if !env.Range.IsEmpty() {
		// A cross-ring seed send carries a Range; treat it as the start
		// of a reliable broadcast in the receiving ring (spec §4.9
		// "Cross-ring reliable broadcast").
		go peer.Broadcaster.HandleReliable(ctx, env)
		return nil
	}
	go peer.Broadcaster.HandleUnreliable(ctx, env)
	return nil
}

// coreSyncer implements voterstore.Syncer over the Registry using a
// static NodeId->address directory (spec §6 Votes is a cluster constant).
type coreSyncer struct {
	registry  *Registry
	directory map[ringid.NodeId]string
}

func (s *coreSyncer) peerFor(id ringid.NodeId) (*FederationCore, bool) {
	addr, ok := s.directory[id]
	if !ok {
		return nil, false
	}
	return s.registry.lookup(addr)
}

func (s *coreSyncer) SyncSecondary(ctx context.Context, r voterstore.Replica, key string, seq int64, value voterstore.Value) error {
	peer, ok := s.peerFor(r.Instance.Id)
	if !ok {
		return federrors.New(federrors.EndpointNotFound)
	}
	rs := peer.Voters.ReplicaSet()
	return peer.Voters.AcceptSync(rs, key, seq, value)
}

func (s *coreSyncer) Introduce(ctx context.Context, r voterstore.Replica) (uint64, error) {
	peer, ok := s.peerFor(r.Instance.Id)
	if !ok {
		return 0, federrors.New(federrors.EndpointNotFound)
	}
	return peer.Voters.ReplicaSet().Generation, nil
}

func (s *coreSyncer) Progress(ctx context.Context, r voterstore.Replica) (int64, error) {
	peer, ok := s.peerFor(r.Instance.Id)
	if !ok {
		return 0, federrors.New(federrors.EndpointNotFound)
	}
	_, seq, _, err := peer.Voters.Read(mostRecentKeyPlaceholder)
	if err != nil {
		return 0, nil // a non-primary peer has nothing to report; not fatal to failover
	}
	return seq, nil
}

// mostRecentKeyPlaceholder stands in for a real deployment's "highest
// sequence across all keys" query; this repo's in-memory Store only
// exposes per-key Read, so Progress here approximates against the
// well-known epoch key rather than scanning every key.
const mostRecentKeyPlaceholder = globaltime.EpochKey

// routingAdapter bridges the generic application LocalHandler into
// routing.LocalHandler.
type routingAdapter struct{ app LocalHandler }

func (a *routingAdapter) Deliver(ctx context.Context, msg routing.Message) ([]byte, error) {
	if a.app == nil {
		return nil, nil
	}
	return a.app.Deliver(ctx, msg.Payload)
}

// broadcastAdapter bridges LocalHandler into broadcast.LocalHandler.
type broadcastAdapter struct{ app LocalHandler }

func (a *broadcastAdapter) Deliver(ctx context.Context, env broadcast.Envelope) ([]byte, bool) {
	if a.app == nil {
		return nil, false
	}
	reply, err := a.app.Deliver(ctx, env.Payload)
	if err != nil {
		return nil, false
	}
	return reply, reply != nil
}

// multicastAdapter bridges LocalHandler into multicast.LocalHandler.
type multicastAdapter struct{ app LocalHandler }

func (a *multicastAdapter) Deliver(ctx context.Context, env multicast.Envelope) ([]byte, bool) {
	if a.app == nil {
		return nil, false
	}
	reply, err := a.app.Deliver(ctx, env.Payload)
	if err != nil {
		return nil, false
	}
	return reply, reply != nil
}
