// Package metrics registers the prometheus collectors shared across the
// federation components, grounded on the teacher's api/metrics registration
// pattern (one struct of collectors, registered once at construction).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge exposed by the federation core. A
// single instance is created by FederationCore and threaded into each
// component constructor rather than relying on package-level globals.
type Metrics struct {
	TokenMerges        prometheus.Counter
	TokenMergeRejects  prometheus.Counter
	TokenSplits        prometheus.Counter
	RoutingTableSize   prometheus.Gauge
	RoutingTableEvicts prometheus.Counter
	BroadcastsStarted  prometheus.Counter
	BroadcastAcks      prometheus.Counter
	BroadcastDuplicate prometheus.Counter
	MulticastsStarted  prometheus.Counter
	VoterWrites        prometheus.Counter
	VoterConflicts     prometheus.Counter
	VoterFailovers     prometheus.Counter
	ArbitrationVotes   prometheus.Counter
	EmptyTokenForwards prometheus.Counter
	JoinAttempts       prometheus.Counter
	JoinFailures       prometheus.Counter
	PingTimeouts       prometheus.Counter
	UpdateRoundsCompleted prometheus.Counter
	GlobalTimeEpochBumps prometheus.Counter
}

// New creates and registers all collectors against reg. Passing a fresh
// prometheus.Registry per test keeps suites isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_token_merges_total",
			Help: "RoutingToken.accept calls that merged successfully.",
		}),
		TokenMergeRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_token_merge_rejects_total",
			Help: "RoutingToken.accept calls rejected by merge-safety (version regression).",
		}),
		TokenSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_token_splits_total",
			Help: "Token split/release operations performed.",
		}),
		RoutingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "federation_routing_table_size",
			Help: "Current number of PartnerNode entries held.",
		}),
		RoutingTableEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_routing_table_evictions_total",
			Help: "Entries dropped by the compaction policy.",
		}),
		BroadcastsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_broadcasts_started_total",
			Help: "Reliable broadcasts initiated locally.",
		}),
		BroadcastAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_broadcast_acks_total",
			Help: "Sub-range acks collected for reliable broadcasts.",
		}),
		BroadcastDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_broadcast_duplicates_total",
			Help: "Broadcast messages suppressed as duplicates of a known broadcast_id.",
		}),
		MulticastsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_multicasts_started_total",
			Help: "Multicasts initiated locally.",
		}),
		VoterWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_voterstore_writes_total",
			Help: "Writes committed at the voter-store primary.",
		}),
		VoterConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_voterstore_conflicts_total",
			Help: "Writes rejected with StoreWriteConflict.",
		}),
		VoterFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_voterstore_failovers_total",
			Help: "Primary failovers completed.",
		}),
		ArbitrationVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_arbitration_votes_total",
			Help: "Arbitration replies cast by this voter.",
		}),
		EmptyTokenForwards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_empty_token_forwards_total",
			Help: "Addressed traffic forwarded by a Routing node whose token range is Empty.",
		}),
		JoinAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_join_attempts_total",
			Help: "Join handshake attempts started.",
		}),
		JoinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_join_failures_total",
			Help: "Join handshake attempts that timed out or were NACKed.",
		}),
		PingTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_ping_timeouts_total",
			Help: "Ping probes that did not receive a reply in time.",
		}),
		UpdateRoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_update_rounds_completed_total",
			Help: "UpdateManager gossip rounds that received a reply.",
		}),
		GlobalTimeEpochBumps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "federation_global_time_epoch_bumps_total",
			Help: "Leader-driven GlobalTimestampEpoch read-modify-write commits.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.TokenMerges, m.TokenMergeRejects, m.TokenSplits,
		m.RoutingTableSize, m.RoutingTableEvicts,
		m.BroadcastsStarted, m.BroadcastAcks, m.BroadcastDuplicate,
		m.MulticastsStarted,
		m.VoterWrites, m.VoterConflicts, m.VoterFailovers,
		m.ArbitrationVotes, m.EmptyTokenForwards,
		m.JoinAttempts, m.JoinFailures, m.PingTimeouts,
		m.UpdateRoundsCompleted, m.GlobalTimeEpochBumps,
	} {
		reg.MustRegister(c)
	}
	return m
}

// NewUnregistered builds a Metrics bundle that is safe to use in tests
// without a shared registry (each collector is registered only with a
// fresh private registry).
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
