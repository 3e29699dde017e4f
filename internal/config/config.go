// Package config decodes the tuning knobs and voter list from spec §6 out
// of YAML, following the teacher's use of gopkg.in/yaml.v3 for process
// configuration.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// VoteType enumerates the recognized voter-seat backing kinds (§6 Votes).
type VoteType string

const (
	SeedNode     VoteType = "SeedNode"
	SqlServer    VoteType = "SqlServer"
	WindowsAzure VoteType = "WindowsAzure"
)

// Vote is one statically configured voter seat. The set of votes is
// identical on every node; membership is a cluster constant (spec §3).
type Vote struct {
	ID               string   `yaml:"id"`
	Type             VoteType `yaml:"type"`
	ConnectionString string   `yaml:"connection_string"`
	RingName         string   `yaml:"ring_name"`
}

// Config is the recognized set of tuning options from spec §6.
type Config struct {
	NeighborhoodSize int `yaml:"neighborhood_size"`

	MessageTimeout     time.Duration `yaml:"message_timeout"`
	RoutingRetryTimeout time.Duration `yaml:"routing_retry_timeout"`
	JoinLockDuration   time.Duration `yaml:"join_lock_duration"`
	PingInterval       time.Duration `yaml:"ping_interval"`

	BroadcastContextKeepDuration time.Duration `yaml:"broadcast_context_keep_duration"`
	BroadcastStepCountMax        int           `yaml:"broadcast_step_count_max"`
	MaxNeighborhoodHeaders       int           `yaml:"max_neighborhood_headers"`
	MaxUpdateTarget              int           `yaml:"max_update_target"`
	UpdateInterval               time.Duration `yaml:"update_interval"`

	RoutingTableCapacity        int           `yaml:"routing_table_capacity"`
	RoutingTableCompactInterval time.Duration `yaml:"routing_table_compact_interval"`

	VoterStoreRetryInterval        time.Duration `yaml:"voter_store_retry_interval"`
	VoterStoreBootstrapWaitInterval time.Duration `yaml:"voter_store_bootstrap_wait_interval"`
	VoterStoreLivenessCheckInterval time.Duration `yaml:"voter_store_liveness_check_interval"`

	GlobalTimeUncertaintyMaxIncrease time.Duration `yaml:"global_time_uncertainty_max_increase"`
	GlobalTimeUncertaintyMaxDecrease time.Duration `yaml:"global_time_uncertainty_max_decrease"`
	GlobalTimeClockDriftRatio        float64       `yaml:"global_time_clock_drift_ratio"`
	GlobalTimeNewEpochWaitInterval   time.Duration `yaml:"global_time_new_epoch_wait_interval"`
	GlobalTimeTraceInterval          time.Duration `yaml:"global_time_trace_interval"`

	UnknownNodeProbeTimeout time.Duration `yaml:"unknown_node_probe_timeout"`

	Votes []Vote `yaml:"votes"`
}

// RecoveryIncrement is the token-version delta (§4.1) beyond which an
// incoming merge is treated as a recovery event, not a normal increment.
const RecoveryIncrement uint64 = 1 << 32

// Default returns the tuning defaults named throughout spec §6.
func Default() *Config {
	return &Config{
		NeighborhoodSize:                 2,
		MessageTimeout:                   5 * time.Second,
		RoutingRetryTimeout:              2 * time.Second,
		JoinLockDuration:                 30 * time.Second,
		PingInterval:                     2 * time.Second,
		BroadcastContextKeepDuration:     2 * time.Minute,
		BroadcastStepCountMax:            3,
		MaxNeighborhoodHeaders:           8,
		MaxUpdateTarget:                  8,
		UpdateInterval:                   10 * time.Second,
		RoutingTableCapacity:             256,
		RoutingTableCompactInterval:      time.Minute,
		VoterStoreRetryInterval:          time.Second,
		VoterStoreBootstrapWaitInterval:  5 * time.Second,
		VoterStoreLivenessCheckInterval:  3 * time.Second,
		GlobalTimeUncertaintyMaxIncrease: 50 * time.Millisecond,
		GlobalTimeUncertaintyMaxDecrease: 20 * time.Millisecond,
		GlobalTimeClockDriftRatio:        0.0002,
		GlobalTimeNewEpochWaitInterval:   30 * time.Second,
		GlobalTimeTraceInterval:          time.Minute,
		UnknownNodeProbeTimeout:          2 * time.Second,
	}
}

// Parse decodes a YAML document into a Config seeded with defaults.
func Parse(doc []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(doc, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
