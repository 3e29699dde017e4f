package voterstore

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/federation/internal/federrors"
)

// Failover promotes this secondary to primary after the previous primary
// is declared down by arbitration (spec §4.7 "Primary failover"). It fans
// out ProgressRequest to every other live replica to learn the highest
// committed sequence before accepting new writes, then bumps the replica
// set's epoch using localIndex as a tiebreak so two secondaries racing to
// take over can never settle on the same epoch:
//
//	epoch' = epoch + (localIndex * 0x100000000 + 1)
//
// localIndex is this replica's position within the replica set as of the
// generation in force when failover began; membership does not change
// mid-failover, so the index is stable for the duration of this call.
//
// The new primary adopts the max sequence any live peer reported and
// drops down replicas from the promoted replica set (spec §4.7). Syncer's
// Progress only reports a sequence number, not the entries past ours, so
// this cannot replay values a live secondary has that we are missing; it
// instead refuses reads (see Store.failoverTarget) until our own writes
// carry us past that watermark.
func (s *Store) Failover(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != Secondary {
		s.mu.Unlock()
		return federrors.New(federrors.InvalidConfiguration)
	}
	rs := s.replicaSet
	localIndex := rs.IndexOf(s.self.Id)
	s.phase = BecomePrimary
	s.mu.Unlock()

	live := rs.LiveReplicas()
	var mu sync.Mutex
	var peerHighest int64
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range live {
		if r.Instance.Id.Equal(s.self.Id) {
			continue
		}
		r := r
		g.Go(func() error {
			seq, err := s.syncer.Progress(gctx, r)
			if err != nil {
				return nil
			}
			mu.Lock()
			if seq > peerHighest {
				peerHighest = seq
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	newEpoch := rs.Epoch + (uint64(localIndex)*0x100000000 + 1)
	// The primary is Replicas[0], so the promoted set lists this node first.
	promoted := make([]Replica, 0, len(live))
	for _, r := range live {
		if r.Instance.Id.Equal(s.self.Id) {
			promoted = append([]Replica{r}, promoted...)
		} else {
			promoted = append(promoted, r)
		}
	}
	newSet := ReplicaSet{Generation: rs.Generation, Epoch: newEpoch, Replicas: promoted}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != BecomePrimary {
		return federrors.New(federrors.InvalidConfiguration)
	}
	s.replicaSet = newSet
	s.phase = Primary
	if peerHighest > s.highestSequence() {
		s.failoverTarget = peerHighest
	}
	if s.metrics != nil {
		s.metrics.VoterFailovers.Inc()
	}
	if s.log != nil && peerHighest > 0 {
		s.log.Debug("voterstore: promoted to primary", "peer_highest_sequence", peerHighest)
	}
	return nil
}
