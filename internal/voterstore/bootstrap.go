package voterstore

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/ringid"
)

// Bootstrap runs the Introduce/Bootstrap sequence of spec §4.7 against a
// statically configured voter seat list. It blocks until self has become
// Primary or Secondary, or returns an error if a write-majority of voters
// could not be reached.
//
// Leader election for a brand-new replica set is by smallest NodeId among
// the voters that acked Introduce (spec §4.7 step 3: "accepts ... if our
// id is smaller"). The new generation is one more than the highest
// generation reported by any voter that responded, this node's own
// high-water mark included; no leader_instance tick enters it.
func (s *Store) Bootstrap(ctx context.Context, seats []ringid.NodeInstance) error {
	s.mu.Lock()
	s.phase = Introduce
	s.mu.Unlock()

	type ack struct {
		inst ringid.NodeInstance
		gen  uint64
	}
	acks := make([]ack, 0, len(seats))
	results := make(chan ack, len(seats))
	g, gctx := errgroup.WithContext(ctx)
	for _, seat := range seats {
		seat := seat
		g.Go(func() error {
			if seat.Id.Equal(s.self.Id) {
				results <- ack{inst: seat, gen: s.generationHWM}
				return nil
			}
			gen, err := s.syncer.Introduce(gctx, Replica{Instance: seat})
			if err != nil {
				return nil // non-responding voter does not fail bootstrap
			}
			results <- ack{inst: seat, gen: gen}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for a := range results {
		acks = append(acks, a)
	}

	quorum := len(seats)/2 + 1
	if len(acks) < quorum {
		s.mu.Lock()
		s.phase = Invalid
		s.mu.Unlock()
		return federrors.New(federrors.NoWriteQuorum)
	}

	s.mu.Lock()
	s.phase = Bootstrap
	s.mu.Unlock()

	sort.Slice(acks, func(i, j int) bool { return acks[i].inst.Id.Less(acks[j].inst.Id) })
	leader := acks[0].inst
	var maxGen uint64
	for _, a := range acks {
		if a.gen > maxGen {
			maxGen = a.gen
		}
	}
	generation := maxGen + 1

	replicas := make([]Replica, 0, len(acks))
	for _, a := range acks {
		replicas = append(replicas, Replica{Instance: a.inst})
	}
	newSet := ReplicaSet{Generation: generation, Epoch: 0, Replicas: replicas}

	s.mu.Lock()
	s.generationHWM = generation
	s.replicaSet = newSet
	if leader.Id.Equal(s.self.Id) {
		s.phase = BecomePrimary
	} else {
		s.phase = BecomeSecondary
	}
	s.mu.Unlock()

	if leader.Id.Equal(s.self.Id) {
		return s.finishBecomePrimary()
	}
	return s.finishBecomeSecondary()
}

func (s *Store) finishBecomePrimary() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != BecomePrimary {
		return federrors.New(federrors.InvalidConfiguration)
	}
	s.phase = Primary
	return nil
}

func (s *Store) finishBecomeSecondary() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != BecomeSecondary {
		return federrors.New(federrors.InvalidConfiguration)
	}
	s.phase = Secondary
	return nil
}

// AcceptSync applies an incoming SyncRequest at a Secondary (spec §4.7).
// Replica sets with an older (generation, epoch) are rejected outright so
// a partitioned former-primary can never overwrite current state.
func (s *Store) AcceptSync(rs ReplicaSet, key string, seq int64, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Secondary && s.phase != BecomeSecondary {
		return federrors.New(federrors.NotReady)
	}
	samePrimary := rs.Generation == s.replicaSet.Generation && rs.Epoch == s.replicaSet.Epoch
	if s.replicaSet.Replicas != nil && !samePrimary && rs.Newer(s.replicaSet) {
		return federrors.New(federrors.StaleRequest)
	}
	s.replicaSet = rs
	e, ok := s.entries[key]
	if !ok {
		e = &StoreEntry{}
		s.entries[key] = e
	}
	if seq <= e.Sequence {
		return federrors.New(federrors.StaleRequest)
	}
	e.Current = value
	e.Sequence = seq
	return nil
}
