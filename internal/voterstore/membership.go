package voterstore

import (
	"context"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/ringid"
)

// highestSequence returns the highest committed sequence across all keys,
// used as the catch-up watermark for a newly joining replica.
func (s *Store) highestSequence() int64 {
	var hi int64
	for _, e := range s.entries {
		if e.Sequence > hi {
			hi = e.Sequence
		}
	}
	return hi
}

// Join admits a new voter into the replica set (spec §3 "Membership
// change"). It must be called at the primary. The new replica is added at
// sequence 0 and the primary enters a catch-up window, set by
// configuration_sequence = highest_sequence, during which no further
// configuration change is accepted (spec §3's "suppresses new
// configuration changes" rule) until the joiner has synced up to that
// watermark via ordinary SyncSecondary replication.
func (s *Store) Join(ctx context.Context, voter ringid.NodeInstance) error {
	s.mu.Lock()
	if s.phase != Primary {
		s.mu.Unlock()
		return federrors.New(federrors.NotPrimary)
	}
	if s.configurationSeq > 0 {
		s.mu.Unlock()
		return federrors.New(federrors.UpdatePending)
	}
	if s.replicaSet.IndexOf(voter.Id) >= 0 {
		s.mu.Unlock()
		return federrors.New(federrors.AlreadyExists)
	}

	replicas := append(append([]Replica{}, s.replicaSet.Replicas...), Replica{Instance: voter})
	s.replicaSet = ReplicaSet{
		Generation: s.replicaSet.Generation,
		Epoch:      s.replicaSet.Epoch + 1,
		Replicas:   replicas,
	}
	s.configurationSeq = s.highestSequence()
	s.mu.Unlock()
	return nil
}

// CatchUpComplete reports that the joining replica's SyncSecondary stream
// has reached configuration_sequence, closing the catch-up window so
// normal membership changes can resume.
func (s *Store) CatchUpComplete(joinerSequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configurationSeq > 0 && joinerSequence >= s.configurationSeq {
		s.configurationSeq = 0
	}
}

// CatchingUp reports whether a membership change is in its catch-up
// window and, if so, the joining replica's id. syncToQuorum does not
// consult it: writes during the window still go to every live replica.
func (s *Store) CatchingUp() (ringid.NodeId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configurationSeq == 0 || len(s.replicaSet.Replicas) == 0 {
		return ringid.NodeId{}, false
	}
	return s.replicaSet.Replicas[len(s.replicaSet.Replicas)-1].Instance.Id, true
}
