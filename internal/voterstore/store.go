package voterstore

import (
	"context"
	"sync"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/ringid"
)

// StoreEntry is the committed/pending pair for one key (spec §3, §4.7).
// Current is the committed value; Pending is accepted by the primary but
// not yet acked by a write quorum. At most one Pending per key at a time;
// a second concurrent write on the same key is queued, never pipelined.
type StoreEntry struct {
	Sequence        int64
	Current         Value
	Pending         Value
	PendingSequence int64
	queue           []*writeRequest
}

type writeRequest struct {
	key           string
	value         Value
	checkSequence int64
	reply         chan WriteResult
}

// WriteResult is returned to a Write caller exactly once per request id
// (spec §4.7 invariant), emitted on commit.
type WriteResult struct {
	Sequence   int64
	Generation uint64
	Err        error
}

// Syncer replicates a pending write to a secondary and reports whether it
// acked. The composition root implements this over P2P/transport; voter
// store logic never touches the wire directly.
type Syncer interface {
	SyncSecondary(ctx context.Context, replica Replica, key string, seq int64, value Value) error
	// Introduce probes a candidate voter during bootstrap, returning the
	// generation it last observed so the new leader can compute
	// max(old_generation+1) across the responding quorum.
	Introduce(ctx context.Context, replica Replica) (generation uint64, err error)
	// Progress is used during failover to learn a secondary's highest
	// committed sequence so the new primary can catch up before serving.
	Progress(ctx context.Context, replica Replica) (sequence int64, err error)
}

// Store is one voter's quorum-replicated KV process (component G).
type Store struct {
	log     log.Logger
	metrics *metrics.Metrics
	syncer  Syncer

	mu               sync.Mutex
	self             ringid.NodeInstance
	phase            Phase
	replicaSet       ReplicaSet
	entries          map[string]*StoreEntry
	generationHWM    uint64 // set by Bootstrap to one more than the highest generation any acking voter reported
	configurationSeq int64  // >0 while a newly joined replica is catching up (spec §3 "Membership change")
	failoverTarget   int64  // >0 after Failover until local writes reach the highest sequence a live peer reported (spec §4.7)
}

// New creates a Store for a statically configured voter seat. Per
// DESIGN.md's open-question decision, at most one local process may own a
// given voter id — callers must not construct two Stores for the same
// self.Id in one process.
func New(self ringid.NodeInstance, syncer Syncer, logger log.Logger, m *metrics.Metrics) *Store {
	return &Store{
		log:     logger,
		metrics: m,
		syncer:  syncer,
		self:    self,
		phase:   Uninitialized,
		entries: make(map[string]*StoreEntry),
	}
}

func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Store) ReplicaSet() ReplicaSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicaSet
}

// Read serves the committed value only (spec §4.7 "Read").
func (s *Store) Read(key string) (Value, int64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case Primary:
		// fallthrough to normal read
	case BecomePrimary:
		return nil, 0, 0, federrors.New(federrors.NotReady)
	default:
		return nil, 0, 0, federrors.New(federrors.NotPrimary)
	}
	if s.failoverTarget > 0 {
		return nil, 0, 0, federrors.New(federrors.NotReady)
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, 0, s.replicaSet.Generation, nil
	}
	return e.Current, e.Sequence, s.replicaSet.Generation, nil
}

// Write performs a steady-state write at the primary (spec §4.7). A
// negative checkSequence disables the optimistic-concurrency check.
func (s *Store) Write(ctx context.Context, key string, value Value, checkSequence int64) (int64, error) {
	s.mu.Lock()
	if s.phase != Primary {
		s.mu.Unlock()
		return 0, federrors.New(federrors.NotPrimary)
	}
	e, ok := s.entries[key]
	if !ok {
		e = &StoreEntry{}
		s.entries[key] = e
	}
	if checkSequence >= 0 && e.Sequence != checkSequence {
		seq := e.Sequence
		s.mu.Unlock()
		return seq, federrors.Wrap(federrors.StoreWriteConflict, errConflict(seq))
	}
	if e.Pending != nil {
		// A second concurrent write on the same key: queue it, do not
		// pipeline two pendings (spec §4.7 step 4).
		done := make(chan WriteResult, 1)
		e.queue = append(e.queue, &writeRequest{key: key, value: value, checkSequence: checkSequence, reply: done})
		s.mu.Unlock()
		select {
		case r := <-done:
			return r.Sequence, r.Err
		case <-ctx.Done():
			return 0, federrors.New(federrors.OperationCanceled)
		}
	}

	seq := e.Sequence + 1
	e.Pending = value
	e.PendingSequence = seq
	replicaSet := s.replicaSet
	s.mu.Unlock()

	if err := s.syncToQuorum(ctx, replicaSet, key, seq, value); err != nil {
		s.mu.Lock()
		e.Pending = nil
		s.mu.Unlock()
		return 0, err
	}

	s.mu.Lock()
	e.Current = value
	e.Sequence = seq
	e.Pending = nil
	if s.failoverTarget > 0 && s.highestSequence() >= s.failoverTarget {
		s.failoverTarget = 0
	}
	s.dequeueNextLocked(key, e)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.VoterWrites.Inc()
	}
	return seq, nil
}

func (s *Store) dequeueNextLocked(key string, e *StoreEntry) {
	if len(e.queue) == 0 {
		return
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	generation := s.replicaSet.Generation
	go func() {
		seq, err := s.Write(context.Background(), next.key, next.value, next.checkSequence)
		next.reply <- WriteResult{Sequence: seq, Err: err, Generation: generation}
	}()
}

// syncToQuorum broadcasts SyncRequest to every live secondary and waits
// until the write quorum has acked (spec §4.7 step 2-3).
func (s *Store) syncToQuorum(ctx context.Context, rs ReplicaSet, key string, seq int64, value Value) error {
	live := rs.LiveReplicas()
	if len(live) < rs.WriteQuorumSize() {
		return federrors.New(federrors.NoWriteQuorum)
	}
	if len(live) <= 1 {
		// Sole live replica is the primary itself.
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	acked := make(chan struct{}, len(live))
	for _, r := range live {
		if r.Instance.Id.Equal(s.self.Id) {
			continue
		}
		r := r
		g.Go(func() error {
			if err := s.syncer.SyncSecondary(gctx, r, key, seq, value); err != nil {
				return nil // secondary failure does not fail the whole write; quorum math below decides
			}
			acked <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	close(acked)

	ackCount := 1 // primary counts itself
	for range acked {
		ackCount++
	}
	if ackCount < rs.WriteQuorumSize() {
		return federrors.New(federrors.NoWriteQuorum)
	}
	return nil
}

type conflictErr struct{ seq int64 }

func errConflict(seq int64) error { return &conflictErr{seq: seq} }
func (e *conflictErr) Error() string { return "voterstore: sequence mismatch" }

// ReadModifyWrite is the external read-modify-write helper (spec §4.7): a
// read followed by a write with the read's sequence as check_sequence. On
// StoreWriteConflict it re-reads and retries the generator, up to
// maxAttempts times. This is the mechanism GlobalTimeManager uses to bump
// GlobalTimestampEpoch.
func (s *Store) ReadModifyWrite(ctx context.Context, key string, maxAttempts int, gen func(current Value, ok bool) Value) (int64, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		cur, seq, _, err := s.Read(key)
		if err != nil {
			return 0, err
		}
		next := gen(cur, cur != nil)
		newSeq, err := s.Write(ctx, key, next, seq)
		if err == nil {
			return newSeq, nil
		}
		if code, ok := federrors.CodeOf(err); !ok || code != federrors.StoreWriteConflict {
			return 0, err
		}
		lastErr = err
		if s.metrics != nil {
			s.metrics.VoterConflicts.Inc()
		}
	}
	return 0, lastErr
}
