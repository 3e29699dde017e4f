package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// expiringSet suppresses duplicate broadcast_ids for BroadcastContextKeepDuration
// (spec §4.9). No pack TTL-cache library is a better fit for a single
// write-once, self-expiring id set than a small guarded map plus
// time.AfterFunc — see DESIGN.md.
type expiringSet struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[uuid.UUID]struct{}
}

func newExpiringSet(ttl time.Duration) *expiringSet {
	return &expiringSet{ttl: ttl, ids: make(map[uuid.UUID]struct{})}
}

// Add records id without checking membership.
func (s *expiringSet) Add(id uuid.UUID) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	s.expireAfter(id)
}

// SeenOrAdd reports whether id was already present, adding it if not.
func (s *expiringSet) SeenOrAdd(id uuid.UUID) bool {
	s.mu.Lock()
	_, seen := s.ids[id]
	if !seen {
		s.ids[id] = struct{}{}
	}
	s.mu.Unlock()
	if !seen {
		s.expireAfter(id)
	}
	return seen
}

func (s *expiringSet) expireAfter(id uuid.UUID) {
	time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		delete(s.ids, id)
		s.mu.Unlock()
	})
}
