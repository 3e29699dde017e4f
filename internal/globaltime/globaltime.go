// Package globaltime implements the bounded global-time interval tracked
// across the ring (spec §4.12, component L). Grounded on the teacher's
// uptime/manager.go clock-relative interval idiom, generalized from a
// single connected/disconnected duration to a widening (lower, upper)
// wall-clock bound refreshed by gossip.
package globaltime

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/metrics"
	"github.com/luxfi/federation/internal/voterstore"
)

// EpochKey is the voter-store key under which the current global-time
// epoch lives.
const EpochKey = "GlobalTimestampEpoch"

// Exchange is the header piggybacked on every routed reply (spec §4.12).
type Exchange struct {
	Epoch              uint64
	SendTime           time.Time
	SenderLowerLimit   time.Time
	ReceiverUpperLimit time.Time
}

// Manager tracks this node's (lower_limit, upper_limit) global-time
// interval and the epoch it was last refreshed against.
type Manager struct {
	log     log.Logger
	metrics *metrics.Metrics
	store   *voterstore.Store

	driftRatio       float64
	maxIncrease      time.Duration
	maxDecrease      time.Duration
	newEpochInterval time.Duration

	mu       sync.Mutex
	epoch    uint64
	lower    time.Time
	upper    time.Time
	anchor   time.Time // local wall-clock at which lower/upper were last set
}

func NewManager(store *voterstore.Store, driftRatio float64, maxIncrease, maxDecrease, newEpochInterval time.Duration, logger log.Logger, m *metrics.Metrics) *Manager {
	now := time.Now()
	return &Manager{
		log:              logger,
		metrics:          m,
		store:            store,
		driftRatio:       driftRatio,
		maxIncrease:      maxIncrease,
		maxDecrease:      maxDecrease,
		newEpochInterval: newEpochInterval,
		lower:            now,
		upper:            now,
		anchor:           now,
	}
}

// Now returns the current (lower, upper) bound, widened for drift since
// the interval was last anchored.
func (m *Manager) Now() (time.Time, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.widenLocked()
}

func (m *Manager) widenLocked() (time.Time, time.Time) {
	elapsed := time.Since(m.anchor)
	drift := time.Duration(float64(elapsed) * m.driftRatio)
	if drift > m.maxIncrease {
		drift = m.maxIncrease
	}
	lower := m.lower.Add(-drift)
	upper := m.upper.Add(drift)
	m.lower, m.upper, m.anchor = lower, upper, time.Now()
	return lower, upper
}

// BuildExchange packages this node's current interval and epoch for
// piggybacking on an outgoing routed reply.
func (m *Manager) BuildExchange() Exchange {
	lower, upper := m.Now()
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	return Exchange{Epoch: epoch, SendTime: time.Now(), SenderLowerLimit: lower, ReceiverUpperLimit: upper}
}

// Accept processes an incoming Exchange header (spec §4.12): if the
// remote epoch is strictly higher, its interval is adopted outright. At
// the same epoch, a remote interval lying wholly outside ours (its lower
// limit after our upper limit, or its upper limit before our lower limit;
// no tolerance is applied) is also adopted; otherwise each remote bound
// that is tighter than ours replaces it. An exchange from a lower epoch
// is ignored.
func (m *Manager) Accept(ex Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widenLockedNoReturn()

	contradicts := ex.SenderLowerLimit.After(m.upper) || ex.ReceiverUpperLimit.Before(m.lower)
	if ex.Epoch > m.epoch || (contradicts && ex.Epoch >= m.epoch) {
		m.epoch = ex.Epoch
		m.lower = ex.SenderLowerLimit
		m.upper = ex.ReceiverUpperLimit
		m.anchor = time.Now()
		return
	}
	if ex.Epoch < m.epoch {
		return
	}
	if ex.SenderLowerLimit.After(m.lower) {
		m.lower = ex.SenderLowerLimit
	}
	if ex.ReceiverUpperLimit.Before(m.upper) {
		m.upper = ex.ReceiverUpperLimit
	}
}

func (m *Manager) widenLockedNoReturn() {
	elapsed := time.Since(m.anchor)
	drift := time.Duration(float64(elapsed) * m.driftRatio)
	if drift > m.maxIncrease {
		drift = m.maxIncrease
	}
	m.lower = m.lower.Add(-drift)
	m.upper = m.upper.Add(drift)
	m.anchor = time.Now()
}

// BumpEpoch runs the leader's periodic read-modify-write against
// EpochKey (spec §4.12), deterministically shrinking the uncertainty
// interval by GlobalTimeUncertaintyMaxDecrease once the new epoch commits.
func (m *Manager) BumpEpoch(ctx context.Context) error {
	var newEpoch uint64
	_, err := m.store.ReadModifyWrite(ctx, EpochKey, 5, func(current voterstore.Value, ok bool) voterstore.Value {
		var n uint64
		if ok {
			if sc, isSC := current.(voterstore.SequenceCounter); isSC {
				n = sc.N
			}
		}
		newEpoch = n + 1
		return voterstore.SequenceCounter{N: newEpoch}
	})
	if err != nil {
		if code, has := federrors.CodeOf(err); has && code == federrors.NotPrimary {
			return nil // only the primary runs this; not an error for followers
		}
		return err
	}

	m.mu.Lock()
	m.epoch = newEpoch
	m.upper = m.upper.Add(-m.maxDecrease)
	if m.upper.Before(m.lower) {
		m.upper = m.lower
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.GlobalTimeEpochBumps.Inc()
	}
	if m.log != nil {
		m.log.Debug("globaltime: epoch bumped", "epoch", newEpoch)
	}
	return nil
}

// Epoch returns the locally known epoch.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}
