package trust

import (
	"sync"
	"time"
)

// State is the per-identity suspicion record. All mutation goes through the
// Ledger, which serializes access per identity via the entry lock.
type State struct {
	mu       sync.Mutex
	score    float64
	lastSeen time.Time
	recent   []time.Time
}

// Ledger tracks suspicion state per identity with time-based decay. Entries
// are created lazily on first reference.
type Ledger struct {
	mu             sync.RWMutex
	states         map[string]*State
	decayWindow    time.Duration
	burstWindow    time.Duration
	burstThreshold int
}

// NewLedger creates a Ledger. decayWindow controls how fast suspicion fades;
// burstWindow bounds the sliding activity window used for burst detection, and
// burstThreshold is the request count inside that window above which the burst
// penalty applies (DefaultBurstThreshold when non-positive).
func NewLedger(decayWindow, burstWindow time.Duration, burstThreshold int) *Ledger {
	if burstThreshold <= 0 {
		burstThreshold = DefaultBurstThreshold
	}
	return &Ledger{
		states:         make(map[string]*State),
		decayWindow:    decayWindow,
		burstWindow:    burstWindow,
		burstThreshold: burstThreshold,
	}
}

func (l *Ledger) getOrCreate(identity string) *State {
	l.mu.RLock()
	st, ok := l.states[identity]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.states[identity]; ok {
		return st
	}
	st = &State{lastSeen: time.Now()}
	l.states[identity] = st
	return st
}

// decayLocked applies time decay to st.score. Caller must hold st.mu.
// The floor multiplier of 0.5 keeps a single long absence from erasing
// suspicion outright while still shrinking it monotonically toward zero.
func (l *Ledger) decayLocked(st *State, now time.Time) {
	dt := now.Sub(st.lastSeen)
	if dt > 0 {
		mult := 1 - float64(dt)/float64(l.decayWindow)
		if mult < 0.5 {
			mult = 0.5
		}
		st.score *= mult
	}
	st.lastSeen = now
}

// Score decays the identity's suspicion to the given time and returns it.
// Decay runs before every read used in a decision so the score reflects
// current time, not last-write time.
func (l *Ledger) Score(identity string, now time.Time) float64 {
	st := l.getOrCreate(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	l.decayLocked(st, now)
	return st.score
}

// RecordActivity appends now to the identity's sliding window and prunes
// entries older than the burst window.
func (l *Ledger) RecordActivity(identity string, now time.Time) {
	st := l.getOrCreate(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.recent = append(st.recent, now)
	cutoff := now.Add(-l.burstWindow)
	i := 0
	for i < len(st.recent) && st.recent[i].Before(cutoff) {
		i++
	}
	st.recent = st.recent[i:]
}

// Discount reduces standing suspicion by the given factor. Applied after a
// successful solve to credit proven-costly interactions.
func (l *Ledger) Discount(identity string, factor float64) {
	st := l.getOrCreate(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.score *= factor
}

// Size returns the number of tracked identities.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.states)
}
