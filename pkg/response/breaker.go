package response

import (
	"sync"
	"time"

	"github.com/axiestudio/aichatbot-sub000/internal/syncutil"
)

// BreakerState is one of the three circuit positions.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes every per-identity circuit.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects before allowing the
	// half-open trial.
	Cooldown time.Duration
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
}

// breaker carries its own mutex: the request path mutates it under the
// identity's shard lock, while Snapshot and Sweep reach records straight
// from the map, so field access needs a lock both sides hold.
type breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	successCount  int
	lastFailure   time.Time
	lastTouched   time.Time
	trialInFlight bool
}

// BreakerSnapshot is one circuit's state for the ops surface.
type BreakerSnapshot struct {
	Identity     string       `json:"identity"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
}

// BreakerSet drives one circuit per identity. Transitions run under the
// identity's shard lock; the injectable clock lets tests walk the state
// machine without real time.
type BreakerSet struct {
	cfg   BreakerConfig
	now   func() time.Time
	locks syncutil.KeyMutex

	mu       sync.RWMutex
	breakers map[string]*breaker

	// OnTransition, when set, observes every state change. Used for
	// metrics; must not block.
	OnTransition func(identity string, from, to BreakerState)
}

func NewBreakerSet(cfg BreakerConfig, now func() time.Time) *BreakerSet {
	cfg.applyDefaults()
	if now == nil {
		now = time.Now
	}
	return &BreakerSet{
		cfg:      cfg,
		now:      now,
		breakers: make(map[string]*breaker),
	}
}

// Allow reports whether traffic for the identity may proceed. Open
// circuits reject until the cooldown since the last failure has elapsed,
// then flip to half-open and admit exactly one trial; further requests
// are rejected until that trial resolves.
func (s *BreakerSet) Allow(identity string) (bool, BreakerState) {
	release := s.locks.Lock(identity)
	defer release()

	b := s.get(identity)
	if b == nil {
		return true, StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTouched = s.now()

	switch b.state {
	case StateOpen:
		if s.now().Sub(b.lastFailure) < s.cfg.Cooldown {
			return false, StateOpen
		}
		s.transition(identity, b, StateHalfOpen)
		b.trialInFlight = true
		return true, StateHalfOpen
	case StateHalfOpen:
		if b.trialInFlight {
			return false, StateHalfOpen
		}
		b.trialInFlight = true
		return true, StateHalfOpen
	default:
		return true, StateClosed
	}
}

// RecordFailure notes one failure for the identity: a threat event at
// high or critical level, or a failed recovery trial. Reaching the
// threshold opens the circuit; a half-open failure reopens it and resets
// the cooldown clock.
func (s *BreakerSet) RecordFailure(identity string) BreakerState {
	release := s.locks.Lock(identity)
	defer release()

	b := s.getOrCreate(identity)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.now()
	b.lastTouched = now

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.lastFailure = now
		s.transition(identity, b, StateOpen)
	case StateClosed:
		b.failureCount++
		b.lastFailure = now
		if b.failureCount >= s.cfg.FailureThreshold {
			s.transition(identity, b, StateOpen)
		}
	}
	return b.state
}

// RecordSuccess notes one clean request. A successful half-open trial
// closes the circuit and resets the failure count; in closed state it
// breaks any failure streak.
func (s *BreakerSet) RecordSuccess(identity string) BreakerState {
	release := s.locks.Lock(identity)
	defer release()

	b := s.get(identity)
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTouched = s.now()
	b.successCount++

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.failureCount = 0
		s.transition(identity, b, StateClosed)
	case StateClosed:
		b.failureCount = 0
	}
	return b.state
}

// State reports the identity's current circuit position without
// advancing it.
func (s *BreakerSet) State(identity string) BreakerState {
	release := s.locks.Lock(identity)
	defer release()

	if b := s.get(identity); b != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.state
	}
	return StateClosed
}

// Snapshot lists every tracked circuit for the ops surface.
func (s *BreakerSet) Snapshot() []BreakerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(s.breakers))
	for identity, b := range s.breakers {
		b.mu.Lock()
		out = append(out, BreakerSnapshot{
			Identity:     identity,
			State:        b.state,
			FailureCount: b.failureCount,
			SuccessCount: b.successCount,
			LastFailure:  b.lastFailure,
		})
		b.mu.Unlock()
	}
	return out
}

// Sweep drops closed circuits untouched for longer than idle. Janitor
// work; open and half-open circuits are always kept. Candidates are
// collected first, then each is re-checked under its identity's shard
// lock so a record is never removed while a request-path writer holds it.
func (s *BreakerSet) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.RLock()
	candidates := make([]string, 0, len(s.breakers))
	for identity, b := range s.breakers {
		b.mu.Lock()
		stale := b.state == StateClosed && b.lastTouched.Before(cutoff)
		b.mu.Unlock()
		if stale {
			candidates = append(candidates, identity)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, identity := range candidates {
		release := s.locks.Lock(identity)
		s.mu.Lock()
		if b, ok := s.breakers[identity]; ok {
			b.mu.Lock()
			if b.state == StateClosed && b.lastTouched.Before(cutoff) {
				delete(s.breakers, identity)
				removed++
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()
		release()
	}
	return removed
}

func (s *BreakerSet) get(identity string) *breaker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breakers[identity]
}

func (s *BreakerSet) getOrCreate(identity string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[identity]; ok {
		return b
	}
	b := &breaker{state: StateClosed}
	s.breakers[identity] = b
	return b
}

func (s *BreakerSet) transition(identity string, b *breaker, to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if s.OnTransition != nil {
		s.OnTransition(identity, from, to)
	}
}
