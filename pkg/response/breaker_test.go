package response_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/response"
)

// fakeClock drives breaker transitions without real time.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, clock.Now)

	for i := 0; i < 2; i++ {
		assert.Equal(t, response.StateClosed, set.RecordFailure("alice"))
	}
	assert.Equal(t, response.StateOpen, set.RecordFailure("alice"))

	allowed, state := set.Allow("alice")
	assert.False(t, allowed)
	assert.Equal(t, response.StateOpen, state)
}

func TestSuccessBreaksFailureStreak(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, clock.Now)

	set.RecordFailure("bob")
	set.RecordFailure("bob")
	set.RecordSuccess("bob")
	set.RecordFailure("bob")
	set.RecordFailure("bob")
	assert.Equal(t, response.StateClosed, set.State("bob"), "streak restarted after the success")

	assert.Equal(t, response.StateOpen, set.RecordFailure("bob"))
}

func TestCooldownAdmitsSingleHalfOpenTrial(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock.Now)

	set.RecordFailure("carol")
	allowed, _ := set.Allow("carol")
	require.False(t, allowed)

	clock.Advance(59 * time.Second)
	allowed, _ = set.Allow("carol")
	require.False(t, allowed, "cooldown not yet elapsed")

	clock.Advance(time.Second)
	allowed, state := set.Allow("carol")
	require.True(t, allowed)
	assert.Equal(t, response.StateHalfOpen, state)

	allowed, state = set.Allow("carol")
	assert.False(t, allowed, "only one trial while the first is in flight")
	assert.Equal(t, response.StateHalfOpen, state)
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock.Now)

	set.RecordFailure("dave")
	clock.Advance(time.Minute)
	allowed, _ := set.Allow("dave")
	require.True(t, allowed)

	assert.Equal(t, response.StateClosed, set.RecordSuccess("dave"))

	snapshots := set.Snapshot()
	require.Len(t, snapshots, 1)
	assert.Equal(t, 0, snapshots[0].FailureCount, "failure count reset on recovery")
	assert.Equal(t, 1, snapshots[0].SuccessCount)

	allowed, state := set.Allow("dave")
	assert.True(t, allowed)
	assert.Equal(t, response.StateClosed, state)
}

func TestHalfOpenTrialFailureReopensAndResetsCooldown(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock.Now)

	set.RecordFailure("erin")
	clock.Advance(time.Minute)
	allowed, _ := set.Allow("erin")
	require.True(t, allowed)

	assert.Equal(t, response.StateOpen, set.RecordFailure("erin"))

	// The failed trial restarted the clock, so the original cooldown
	// offset no longer suffices.
	clock.Advance(30 * time.Second)
	allowed, _ = set.Allow("erin")
	assert.False(t, allowed)

	clock.Advance(30 * time.Second)
	allowed, state := set.Allow("erin")
	assert.True(t, allowed)
	assert.Equal(t, response.StateHalfOpen, state)
}

func TestTransitionsAreObserved(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock.Now)

	var seen []string
	set.OnTransition = func(identity string, from, to response.BreakerState) {
		seen = append(seen, string(from)+">"+string(to))
	}

	set.RecordFailure("frank")
	clock.Advance(time.Minute)
	set.Allow("frank")
	set.RecordSuccess("frank")

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, seen)
}

func TestSweepKeepsOpenCircuits(t *testing.T) {
	clock := newFakeClock()
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}, clock.Now)

	set.RecordFailure("grace")
	set.RecordFailure("grace")
	set.RecordFailure("heidi")
	set.RecordSuccess("heidi")

	clock.Advance(2 * time.Hour)
	removed := set.Sweep(time.Hour)

	assert.Equal(t, 1, removed, "only the closed circuit swept")
	assert.Equal(t, response.StateOpen, set.State("grace"))
}

func TestSnapshotAndSweepDuringTraffic(t *testing.T) {
	set := response.NewBreakerSet(response.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, time.Now)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			set.RecordFailure("hot")
			set.Allow("hot")
			set.RecordSuccess("hot")
			set.RecordFailure("idle-" + strconv.Itoa(i%8))
			set.RecordSuccess("idle-" + strconv.Itoa(i%8))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, snap := range set.Snapshot() {
				switch snap.State {
				case response.StateClosed, response.StateOpen, response.StateHalfOpen:
				default:
					t.Errorf("snapshot saw impossible state %q", snap.State)
				}
			}
			set.Sweep(0)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	set.RecordFailure("hot")
	assert.NotEqual(t, response.BreakerState(""), set.State("hot"))
}
