package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

func TestGetEvictsExpiredEntry(t *testing.T) {
	m := cache.NewTTLMap(time.Hour)
	m.SetFor("session", "stale", time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := m.Get("session")
	assert.False(t, ok)
	assert.Zero(t, m.Len(), "the dead entry is dropped on read")
}

func TestZeroTTLEntryNeverExpires(t *testing.T) {
	m := cache.NewTTLMap(time.Millisecond)
	m.SetFor("pinned", "value", 0)
	time.Sleep(5 * time.Millisecond)

	v, ok := m.Get("pinned")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestNeverExpiringReplacementSurvivesConcurrentGets(t *testing.T) {
	m := cache.NewTTLMap(time.Hour)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.Get("session")
		}
	}()

	// Each round plants an already-expired entry and immediately replaces
	// it with a permanent one while the reader hammers Get; the reader's
	// eviction must never take the replacement with it.
	for i := 0; i < 500; i++ {
		m.SetFor("session", "stale", time.Nanosecond)
		m.SetFor("session", "pinned", 0)
	}
	close(stop)
	wg.Wait()

	v, ok := m.Get("session")
	assert.True(t, ok, "a permanent entry outlives its expired predecessor")
	assert.Equal(t, "pinned", v)
}
