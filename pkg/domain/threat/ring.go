package threat

import (
	"sync"
	"time"

	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

const defaultRingCapacity = 2048

// Ring is the bounded in-memory mirror of the threat event stream. It
// keeps the newest events for fast ops queries; the audit sinks are the
// system of record. Appends evict the oldest entry once the ring is full.
type Ring struct {
	mu     sync.RWMutex
	events []Event
	head   int
	count  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Ring{events: make([]Event, capacity)}
}

func (r *Ring) Append(event Event) {
	r.mu.Lock()
	r.events[r.head] = event
	r.head = (r.head + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns up to n events, newest first. n <= 0 returns everything
// retained.
func (r *Ring) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.head - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

// Summarize counts retained events by threat level over the trailing
// window ending at now.
func (r *Ring) Summarize(window time.Duration, now time.Time) Summary {
	cutoff := now.Add(-window)
	summary := Summary{
		Window: window,
		Levels: map[types.ThreatLevel]int{
			types.ThreatLevelLow:      0,
			types.ThreatLevelMedium:   0,
			types.ThreatLevelHigh:     0,
			types.ThreatLevelCritical: 0,
		},
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.events)) % len(r.events)
		event := r.events[idx]
		if event.Timestamp.Before(cutoff) {
			continue
		}
		summary.Total++
		summary.Levels[event.ThreatLevel]++
	}
	return summary
}

// Len reports how many events the ring currently retains.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
