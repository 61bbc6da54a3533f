package cache

import (
	"sync"
	"time"
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLMap is a thread-safe map whose entries expire. It backs the local
// fallback side of stores that normally live in Redis.
type TTLMap struct {
	mu   sync.RWMutex
	data map[string]*ttlEntry
	ttl  time.Duration
}

// NewTTLMap creates a TTLMap whose entries default to the given TTL. A
// zero ttl means entries never expire unless SetFor supplies one.
func NewTTLMap(ttl time.Duration) *TTLMap {
	return &TTLMap{
		data: make(map[string]*ttlEntry),
		ttl:  ttl,
	}
}

func (m *TTLMap) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	entry, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		return nil, false
	}
	expired := !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
	value := entry.value
	m.mu.RUnlock()

	if expired {
		m.mu.Lock()
		// Re-check under the write lock: the entry may have been replaced,
		// possibly by one with no expiry, since the read section.
		if current, ok := m.data[key]; ok && !current.expiresAt.IsZero() && time.Now().After(current.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return value, true
}

// Set stores value under the map's default TTL.
func (m *TTLMap) Set(key string, value interface{}) {
	m.SetFor(key, value, m.ttl)
}

// SetFor stores value with its own TTL. ttl <= 0 keeps the entry until
// deleted.
func (m *TTLMap) SetFor(key string, value interface{}, ttl time.Duration) {
	entry := &ttlEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry
}

func (m *TTLMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Range walks live entries. Return false from fn to stop early.
func (m *TTLMap) Range(fn func(key string, value interface{}, expiresAt time.Time) bool) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, entry := range m.data {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		if !fn(key, entry.value, entry.expiresAt) {
			return
		}
	}
}

func (m *TTLMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// PruneExpired drops dead entries so long-idle maps do not hold memory.
// Janitors call it on a schedule.
func (m *TTLMap) PruneExpired() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.data {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

func (m *TTLMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*ttlEntry)
}
