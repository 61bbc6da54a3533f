package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyMutex is a fixed pool of mutexes addressed by string key. It gives
// per-key critical sections with bounded memory no matter how many
// identities pass through, at the cost of occasional false sharing when
// two keys land on the same shard.
type KeyMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard owning key and returns its unlock function.
//
//	release := mu.Lock(identity)
//	defer release()
func (m *KeyMutex) Lock(key string) func() {
	shard := m.shard(key)
	shard.Lock()
	return shard.Unlock
}

func (m *KeyMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}
