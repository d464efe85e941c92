package chat

import "sync"

const lockShards = 64

// KeyedMutex provides a striped per-conversation mutual exclusion
// discipline: operations on the same conversation serialize, operations on
// distinct conversations proceed in parallel (modulo stripe collisions).
type KeyedMutex struct {
	shards [lockShards]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (m *KeyedMutex) Lock(key int64) {
	m.shards[shardOf(key)].Lock()
}

func (m *KeyedMutex) Unlock(key int64) {
	m.shards[shardOf(key)].Unlock()
}

func shardOf(key int64) uint64 {
	// Fibonacci hashing spreads sequential ids across stripes; the top six
	// bits select one of the 64 shards.
	return (uint64(key) * 0x9e3779b97f4a7c15) >> 58
}
