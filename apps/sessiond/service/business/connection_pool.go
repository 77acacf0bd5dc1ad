package business

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// poolShardCount is the number of shards. Power of 2 so shard selection is
// a mask instead of a modulo.
const poolShardCount = 32

type poolShard struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

// connectionPool is a sharded identity-keyed pool of live connections.
// Sharding spreads lock contention; the global size is tracked atomically
// so capacity checks stay lock-free.
type connectionPool struct {
	shards      [poolShardCount]*poolShard
	hashSeed    maphash.Seed
	maxSize     int32
	currentSize int32 // atomic access
}

func newConnectionPool(maxSize int32) *connectionPool {
	pool := &connectionPool{
		maxSize:  maxSize,
		hashSeed: maphash.MakeSeed(),
	}

	const minShardCapacity = 64
	shardCapacity := int(maxSize) / poolShardCount
	if shardCapacity < minShardCapacity {
		shardCapacity = minShardCapacity
	}

	for i := range poolShardCount {
		pool.shards[i] = &poolShard{
			connections: make(map[string]Connection, shardCapacity),
		}
	}

	return pool
}

func (p *connectionPool) getShard(identity string) *poolShard {
	h := maphash.String(p.hashSeed, identity)
	return p.shards[h&(poolShardCount-1)]
}

// put inserts a connection, replacing any existing one for the same
// identity. Returns the replaced connection (nil if none) so the caller
// can close it, or ErrRegistryFull when at capacity with no replacement.
func (p *connectionPool) put(identity string, conn Connection) (Connection, error) {
	shard := p.getShard(identity)

	shard.mu.Lock()
	old, exists := shard.connections[identity]
	if !exists && atomic.LoadInt32(&p.currentSize) >= p.maxSize {
		shard.mu.Unlock()
		return nil, ErrRegistryFull
	}
	shard.connections[identity] = conn
	if !exists {
		atomic.AddInt32(&p.currentSize, 1)
	}
	shard.mu.Unlock()

	if exists {
		return old, nil
	}
	return nil, nil
}

func (p *connectionPool) get(identity string) (Connection, bool) {
	shard := p.getShard(identity)

	shard.mu.RLock()
	conn, exists := shard.connections[identity]
	shard.mu.RUnlock()
	return conn, exists
}

// remove deletes the entry for identity. When expected is non-nil the
// entry is only removed if it still holds that exact connection, so a
// reconnect that already replaced the entry is left untouched.
func (p *connectionPool) remove(identity string, expected Connection) bool {
	shard := p.getShard(identity)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, exists := shard.connections[identity]
	if !exists {
		return false
	}
	if expected != nil && current != expected {
		return false
	}
	delete(shard.connections, identity)
	atomic.AddInt32(&p.currentSize, -1)
	return true
}

func (p *connectionPool) size() int32 {
	return atomic.LoadInt32(&p.currentSize)
}

// forEach snapshots each shard before calling fn, so iteration never holds
// a lock across the callback.
func (p *connectionPool) forEach(fn func(identity string, conn Connection)) {
	type entry struct {
		identity string
		conn     Connection
	}
	var all []entry

	for i := range poolShardCount {
		shard := p.shards[i]
		shard.mu.RLock()
		for identity, conn := range shard.connections {
			all = append(all, entry{identity: identity, conn: conn})
		}
		shard.mu.RUnlock()
	}

	for _, e := range all {
		fn(e.identity, e.conn)
	}
}
