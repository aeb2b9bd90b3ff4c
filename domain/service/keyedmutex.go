package service

import (
	"hash/fnv"
	"sync"
)

// keyedMutex shards locks by hash(key) so concurrent ingestion of
// different uids proceeds in parallel while same-uid critical sections
// (spec.md §4.4 step 4, invariant I4) are serialised, without growing one
// mutex per uid forever.
type keyedMutex struct {
	shards []sync.Mutex
}

func newKeyedMutex(shardCount int) *keyedMutex {
	if shardCount <= 0 {
		shardCount = 32
	}
	return &keyedMutex{shards: make([]sync.Mutex, shardCount)}
}

func (m *keyedMutex) lock(key string) func() {
	shard := &m.shards[m.shardFor(key)]
	shard.Lock()
	return shard.Unlock
}

func (m *keyedMutex) shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(m.shards))
}
