package walfs

import "sync"

// readers are added and removed on every sequential scan and every boundary
// search probe, a sharded map kept that path off a single lock.
const (
	readerShardCount = 32
	readerShardMask  = readerShardCount - 1
)

// readerTracker records the IDs of open segment readers.
type readerTracker struct {
	shards [readerShardCount]readerShard
}

type readerShard struct {
	mu    sync.Mutex
	items map[uint64]struct{}
}

func newReaderTracker() *readerTracker {
	rt := &readerTracker{}
	for i := range rt.shards {
		rt.shards[i].items = make(map[uint64]struct{})
	}
	return rt
}

func (rt *readerTracker) shard(id uint64) *readerShard {
	return &rt.shards[id&readerShardMask]
}

// Add marks a reader ID as active.
func (rt *readerTracker) Add(id uint64) {
	sh := rt.shard(id)
	sh.mu.Lock()
	sh.items[id] = struct{}{}
	sh.mu.Unlock()
}

// Remove reports whether id was tracked and drops it.
func (rt *readerTracker) Remove(id uint64) bool {
	sh := rt.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; !ok {
		return false
	}
	delete(sh.items, id)
	return true
}
