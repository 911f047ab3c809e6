package rawlock

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/options"
)

const numShards = 64

type shard struct {
	mu      sync.Mutex
	queues  map[uint32]*LockQueue
}

// LockTable owns every LockQueue in the system plus the shared pools that
// back their LockEntry and TransactionShadow nodes (components B, C, D
// together). A caller looks up or creates the queue for a resource hash,
// then calls Acquire/Release on it.
type LockTable struct {
	shards   []*shard
	lockPool *Pool[LockEntry]
	xctPool  *Pool[TransactionShadow]
}

// NewLockTable builds a LockTable sized from opt, wiring both pools to the
// supplied oldest-active-LSN source so their generations retire only once
// the log (or a synthetic test clock) confirms nothing could still
// reference them.
func NewLockTable(opt *options.Map, oldestActiveLSN func() lsn.LSN) *LockTable {
	lt := &LockTable{
		shards: make([]*shard, numShards),
	}
	for i := range lt.shards {
		lt.shards[i] = &shard{queues: make(map[uint32]*LockQueue)}
	}
	lt.lockPool = NewPool[LockEntry](PoolOptions{
		SegSize:          int(opt.Int64(options.RawlockLockPoolSeg, 1024)),
		InitSegmentCount: int(opt.Int64(options.RawlockLockPoolInit, 1)),
		FreeSegmentCount: int(opt.Int64(options.RawlockGCFreeSegs, 1)),
		MaxSegmentCount:  int(opt.Int64(options.RawlockGCMaxSegs, 64)),
		GenerationCount:  int(opt.Int64(options.RawlockGCGenerations, 3)),
		OldestActiveLSN:  oldestActiveLSN,
	})
	lt.xctPool = NewPool[TransactionShadow](PoolOptions{
		SegSize:          int(opt.Int64(options.RawlockXctPoolSeg, 256)),
		InitSegmentCount: int(opt.Int64(options.RawlockXctPoolInit, 1)),
		FreeSegmentCount: int(opt.Int64(options.RawlockGCFreeSegs, 1)),
		MaxSegmentCount:  int(opt.Int64(options.RawlockGCMaxSegs, 64)),
		GenerationCount:  int(opt.Int64(options.RawlockGCGenerations, 3)),
		OldestActiveLSN:  oldestActiveLSN,
	})
	return lt
}

func (lt *LockTable) shardFor(hash uint32) *shard {
	return lt.shards[hash%numShards]
}

// QueueFor returns the LockQueue for hash, creating it on first use.
func (lt *LockTable) QueueFor(hash uint32) *LockQueue {
	s := lt.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[hash]
	if !ok {
		q = NewLockQueue(hash, lt.lockPool)
		s.queues[hash] = q
	}
	return q
}

// Acquire is a convenience wrapper around QueueFor(hash).Acquire. timeoutMs
// follows spec §5's three-way contract: 0 conditional, <0 forever, >0 a
// bounded wait in milliseconds.
func (lt *LockTable) Acquire(owner *TransactionShadow, hash uint32, mode Mode, timeoutMs int) (*LockEntry, error) {
	return lt.QueueFor(hash).Acquire(owner, mode, timeoutMs)
}

// Release retires entry from its queue. commitLsn is the releasing
// transaction's commit LSN (lsn.Null if the release is not a committed
// write, e.g. abort or conditional-timeout cleanup); it feeds the bucket's
// x_lock_tag for early lock release (spec §4.B).
func (lt *LockTable) Release(entry *LockEntry, commitLsn lsn.LSN) {
	lt.QueueFor(entry.Hash).Release(entry, commitLsn)
}

// ReleaseAll retires every lock currently owned by owner, in no particular
// order. Used on transaction commit/abort; commitLsn is lsn.Null on abort.
func (lt *LockTable) ReleaseAll(owner *TransactionShadow, commitLsn lsn.LSN) {
	for cur := owner.ownedHead; cur != nil; {
		next := cur.ownedNext
		lt.Release(cur, commitLsn)
		cur = next
	}
}

// NewTransaction allocates a TransactionShadow from the table's xct pool.
func (lt *LockTable) NewTransaction(id uint64) *TransactionShadow {
	shadow, h := lt.xctPool.Allocate()
	shadow.init(id, h)
	return shadow
}

// FinishTransaction releases every lock owner holds (with commitLsn feeding
// x_lock_tag for early lock release — pass lsn.Null on abort) and returns
// its shadow to the pool.
func (lt *LockTable) FinishTransaction(owner *TransactionShadow, commitLsn lsn.LSN) {
	lt.ReleaseAll(owner, commitLsn)
	lt.xctPool.Free(owner.hint)
}

// Close stops the table's background pool reclaimers.
func (lt *LockTable) Close() {
	lt.lockPool.Close()
	lt.xctPool.Close()
}
