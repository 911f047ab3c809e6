package rawlock

import (
	"fmt"
	"sync/atomic"
	"time"

	rlerrors "github.com/bobboyms/storage-engine/pkg/errors"
	"github.com/bobboyms/storage-engine/pkg/lsn"
)

const deadlockWalkDepthCap = 16

// LockQueue is the lock-free request queue for one distinct resource hash
// (component B). Entries are linked through the markable-pointer word on
// LockEntry.next; release() logically deletes by setting the mark bit and
// then tries to physically unlink, falling back to letting the next
// traversal finish the unlink (the conventional Harris/Michael lock-free
// list technique, here applied to lock request queues rather than a set).
type LockQueue struct {
	hash uint32
	pool *Pool[LockEntry]
	head atomic.Uint64 // markWord(handle, false, aba); head is never itself mark-deleted

	// xLockTag is the commit LSN of the most recent X-lock release on any
	// resource in this bucket (spec §3 LockQueue, §4.B release()). It backs
	// early lock release: a transaction that only ever reads this bucket
	// must raise its read watermark to at least this value before it can
	// trust what it saw as durable.
	xLockTag atomic.Value // lsn.LSN
}

// NewLockQueue creates an empty queue for hash, backed by pool for node
// storage.
func NewLockQueue(hash uint32, pool *Pool[LockEntry]) *LockQueue {
	q := &LockQueue{hash: hash, pool: pool}
	q.head.Store(markWord(NilHandle, false, 0))
	q.xLockTag.Store(lsn.Null)
	return q
}

// XLockTag returns the bucket's current ELR watermark (spec §4.B).
func (q *LockQueue) XLockTag() lsn.LSN {
	return q.xLockTag.Load().(lsn.LSN)
}

// advanceXLockTag CAS-advances xLockTag to commitLsn, retrying only while
// the observed value is still smaller (spec §4.B release(): "CAS-advance
// x_lock_tag to commitLsn, retrying only if the observed value is still
// less").
func (q *LockQueue) advanceXLockTag(commitLsn lsn.LSN) {
	for {
		cur := q.XLockTag()
		if !cur.Less(commitLsn) {
			return
		}
		if q.xLockTag.CompareAndSwap(cur, commitLsn) {
			return
		}
	}
}

func (q *LockQueue) resolve(h Handle) *LockEntry {
	if h == NilHandle {
		return nil
	}
	return q.pool.Get(h)
}

// headHandle returns the current first live entry, helping delink any
// logically-deleted entries it passes over.
func (q *LockQueue) headHandle() Handle {
	for {
		word := q.head.Load()
		h, _, aba := unmarkWord(word)
		e := q.resolve(h)
		if e == nil {
			return NilHandle
		}
		if e.State() != LockObsolete {
			return h
		}
		nextH, _, _ := loadNext(e)
		if q.head.CompareAndSwap(word, markWord(nextH, false, aba+1)) {
			q.pool.Free(h)
			continue
		}
	}
}

// atomicLockInsert appends a new entry for (mode, owner) at the tail of the
// queue and returns it.
func (q *LockQueue) atomicLockInsert(mode Mode, owner *TransactionShadow) *LockEntry {
	entry, h := q.pool.Allocate()
	entry.Hash = q.hash
	entry.Mode = mode
	entry.Owner = owner
	entry.self = h
	entry.ownedNext = nil
	entry.setState(LockWaiting)
	storeNext(entry, NilHandle, false, 0)

	for {
		tailH := q.headHandle()
		if tailH == NilHandle {
			word := q.head.Load()
			_, _, aba := unmarkWord(word)
			if q.head.CompareAndSwap(word, markWord(h, false, aba+1)) {
				return entry
			}
			continue
		}
		tail := q.resolve(tailH)
		cur := tail
		for {
			nextH, marked, aba := loadNext(cur)
			if marked {
				break
			}
			next := q.resolve(nextH)
			if next == nil {
				if casNext(cur, nextH, false, aba, h, false) {
					return entry
				}
				break
			}
			cur = next
		}
	}
}

// walkAhead invokes fn for every live entry strictly before target, in
// queue order, starting from head. It stops early if fn returns false.
func (q *LockQueue) walkAhead(target *LockEntry, fn func(*LockEntry) bool) {
	h := q.headHandle()
	for h != NilHandle {
		cur := q.resolve(h)
		if cur == nil || cur == target {
			return
		}
		if cur.State() != LockObsolete {
			if !fn(cur) {
				return
			}
		}
		nextH, _, _ := loadNext(cur)
		h = nextH
	}
}

// checkCompatibility walks every live predecessor of entry and returns the
// first one whose mode conflicts with entry.Mode and who is owned by a
// different transaction, or nil if entry is immediately grantable.
func (q *LockQueue) checkCompatibility(entry *LockEntry) *LockEntry {
	var blocker *LockEntry
	q.walkAhead(entry, func(cur *LockEntry) bool {
		if cur.Owner == entry.Owner {
			return true
		}
		if cur.State() == LockUnused {
			return true
		}
		if !entry.Mode.Compatible(cur.Mode) {
			blocker = cur
			return false
		}
		return true
	})
	return blocker
}

// Acquire requests mode on behalf of owner, with the three-way timeoutMs
// contract spec §5 "Cancellation and timeouts" defines: timeoutMs == 0 is
// conditional (never blocks, returns ConditionalLockTimeoutError immediately
// when not instantly grantable); timeoutMs < 0 waits forever; timeoutMs > 0
// waits at most that many milliseconds before returning LockTimeoutError.
func (q *LockQueue) Acquire(owner *TransactionShadow, mode Mode, timeoutMs int) (*LockEntry, error) {
	entry := q.atomicLockInsert(mode, owner)

	bounded := timeoutMs > 0
	var deadline time.Time
	if bounded {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	for {
		blocker := q.checkCompatibility(entry)
		if blocker == nil {
			entry.setState(LockActive)
			owner.clearBlocker()
			owner.addOwned(entry)
			owner.UpdateReadWatermark(q.XLockTag())
			return entry, nil
		}

		if timeoutMs == 0 {
			q.Release(entry, lsn.Null)
			return nil, &rlerrors.ConditionalLockTimeoutError{Hash: q.hash}
		}

		// On-demand undo (spec §4.B step 4): if the blocker is a designated
		// loser that hasn't started rolling back yet, try to drive its undo
		// ourselves instead of just waiting for someone else to. A failed
		// latch claim (another waiter already driving it, or no undo hook
		// wired) falls through to the normal park/timeout/deadlock path.
		if blockerOwner := blocker.Owner; blockerOwner != nil && blockerOwner.IsLoserNotRollingBack() {
			if drove, err := blockerOwner.TryDriveUndo(); drove {
				if err != nil {
					log.Warn().Uint64("xct", owner.ID).Uint64("loser", blockerOwner.ID).Err(err).
						Msg("on-demand undo of blocking loser failed")
				} else {
					log.Debug().Uint64("xct", owner.ID).Uint64("loser", blockerOwner.ID).
						Msg("drove on-demand undo of blocking loser")
				}
				continue
			}
		}

		entry.setState(LockWaiting)
		owner.setBlocker(blocker)

		if q.detectDeadlock(owner) {
			q.Release(entry, lsn.Null)
			log.Warn().Uint64("xct", owner.ID).Uint32("hash", q.hash).Msg("deadlock detected on acquire")
			return nil, &rlerrors.DeadlockError{TxnID: fmt.Sprintf("%d", owner.ID)}
		}

		if bounded {
			remaining := time.Until(deadline)
			if remaining <= 0 || owner.ParkTimeout(remaining) {
				q.Release(entry, lsn.Null)
				log.Warn().Uint64("xct", owner.ID).Uint32("hash", q.hash).Int("timeout_ms", timeoutMs).
					Msg("lock wait timed out")
				return nil, &rlerrors.LockTimeoutError{Hash: q.hash, TimeoutMs: int32(timeoutMs)}
			}
		} else {
			owner.Park()
		}

		if owner.IsDeadlocked() {
			q.Release(entry, lsn.Null)
			log.Warn().Uint64("xct", owner.ID).Uint32("hash", q.hash).Msg("deadlock detected by another transaction")
			return nil, &rlerrors.DeadlockError{TxnID: fmt.Sprintf("%d", owner.ID)}
		}
		// Loop back to re-check compatibility (peek_compatibility).
	}
}

// TryCheck implements the check_only/peek_compatibility fast path (spec
// §4.B step 1): without appending an entry, it reports whether mode would
// currently be grantable to owner against every live entry in the bucket.
// A true result is only safe to act on while the caller holds an exclusive
// page latch that prevents a new conflicting lock from being granted
// concurrently — TryCheck itself does not and cannot enforce that; it is a
// documentation-only contract matching the original RAW design (spec §9
// "Supplemented features"). On success it advances owner's read watermark
// by the bucket's x_lock_tag, exactly as a full Acquire grant would.
func (q *LockQueue) TryCheck(owner *TransactionShadow, mode Mode) bool {
	blocker := (*LockEntry)(nil)
	q.walkAhead(nil, func(cur *LockEntry) bool {
		if cur.Owner == owner {
			return true
		}
		if cur.State() == LockUnused {
			return true
		}
		if !mode.Compatible(cur.Mode) {
			blocker = cur
			return false
		}
		return true
	})
	if blocker != nil {
		return false
	}
	owner.UpdateReadWatermark(q.XLockTag())
	return true
}

// detectDeadlock walks the blocker chain starting at owner, up to a fixed
// depth, looking for a cycle back to owner. A chain that exceeds the depth
// cap without resolving is conservatively treated as a deadlock (spec §4.B:
// "exceeding the cap conservatively declares deadlock") rather than let
// through — the false-positive cost of an unnecessary abort is far cheaper
// than an unbounded walk or a missed cycle.
func (q *LockQueue) detectDeadlock(owner *TransactionShadow) bool {
	cur := owner.Blocker()
	for depth := 0; depth < deadlockWalkDepthCap; depth++ {
		if cur == nil {
			return false
		}
		blockerOwner := cur.Owner
		if blockerOwner == nil {
			return false
		}
		if blockerOwner == owner {
			return true
		}
		cur = blockerOwner.Blocker()
	}
	// Depth cap reached without finding nil or self: conservatively declare
	// deadlock rather than let a possibly-real cycle through undetected.
	return true
}

// Release retires entry: if entry's mode carries a write (X) component and
// commitLsn exceeds the bucket's current x_lock_tag, first raises the
// watermark (spec §4.B release(), early lock release); marks entry
// obsolete; removes it from its owner's private list; attempts to
// physically unlink it from the queue; and wakes whichever live entry
// immediately follows it so that waiter can recheck compatibility.
// commitLsn is lsn.Null for releases that never reached a committed write
// (conditional-timeout cleanup, deadlock abort, aborted waits), which is a
// no-op against x_lock_tag since Null never exceeds it.
func (q *LockQueue) Release(entry *LockEntry, commitLsn lsn.LSN) {
	if entry.Mode.Key == X && !commitLsn.IsNull() {
		q.advanceXLockTag(commitLsn)
	}

	entry.setState(LockObsolete)
	if entry.Owner != nil {
		entry.Owner.removeOwned(entry)
	}

	for {
		nextH, marked, aba := loadNext(entry)
		if marked {
			break
		}
		if casNext(entry, nextH, false, aba, nextH, true) {
			break
		}
	}

	q.helpUnlink(entry)

	nextH, _, _ := loadNext(entry)
	if next := q.resolve(nextH); next != nil && next.State() == LockWaiting && next.Owner != nil {
		next.Owner.Wake()
	}
}

// helpUnlink attempts to physically splice entry out of the list by
// swinging its predecessor's next pointer forward. A failed attempt is left
// for the next traversal (headHandle/walkAhead already skip and unlink
// obsolete nodes they encounter).
func (q *LockQueue) helpUnlink(entry *LockEntry) {
	h := q.headHandle()
	var prev *LockEntry
	for h != NilHandle {
		cur := q.resolve(h)
		if cur == nil {
			return
		}
		if cur == entry {
			nextH, _, _ := loadNext(cur)
			if prev == nil {
				word := q.head.Load()
				_, _, aba := unmarkWord(word)
				if q.head.CompareAndSwap(word, markWord(nextH, false, aba+1)) {
					q.pool.Free(entry.self)
				}
			} else {
				pNextH, pMarked, pAba := loadNext(prev)
				if !pMarked && pNextH == entry.self {
					if casNext(prev, pNextH, false, pAba, nextH, false) {
						q.pool.Free(entry.self)
					}
				}
			}
			return
		}
		prev = cur
		nextH, _, _ := loadNext(cur)
		h = nextH
	}
}
