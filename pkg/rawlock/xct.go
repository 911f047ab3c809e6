package rawlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

// XctState mirrors the small state machine a transaction shadow moves
// through while it is known to the lock manager.
type XctState int32

const (
	XctActive XctState = iota
	XctWaiting
	XctAborting
	XctCommitted
)

// TransactionShadow is the lock manager's private view of one transaction
// (component C): its own granted-lock list, its wait state, and the fields a
// deadlock detector walking the blocker chain needs to read from other
// threads. Everything here is either atomic or touched only by the owning
// transaction's own goroutine, except where noted.
type TransactionShadow struct {
	ID uint64

	state atomic.Int32

	// blocker names the LockEntry this transaction is currently waiting
	// behind; nil when not waiting. Set by the waiter itself before it
	// parks, read by any goroutine walking the blocker chain.
	blocker atomic.Pointer[LockEntry]

	// deadlockDetectedWhileUnlock is raised by a detector running on
	// another goroutine; the waiter checks it after waking to decide
	// whether to abort instead of retrying its wait.
	deadlockDetectedWhileUnlock atomic.Bool

	// rollingBack is set once some waiter has actually started driving this
	// transaction's on-demand undo (spec §4.B step 4); a shadow is a "loser
	// not yet rolling back" while State()==XctAborting and this is still
	// false.
	rollingBack atomic.Bool

	// undoLatch serializes on-demand undo: only one blocked waiter may drive
	// a given loser's rollback at a time. TryLock mirrors the loser object
	// latch the original acquires before marking "rolling back"; a caller
	// that fails to take it falls back to parking normally rather than
	// retrying the latch (spec §4.B step 4: "if latch acquisition times out,
	// return retry rather than guessing").
	undoLatch sync.Mutex

	// OnDemandUndo, when non-nil, rolls this transaction all the way back:
	// releasing its locks and undoing its writes. The lock table has no
	// notion of pages or log records, so it cannot implement undo itself;
	// this hook is set by whatever owns the transaction's lifecycle and
	// invoked synchronously by a
	// waiter blocked behind this transaction (spec §4.B step 4, on-demand
	// undo). Left nil, a waiter blocked on a loser just parks as usual.
	OnDemandUndo func() error

	waitMu   sync.Mutex
	waitCond *sync.Cond

	// timedOut is raised by ParkTimeout's deadline timer when it fires
	// before some other goroutine calls Wake; the waiter consults and
	// clears it right after waking to tell a real grant/deadlock wake
	// apart from an expired bounded wait (spec §5 "Cancellation and
	// timeouts").
	timedOut atomic.Bool

	// readWatermark is the highest commit LSN this transaction's reads
	// must be consistent with (repeatable_read support, spec §3).
	readWatermark atomic.Value // lsn.LSN

	// ownedHead/ownedTail form a private singly-linked list of this
	// transaction's own granted LockEntry values, threaded through each
	// entry's ownedNext field. Only the owning goroutine mutates this, so
	// no atomics are needed here.
	ownedHead *LockEntry
	ownedTail *LockEntry

	// hint is this shadow's own handle in the lock table's xct pool
	// (NilHandle for a standalone shadow); FinishTransaction frees it.
	hint Handle
}

// NewTransactionShadow creates a standalone shadow in the Active state,
// outside of any pool (used directly by tests).
func NewTransactionShadow(id uint64) *TransactionShadow {
	x := &TransactionShadow{}
	x.init(id, NilHandle)
	return x
}

// init (re)initializes a shadow in place, so pool-allocated TransactionShadow
// values — which embed a sync.Mutex and atomics that must never be copied by
// value — can be reset for reuse without a struct copy.
func (x *TransactionShadow) init(id uint64, hint Handle) {
	x.ID = id
	x.hint = hint
	x.waitCond = sync.NewCond(&x.waitMu)
	x.readWatermark.Store(lsn.Null)
	x.state.Store(int32(XctActive))
	x.blocker.Store(nil)
	x.deadlockDetectedWhileUnlock.Store(false)
	x.timedOut.Store(false)
	x.rollingBack.Store(false)
	x.OnDemandUndo = nil
	x.ownedHead = nil
	x.ownedTail = nil
}

func (x *TransactionShadow) State() XctState { return XctState(x.state.Load()) }
func (x *TransactionShadow) SetState(s XctState) { x.state.Store(int32(s)) }

func (x *TransactionShadow) Blocker() *LockEntry { return x.blocker.Load() }
func (x *TransactionShadow) setBlocker(e *LockEntry) { x.blocker.Store(e) }
func (x *TransactionShadow) clearBlocker() { x.blocker.Store(nil) }

// IsDeadlocked reports and clears the deadlock flag raised against this
// transaction by another goroutine's cycle detection walk.
func (x *TransactionShadow) IsDeadlocked() bool {
	return x.deadlockDetectedWhileUnlock.Swap(false)
}

func (x *TransactionShadow) markDeadlocked() {
	x.deadlockDetectedWhileUnlock.Store(true)
}

// MarkLoser designates this transaction as a deadlock/abort victim that has
// not yet started rolling back, making it eligible for another transaction's
// on-demand undo (spec §4.B step 4) the next time something blocks on one of
// its locks.
func (x *TransactionShadow) MarkLoser() {
	x.state.Store(int32(XctAborting))
}

// IsLoserNotRollingBack reports whether x is a designated loser whose undo
// hasn't started yet.
func (x *TransactionShadow) IsLoserNotRollingBack() bool {
	return x.State() == XctAborting && !x.rollingBack.Load()
}

// TryDriveUndo attempts to claim x's undo latch and, on success, runs its
// OnDemandUndo hook to completion before releasing the latch. It reports
// whether it actually drove the undo; false means either the latch was
// already held by another waiter (fall back to parking) or there was no
// undo hook to run.
func (x *TransactionShadow) TryDriveUndo() (drove bool, err error) {
	if x.OnDemandUndo == nil {
		return false, nil
	}
	if !x.undoLatch.TryLock() {
		return false, nil
	}
	defer x.undoLatch.Unlock()
	if x.rollingBack.Swap(true) {
		// Another waiter already finished driving this loser's undo while
		// we were waiting for the latch.
		return false, nil
	}
	return true, x.OnDemandUndo()
}

// UpdateReadWatermark raises the transaction's read watermark to at least
// candidate; never lowers it.
func (x *TransactionShadow) UpdateReadWatermark(candidate lsn.LSN) {
	for {
		cur := x.readWatermark.Load().(lsn.LSN)
		if candidate.LessOrEqual(cur) {
			return
		}
		x.readWatermark.Store(candidate)
		return
	}
}

func (x *TransactionShadow) ReadWatermark() lsn.LSN {
	return x.readWatermark.Load().(lsn.LSN)
}

// addOwned appends e to this transaction's private owned-lock list.
func (x *TransactionShadow) addOwned(e *LockEntry) {
	e.ownedNext = nil
	if x.ownedTail == nil {
		x.ownedHead, x.ownedTail = e, e
		return
	}
	x.ownedTail.ownedNext = e
	x.ownedTail = e
}

// removeOwned unlinks e from this transaction's private owned-lock list.
func (x *TransactionShadow) removeOwned(e *LockEntry) {
	var prev *LockEntry
	cur := x.ownedHead
	for cur != nil {
		if cur == e {
			if prev == nil {
				x.ownedHead = cur.ownedNext
			} else {
				prev.ownedNext = cur.ownedNext
			}
			if cur == x.ownedTail {
				x.ownedTail = prev
			}
			cur.ownedNext = nil
			return
		}
		prev = cur
		cur = cur.ownedNext
	}
}

// GrantedMode returns the join of every lock this transaction currently
// holds that matches hash, or ModeN if it holds none.
func (x *TransactionShadow) GrantedMode(hash uint32) Mode {
	m := ModeN
	for cur := x.ownedHead; cur != nil; cur = cur.ownedNext {
		if cur.Hash == hash && cur.State() == LockActive {
			m = m.Join(cur.Mode)
		}
	}
	return m
}

// Park blocks the calling goroutine until Wake is called or the wait is
// abandoned by a timeout context elsewhere.
func (x *TransactionShadow) Park() {
	x.waitMu.Lock()
	x.waitCond.Wait()
	x.waitMu.Unlock()
}

// ParkTimeout blocks until Wake is called or d elapses, whichever comes
// first, and reports whether the wait ended because d elapsed (spec §5
// "Cancellation and timeouts": acquire's timeoutMs>0 bounded-wait case).
func (x *TransactionShadow) ParkTimeout(d time.Duration) bool {
	x.timedOut.Store(false)
	timer := time.AfterFunc(d, func() {
		x.timedOut.Store(true)
		x.Wake()
	})
	x.waitMu.Lock()
	x.waitCond.Wait()
	x.waitMu.Unlock()
	timer.Stop()
	return x.timedOut.Load()
}

// Wake releases every goroutine parked on this transaction's condition.
func (x *TransactionShadow) Wake() {
	x.waitMu.Lock()
	x.waitCond.Broadcast()
	x.waitMu.Unlock()
}
