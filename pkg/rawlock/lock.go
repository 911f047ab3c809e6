package rawlock

import "sync/atomic"

// LockState is the small state machine each LockEntry moves through.
type LockState int32

const (
	LockUnused LockState = iota
	LockActive
	LockWaiting
	LockObsolete
)

// LockEntry is one request node in a LockQueue: a (hash, mode, owner) triple
// threaded into the queue's markable-pointer linked list. Entries live in a
// Pool[LockEntry] and are addressed by Handle so the list can be walked and
// unlinked concurrently without holding a queue-wide lock.
type LockEntry struct {
	Hash  uint32
	Mode  Mode
	Owner *TransactionShadow

	self  Handle
	state atomic.Int32

	// next is the markable pointer word: a packed (Handle, markBit,
	// abaCounter). Readers must unpack it, resolve the handle through the
	// owning queue's pool, and re-validate before trusting the result
	// (spec §4.B/§4.D: a freed cell may be reused by the time a
	// concurrent reader gets to it).
	next atomic.Uint64

	// ownedNext threads this entry into its owner transaction's private
	// granted-lock list (xct.go); only the owning transaction's goroutine
	// ever touches this field.
	ownedNext *LockEntry
}

func (e *LockEntry) State() LockState { return LockState(e.state.Load()) }
func (e *LockEntry) setState(s LockState) { e.state.Store(int32(s)) }

func loadNext(e *LockEntry) (h Handle, marked bool, aba uint32) {
	return unmarkWord(e.next.Load())
}

func storeNext(e *LockEntry, h Handle, marked bool, aba uint32) {
	e.next.Store(markWord(h, marked, aba))
}

func casNext(e *LockEntry, oldH Handle, oldMarked bool, oldAba uint32, newH Handle, newMarked bool) bool {
	old := markWord(oldH, oldMarked, oldAba)
	neW := markWord(newH, newMarked, oldAba+1)
	return e.next.CompareAndSwap(old, neW)
}
