// Package oldestlsn implements a bucketed low-water-mark tracker of active
// transactions (component A). It is the "poor man's" proxy for "what is the
// oldest LSN any running transaction might still need" — used to decide when
// log partitions and generational-pool segments are safe to reclaim.
package oldestlsn

import (
	"sync/atomic"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

// primesByPowerOfTwo[i] is the largest prime <= 1<<(6+i), for i in [0,23].
// Bucket counts are always rounded down to one of these (minimum 61), the
// same "stupid prime hashing" the tracked system uses for its lock table.
var primesByPowerOfTwo = [...]uint32{
	61, 127, 251, 509, 1021, 2039, 4093, 8191,
	16381, 32749, 65521, 131071, 262139, 524287, 1048573, 2097143,
	4194301, 8388593, 16777213, 33554393, 67108859, 134217689, 268435399, 536870909,
}

// BucketCount rounds requested down to the largest prime <= the next power
// of two, with a floor of 61.
func BucketCount(requested uint32) uint32 {
	if requested < 61 {
		return 61
	}
	shift := 0
	size := uint32(1)
	for size < requested {
		size <<= 1
		shift++
	}
	idx := shift - 6
	if idx < 0 {
		idx = 0
	}
	if idx >= len(primesByPowerOfTwo) {
		idx = len(primesByPowerOfTwo) - 1
	}
	return primesByPowerOfTwo[idx]
}

// Tracker maintains one LSN slot per bucket, hash-indexed by transaction id.
// enter/leave cost a single CAS in the common (uncollided) case; no per-slot
// chaining exists, so on a collision the transaction that enters second spins
// in Enter until the first one's Leave empties the slot.
type Tracker struct {
	lowWaterMarks []atomic.Value // each holds an lsn.LSN; zero value (lsn.Null) means empty
	cache         atomic.Value   // lsn.LSN
}

// New creates a tracker with BucketCount(requestedBuckets) slots.
func New(requestedBuckets uint32) *Tracker {
	n := BucketCount(requestedBuckets)
	t := &Tracker{
		lowWaterMarks: make([]atomic.Value, n),
	}
	for i := range t.lowWaterMarks {
		t.lowWaterMarks[i].Store(lsn.Null)
	}
	t.cache.Store(lsn.Null)
	return t
}

// Enter spins with compare-and-swap on bucket xctID%buckets until it
// replaces an empty (Null) slot with currLSN. A slot is Null only when
// unoccupied, so this never clobbers another live transaction's entry; it
// blocks only on an unlucky hash collision with another live entry, which is
// expected to be rare and short-lived.
func (t *Tracker) Enter(xctID uint64, currLSN lsn.LSN) {
	idx := xctID % uint64(len(t.lowWaterMarks))
	slot := &t.lowWaterMarks[idx]
	for {
		if slot.CompareAndSwap(lsn.Null, currLSN) {
			return
		}
	}
}

// Leave clears the slot for xctID. A plain store is sufficient: eventual
// visibility to OldestActiveLsn scanners is acceptable (spec §4.A).
func (t *Tracker) Leave(xctID uint64) {
	idx := xctID % uint64(len(t.lowWaterMarks))
	t.lowWaterMarks[idx].Store(lsn.Null)
}

// OldestActiveLsn scans every slot and returns the smallest non-Null LSN, or
// currLSN if the table is empty (meaning nothing active could have an LSN
// smaller than "now"). The result is cached for Cached().
func (t *Tracker) OldestActiveLsn(currLSN lsn.LSN) lsn.LSN {
	smallest := lsn.Max
	found := false
	for i := range t.lowWaterMarks {
		l := t.lowWaterMarks[i].Load().(lsn.LSN)
		if l.IsNull() {
			continue
		}
		if !found || l.Less(smallest) {
			smallest = l
			found = true
		}
	}
	result := currLSN
	if found {
		result = smallest
	}
	t.cache.Store(result)
	return result
}

// Cached returns the result of the most recent OldestActiveLsn call, for
// quick queries that can tolerate staleness.
func (t *Tracker) Cached() lsn.LSN {
	return t.cache.Load().(lsn.LSN)
}
