package walog

import (
	"sync"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

// Epoch describes one generation of the in-memory ring buffer (component F):
// BaseLSN is the LSN of the byte at ring offset Base; Start is the offset of
// the first byte not yet durable; End is one past the last byte written.
// Start and End only ever grow within an epoch — a new Epoch begins each
// time the ring wraps or a partition rolls over, so offsets never need to
// wrap within a single Epoch's arithmetic.
type Epoch struct {
	BaseLSN lsn.LSN
	Base    uint64
	Start   uint64
	End     uint64
}

// LSNAt returns the LSN corresponding to ring offset off, which must lie
// within [Base, End].
func (e Epoch) LSNAt(off uint64) lsn.LSN {
	return lsn.LSN{File: e.BaseLSN.File, Offset: e.BaseLSN.Offset + (off - e.Base)}
}

// RingBuffer is the fixed-capacity circular staging area log records are
// copied into before being durably flushed to a partition file.
type RingBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	cap    uint64
	margin uint64
	closed bool

	epoch Epoch
}

// NewRingBuffer allocates a buffer of capacity bytes, seeded at baseLSN.
// margin is the trailing headroom (spec §4.G step 3's "2·blockSize") Reserve
// keeps free below cap; AcquireBufferSpace blocks callers until that much
// room exists. A margin that would leave no usable capacity at all is
// clamped to half of capacity instead.
func NewRingBuffer(capacity, margin int, baseLSN lsn.LSN) *RingBuffer {
	if margin < 0 {
		margin = 0
	}
	if uint64(margin) >= uint64(capacity) {
		margin = capacity / 2
	}
	b := &RingBuffer{
		data:   make([]byte, capacity),
		cap:    uint64(capacity),
		margin: uint64(margin),
		epoch: Epoch{
			BaseLSN: baseLSN,
			Base:    0, Start: 0, End: 0,
		},
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// AcquireBufferSpace blocks until reserving n more bytes would not push
// end-start past cap-margin, or until Close is called (spec §4.G step 3,
// acquireBufferSpace). It only waits; it does not itself reserve anything,
// so under heavy concurrency a subsequent Reserve can still land slightly
// past the margin before the next waiter is admitted — the margin exists to
// keep that overshoot away from cap (Reserve itself does no bound check),
// not to hand out byte-exact allocations here.
func (b *RingBuffer) AcquireBufferSpace(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.epoch.End-b.epoch.Start+uint64(n) > b.cap-b.margin {
		if b.closed {
			return ErrRingBufferClosed
		}
		b.cond.Wait()
	}
	return nil
}

// Close unblocks every goroutine parked in AcquireBufferSpace; further waits
// return ErrRingBufferClosed immediately. Used when the owning LogCore shuts
// down so in-flight appenders don't hang forever.
func (b *RingBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Reserve advances the current epoch's End by n bytes and returns the
// [offset, offset+n) range to write into, plus the LSN assigned to the
// first byte of that range. Reserve itself trusts the caller to already
// hold room — it does no waiting or bound-checking against cap, so every
// production caller (LogCore.writeBatch) must call AcquireBufferSpace first
// to guarantee WriteAt's wraparound never overwrites bytes not yet flushed.
// The caller must already hold whatever synchronization protects concurrent
// reservations (the ConsolidationArray serializes this per group).
func (b *RingBuffer) Reserve(n int) (offset uint64, assigned lsn.LSN) {
	b.mu.Lock()
	defer b.mu.Unlock()
	offset = b.epoch.End
	assigned = b.epoch.LSNAt(offset)
	b.epoch.End += uint64(n)
	return
}

// WriteAt copies p into the ring starting at offset, wrapping as needed.
func (b *RingBuffer) WriteAt(offset uint64, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := offset % b.cap
	n := copy(b.data[pos:], p)
	if n < len(p) {
		copy(b.data[0:], p[n:])
	}
}

// ReadRange returns a copy of the bytes in [start, end), handling wraparound.
func (b *RingBuffer) ReadRange(start, end uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, end-start)
	pos := start % b.cap
	n := copy(out, b.data[pos:])
	if uint64(n) < end-start {
		copy(out[n:], b.data[0:])
	}
	return out
}

// CurrentEpoch returns a snapshot of the current epoch.
func (b *RingBuffer) CurrentEpoch() Epoch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// AdvanceStart moves the durable-through marker forward after a flush,
// waking any goroutine blocked in AcquireBufferSpace waiting for the
// headroom this just freed up.
func (b *RingBuffer) AdvanceStart(newStart uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if newStart > b.epoch.Start {
		b.epoch.Start = newStart
	}
	b.cond.Broadcast()
}

// Rebase starts a fresh epoch at the given LSN and ring offset, used when a
// partition rolls over. The fresh epoch always has plenty of headroom, so
// this also wakes any blocked waiter.
func (b *RingBuffer) Rebase(baseLSN lsn.LSN, base uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch = Epoch{BaseLSN: baseLSN, Base: base, Start: base, End: base}
	b.cond.Broadcast()
}
