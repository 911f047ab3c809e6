package rawlock

import (
	"sync"
	"time"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

// Handle composite word layout (component D, spec §4.D / §9 "Cyclic structures"):
// the markable "next" pointer on a LockEntry is a single atomically-CASable
// uint64 packing a pool Handle, a delete-mark bit, and an ABA counter, rather
// than an owning *LockEntry pointer — multiple readers traverse the queue
// concurrently and must detect a slot that was freed and reused out from
// under them.
const (
	localIdxBits = 36
	genIDBits    = 12
	abaBits      = 15

	localIdxMask = (uint64(1) << localIdxBits) - 1
	genIDMask    = (uint64(1) << genIDBits) - 1
	abaMask      = (uint64(1) << abaBits) - 1

	genIDShift = localIdxBits
	markShift  = localIdxBits + genIDBits
	abaShift   = markShift + 1
)

// Handle addresses a cell in the generational pool: a (generation, local
// index) pair, packed so it can live inside the 64-bit markable pointer word.
type Handle uint64

// NilHandle is never a valid allocation; it plays the role of a nil pointer.
const NilHandle Handle = 0

func newHandle(genID uint32, localIdx uint64) Handle {
	return Handle((uint64(genID) & genIDMask) << genIDShift | (localIdx & localIdxMask))
}

func (h Handle) generation() uint32 { return uint32((uint64(h) >> genIDShift) & genIDMask) }
func (h Handle) localIndex() uint64 { return uint64(h) & localIdxMask }

// markWord packs a handle, delete-mark bit and ABA counter into one word
// suitable for atomic.Uint64 CompareAndSwap.
func markWord(h Handle, marked bool, aba uint32) uint64 {
	w := uint64(h) & ((uint64(1) << markShift) - 1)
	if marked {
		w |= uint64(1) << markShift
	}
	w |= (uint64(aba) & abaMask) << abaShift
	return w
}

func unmarkWord(w uint64) (h Handle, marked bool, aba uint32) {
	h = Handle(w & ((uint64(1) << markShift) - 1))
	marked = (w>>markShift)&1 != 0
	aba = uint32((w >> abaShift) & abaMask)
	return
}

type poolCell[T any] struct {
	value T
	used  bool
}

type generation[T any] struct {
	id       uint32
	segSize  int
	segments [][]poolCell[T]
	mu       sync.Mutex
	freeList []uint64 // local indices available for reuse
	next     uint64    // next never-used local index
	retired  bool
	retireAt lsn.LSN // oldest-active LSN observed when this generation was superseded
}

func (g *generation[T]) capacity() uint64 {
	return uint64(len(g.segments)) * uint64(g.segSize)
}

func (g *generation[T]) cellAt(localIdx uint64) *poolCell[T] {
	segIdx := localIdx / uint64(g.segSize)
	off := localIdx % uint64(g.segSize)
	return &g.segments[segIdx][off]
}

func (g *generation[T]) addSegment() {
	g.segments = append(g.segments, make([]poolCell[T], g.segSize))
}

// Pool is a GenerationalPool: the only safe way to free lock/xct objects
// that other threads may be concurrently traversing via the markable
// pointer chain. Allocation consumes cells from the current generation;
// deallocation only flags the cell as free. A background goroutine grows
// the current generation, opens new ones, and retires old generations once
// no LSN at or below the oldest active LSN could still reference them.
type Pool[T any] struct {
	mu          sync.RWMutex
	generations map[uint32]*generation[T]
	order       []uint32 // generation ids oldest to newest
	nextGenID   uint32

	segSize          int
	initSegmentCount int
	freeSegmentCount int
	maxSegmentCount  int
	generationCount  int
	gcInterval       time.Duration

	// oldestActiveLSN reports the log-space low-water mark; when no log is
	// attached, tests may supply a synthetic monotonic source (spec §4.D:
	// "a synthetic advancing LSN drives retirement for test determinism").
	oldestActiveLSN func() lsn.LSN

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// PoolOptions configures a Pool, mirroring sm_rawlock_* options (spec §6).
type PoolOptions struct {
	SegSize          int
	InitSegmentCount int
	FreeSegmentCount int
	MaxSegmentCount  int
	GenerationCount  int
	GCInterval       time.Duration
	OldestActiveLSN  func() lsn.LSN
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.SegSize <= 0 {
		o.SegSize = 1024
	}
	if o.InitSegmentCount <= 0 {
		o.InitSegmentCount = 1
	}
	if o.FreeSegmentCount <= 0 {
		o.FreeSegmentCount = 1
	}
	if o.MaxSegmentCount <= 0 {
		o.MaxSegmentCount = 64
	}
	if o.GenerationCount <= 0 {
		o.GenerationCount = 3
	}
	if o.GCInterval <= 0 {
		o.GCInterval = 50 * time.Millisecond
	}
	if o.OldestActiveLSN == nil {
		o.OldestActiveLSN = func() lsn.LSN { return lsn.Null }
	}
	return o
}

// NewPool creates a pool with one seeded generation and starts its
// background reclaimer goroutine.
func NewPool[T any](opts PoolOptions) *Pool[T] {
	opts = opts.withDefaults()
	p := &Pool[T]{
		generations:      make(map[uint32]*generation[T]),
		nextGenID:        1, // generation 0 would make cell 0's handle equal NilHandle
		segSize:          opts.SegSize,
		initSegmentCount: opts.InitSegmentCount,
		freeSegmentCount: opts.FreeSegmentCount,
		maxSegmentCount:  opts.MaxSegmentCount,
		generationCount:  opts.GenerationCount,
		gcInterval:       opts.GCInterval,
		oldestActiveLSN:  opts.OldestActiveLSN,
		stopCh:           make(chan struct{}),
	}
	p.openGeneration(opts.InitSegmentCount)
	p.wg.Add(1)
	go p.reclaimLoop()
	return p
}

func (p *Pool[T]) openGeneration(initSegs int) *generation[T] {
	g := &generation[T]{id: p.nextGenID, segSize: p.segSize}
	p.nextGenID++
	for i := 0; i < initSegs; i++ {
		g.addSegment()
	}
	p.generations[g.id] = g
	p.order = append(p.order, g.id)
	return g
}

func (p *Pool[T]) currentGeneration() *generation[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id := p.order[len(p.order)-1]
	return p.generations[id]
}

// Allocate reserves a cell from the current generation and returns a pointer
// to its zero-valued payload plus a stable Handle for later Free/Get calls.
func (p *Pool[T]) Allocate() (*T, Handle) {
	for {
		gen := p.currentGeneration()
		gen.mu.Lock()
		var localIdx uint64
		ok := false
		if len(gen.freeList) > 0 {
			localIdx = gen.freeList[len(gen.freeList)-1]
			gen.freeList = gen.freeList[:len(gen.freeList)-1]
			ok = true
		} else if gen.next < gen.capacity() {
			localIdx = gen.next
			gen.next++
			ok = true
		} else if len(gen.segments) < p.maxSegmentCount {
			gen.addSegment()
			localIdx = gen.next
			gen.next++
			ok = true
		}
		if !ok {
			gen.mu.Unlock()
			// Current generation is saturated and at its cap; background
			// reclaimer will open a fresh one shortly. Grow synchronously
			// rather than block forever on an allocate() call.
			p.mu.Lock()
			if p.currentGenerationLocked().id == gen.id {
				p.openGeneration(p.initSegmentCount)
			}
			p.mu.Unlock()
			continue
		}
		cell := gen.cellAt(localIdx)
		cell.used = true
		gen.mu.Unlock()
		return &cell.value, newHandle(gen.id, localIdx)
	}
}

func (p *Pool[T]) currentGenerationLocked() *generation[T] {
	id := p.order[len(p.order)-1]
	return p.generations[id]
}

// Get resolves a Handle to its payload pointer. Returns nil if the
// generation has already been retired (stale handle).
func (p *Pool[T]) Get(h Handle) *T {
	if h == NilHandle {
		return nil
	}
	p.mu.RLock()
	gen, ok := p.generations[h.generation()]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	gen.mu.Lock()
	defer gen.mu.Unlock()
	cell := gen.cellAt(h.localIndex())
	if !cell.used {
		return nil
	}
	return &cell.value
}

// Free flags the cell as reusable; it does not reset the payload. Callers
// reinitialize every field they care about on the next Allocate (LockEntry
// and TransactionShadow both do), which avoids ever assigning over a
// struct that embeds a mutex or atomic value while it might still be
// observed. The memory itself is not released until the owning generation
// retires, which is what keeps concurrent readers safe: a retired
// generation is only removed once the log's oldest-active LSN has advanced
// past the point it was superseded.
func (p *Pool[T]) Free(h Handle) {
	if h == NilHandle {
		return
	}
	p.mu.RLock()
	gen, ok := p.generations[h.generation()]
	p.mu.RUnlock()
	if !ok {
		return
	}
	gen.mu.Lock()
	cell := gen.cellAt(h.localIndex())
	cell.used = false
	gen.freeList = append(gen.freeList, h.localIndex())
	gen.mu.Unlock()
}

func (p *Pool[T]) reclaimLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reclaimOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool[T]) reclaimOnce() {
	p.mu.Lock()
	cur := p.currentGenerationLocked()
	cur.mu.Lock()
	free := int64(cur.capacity()-cur.next) + int64(len(cur.freeList))
	needsGrowth := free < int64(p.freeSegmentCount)*int64(p.segSize)
	atCap := len(cur.segments) >= p.maxSegmentCount
	cur.mu.Unlock()

	if needsGrowth {
		if !atCap {
			cur.mu.Lock()
			cur.addSegment()
			cur.mu.Unlock()
		} else {
			newGen := p.openGeneration(p.initSegmentCount)
			log.Debug().Int("generation", int(newGen.id)).Msg("rawlock pool opened new generation")
		}
	}

	// Retire generations older than generationCount, provided the oldest
	// active LSN has moved past the point each was superseded.
	oldest := p.oldestActiveLSN()
	for len(p.order) > p.generationCount {
		candidateID := p.order[0]
		candidate := p.generations[candidateID]
		candidate.mu.Lock()
		if !candidate.retired {
			candidate.retired = true
			candidate.retireAt = oldest
		}
		safeToDrop := candidate.retireAt.LessOrEqual(oldest)
		candidate.mu.Unlock()
		if !safeToDrop {
			break
		}
		delete(p.generations, candidateID)
		p.order = p.order[1:]
		log.Debug().Int("generation", int(candidateID)).Str("oldest_active_lsn", oldest.String()).
			Msg("rawlock pool retired generation")
	}
	p.mu.Unlock()
}

// Close stops the background reclaimer and waits for it to exit.
func (p *Pool[T]) Close() {
	close(p.stopCh)
	p.wg.Wait()
}
