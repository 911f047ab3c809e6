package walog

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	rlerrors "github.com/bobboyms/storage-engine/pkg/errors"
	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/options"
)

func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// FlushPolicy mirrors the teacher WAL's SyncPolicy (pkg/wal/options.go),
// generalized to a log made of many partitions and a group-commit front end.
type FlushPolicy int

const (
	// FlushPerGroup fsyncs once per consolidated commit group — the
	// default, and what makes group commit actually buy anything.
	FlushPerGroup FlushPolicy = iota
	// FlushInterval defers fsync to a background ticker; Append returns
	// as soon as bytes are buffered, and durability follows within one
	// tick.
	FlushInterval
)

// CoreOptions configures a LogCore, reading from the shared options.Map
// (spec §6/§7) with sensible fallbacks.
type CoreOptions struct {
	Dir              string
	PartitionSize    int64
	BufSize          int
	ConsolidationSlots int
	GatherWait       time.Duration
	Policy           FlushPolicy
	FlushInterval    time.Duration
	OldestActiveLSN  func() lsn.LSN

	// ReserveMargin is the trailing headroom AcquireBufferSpace keeps free
	// below BufSize (spec §4.G step 3's "2·blockSize"). Zero means
	// AcquireBufferSpace waits only when a batch would exceed BufSize
	// itself, with no headroom kept below that limit.
	ReserveMargin int
}

func coreOptionsFromMap(dir string, m *options.Map) CoreOptions {
	blockSize := int(m.Int64(options.LogBlockSize, 4096))
	marginBlocks := int(m.Int64(options.LogReserveMarginBlocks, 2))
	return CoreOptions{
		Dir:                dir,
		PartitionSize:      m.Int64(options.LogSize, 64<<20),
		BufSize:            int(m.Int64(options.LogBufSize, 1<<20)),
		ConsolidationSlots: 8,
		GatherWait:         200 * time.Microsecond,
		Policy:             FlushPerGroup,
		FlushInterval:      5 * time.Millisecond,
		ReserveMargin:      blockSize * marginBlocks,
	}
}

// OpenFromOptions opens a LogCore under dir, reading sm_logsize/sm_logbufsize
// from m (spec §6 options wiring) and driving generation/partition
// retirement off oldestActiveLSN.
func OpenFromOptions(dir string, m *options.Map, oldestActiveLSN func() lsn.LSN) (*LogCore, error) {
	opts := coreOptionsFromMap(dir, m)
	opts.OldestActiveLSN = oldestActiveLSN
	return Open(opts)
}

// LogCore is the append/flush/fetch engine (component G): it owns the
// partitions on disk, the in-memory ring buffer staging area, and the
// ConsolidationArray group-commit front end, and implements reservation
// accounting so checkpoints can guarantee enough trailing log space exists
// to write themselves.
type LogCore struct {
	mu sync.Mutex

	dir           string
	partitionSize int64
	bufSize       int

	partitions []*Partition // closed, oldest to newest
	current    *Partition

	ring *RingBuffer
	ca   *ConsolidationArray

	durableLSN lsn.LSN
	durableCond *sync.Cond

	reservedBytes int64

	policy        FlushPolicy
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool

	oldestActiveLSN func() lsn.LSN
}

// Open creates or reopens a LogCore rooted at opts.Dir, starting a fresh
// partition 0 if the directory is empty.
func Open(opts CoreOptions) (*LogCore, error) {
	if opts.OldestActiveLSN == nil {
		opts.OldestActiveLSN = func() lsn.LSN { return lsn.Null }
	}
	first, err := OpenPartition(opts.Dir, 0, opts.BufSize)
	if err != nil {
		return nil, err
	}

	lc := &LogCore{
		dir:             opts.Dir,
		partitionSize:   opts.PartitionSize,
		bufSize:         opts.BufSize,
		current:         first,
		ring:            NewRingBuffer(opts.BufSize, opts.ReserveMargin, lsn.LSN{File: 0, Offset: uint64(first.Size())}),
		policy:          opts.Policy,
		flushInterval:   opts.FlushInterval,
		stopCh:          make(chan struct{}),
		oldestActiveLSN: opts.OldestActiveLSN,
	}
	lc.durableCond = sync.NewCond(&lc.mu)
	lc.ca = NewConsolidationArray(opts.ConsolidationSlots, lc, opts.GatherWait)

	if lc.policy == FlushInterval {
		lc.wg.Add(1)
		go lc.flushDaemon()
	}

	return lc, nil
}

// Append serializes rec, joins the current group-commit round, and returns
// the LSN assigned to it. Whether the byte range is durable by the time
// Append returns depends on the configured FlushPolicy; call WaitDurable to
// be sure.
func (lc *LogCore) Append(rec *Record) (lsn.LSN, error) {
	buf := make([]byte, rec.EncodedLen())
	rec.Encode(buf)
	return lc.ca.Join(buf)
}

// Compensate appends a compensation log record (a CLR): its UndoNextLSN
// tells a later undo pass to resume from there, skipping the range this CLR
// already compensates for (spec §7).
func (lc *LogCore) Compensate(xctID uint64, prevLSN, undoNext lsn.LSN, pageID uint64, payload []byte) (lsn.LSN, error) {
	rec := &Record{
		Type:        RecordCompensation,
		XctID:       xctID,
		PrevLSN:     prevLSN,
		UndoNextLSN: undoNext,
		PageID:      pageID,
		Payload:     payload,
	}
	return lc.Append(rec)
}

// writeBatch implements groupWriter: it is called by the ConsolidationArray
// leader with the concatenated bytes of one commit group. It first blocks
// (outside lc.mu, so the flush daemon and other partitions' flush paths stay
// free to run and make room) until the ring buffer has space for the batch
// (spec §4.G step 3, acquireBufferSpace) — without this, a burst of appends
// between FlushInterval ticks could silently wrap the ring over bytes not
// yet durable.
func (lc *LogCore) writeBatch(batch []byte) (lsn.LSN, error) {
	if err := lc.ring.AcquireBufferSpace(len(batch)); err != nil {
		return lsn.Null, err
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return lsn.Null, ErrLogClosed
	}

	if lc.current.Size()+int64(len(batch)) > lc.partitionSize {
		if err := lc.rolloverLocked(); err != nil {
			return lsn.Null, err
		}
	}

	offset, assigned := lc.ring.Reserve(len(batch))
	lc.ring.WriteAt(offset, batch)

	if err := lc.current.Append(batch); err != nil {
		return lsn.Null, err
	}

	if lc.policy == FlushPerGroup {
		if err := lc.current.Flush(); err != nil {
			return lsn.Null, err
		}
		lc.ring.AdvanceStart(offset + uint64(len(batch)))
		lc.durableLSN = lsn.LSN{File: assigned.File, Offset: assigned.Offset + uint64(len(batch))}
		lc.durableCond.Broadcast()
	}

	return assigned, nil
}

// rolloverLocked closes the current partition, opens the next numbered one,
// and rebases the ring buffer's epoch. Caller must hold lc.mu.
func (lc *LogCore) rolloverLocked() error {
	if err := lc.current.Close(); err != nil {
		return err
	}
	lc.partitions = append(lc.partitions, lc.current)

	next, err := OpenPartition(lc.dir, lc.current.Num()+1, lc.bufSize)
	if err != nil {
		return err
	}
	log.Debug().Uint32("closed_partition", lc.current.Num()).Uint32("new_partition", next.Num()).
		Msg("log partition rollover")
	lc.current = next
	lc.ring.Rebase(lsn.LSN{File: next.Num(), Offset: 0}, 0)
	return nil
}

// DurableLSN returns the highest LSN known to be fsynced.
func (lc *LogCore) DurableLSN() lsn.LSN {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.durableLSN
}

// WaitDurable blocks until DurableLSN() >= target.
func (lc *LogCore) WaitDurable(target lsn.LSN) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for lc.durableLSN.Less(target) && !lc.closed {
		lc.durableCond.Wait()
	}
}

func (lc *LogCore) flushDaemon() {
	defer lc.wg.Done()
	ticker := time.NewTicker(lc.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lc.flushCurrent()
		case <-lc.stopCh:
			return
		}
	}
}

func (lc *LogCore) flushCurrent() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return
	}
	if err := lc.current.Flush(); err != nil {
		return
	}
	ep := lc.ring.CurrentEpoch()
	lc.ring.AdvanceStart(ep.End)
	lc.durableLSN = ep.LSNAt(ep.End)
	lc.durableCond.Broadcast()
}

// ReserveSpace reserves bytes of trailing log capacity so a checkpoint is
// guaranteed room to write itself even under concurrent append pressure
// (spec §4.G space reservation). It refuses with OutOfLogSpaceError rather
// than accepting a promise the current partition cannot back: if granting
// bytes on top of what is already reserved would exceed the partition's
// remaining headroom, the reservation is not recorded. VerifyReservation
// reports whether the current partition still has that much headroom.
func (lc *LogCore) ReserveSpace(bytes int64) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	headroom := lc.partitionSize - lc.current.Size()
	available := headroom - lc.reservedBytes
	if bytes > available {
		return &rlerrors.OutOfLogSpaceError{Requested: bytes, Available: available}
	}
	lc.reservedBytes += bytes
	return nil
}

func (lc *LogCore) ReleaseSpace(bytes int64) {
	lc.mu.Lock()
	lc.reservedBytes -= bytes
	if lc.reservedBytes < 0 {
		lc.reservedBytes = 0
	}
	lc.mu.Unlock()
}

func (lc *LogCore) VerifyReservation() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	headroom := lc.partitionSize - lc.current.Size()
	return headroom >= lc.reservedBytes
}

// partitionByNum returns the partition covering file number num, searching
// closed partitions and falling back to current.
func (lc *LogCore) partitionByNum(num uint32) *Partition {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.current.Num() == num {
		return lc.current
	}
	idx := sort.Search(len(lc.partitions), func(i int) bool { return lc.partitions[i].Num() >= num })
	if idx < len(lc.partitions) && lc.partitions[idx].Num() == num {
		return lc.partitions[idx]
	}
	return nil
}

// FetchForward reads the record at exactly at, returning it and the LSN of
// whatever follows it. It reads closed partitions and the current one, but
// only bytes already flushed to the file; a caller scanning up to the
// in-memory tail should WaitDurable first.
func (lc *LogCore) FetchForward(at lsn.LSN) (*Record, lsn.LSN, error) {
	p := lc.partitionByNum(at.File)
	if p == nil {
		return nil, lsn.Null, ErrShortRead
	}
	header, err := p.ReadAt(int64(at.Offset), 4)
	if err != nil {
		return nil, lsn.Null, err
	}
	total := int(beUint32(header))
	buf, err := p.ReadAt(int64(at.Offset), total)
	if err != nil {
		return nil, lsn.Null, err
	}
	rec, n, err := Decode(buf)
	if err != nil {
		return nil, lsn.Null, err
	}
	next := lsn.LSN{File: at.File, Offset: at.Offset + uint64(n)}
	return rec, next, nil
}

// FetchBackward reads the record whose trailer ends exactly at before,
// returning it and the LSN of its first byte (i.e. the next backward
// fetch target).
func (lc *LogCore) FetchBackward(before lsn.LSN) (*Record, lsn.LSN, error) {
	p := lc.partitionByNum(before.File)
	if p == nil {
		return nil, lsn.Null, ErrShortRead
	}
	trailer, err := p.ReadAt(int64(before.Offset)-trailerSize, trailerSize)
	if err != nil {
		return nil, lsn.Null, err
	}
	total := int(beUint32(trailer))
	start := int64(before.Offset) - int64(total)
	buf, err := p.ReadAt(start, total)
	if err != nil {
		return nil, lsn.Null, err
	}
	rec, _, err := Decode(buf)
	if err != nil {
		return nil, lsn.Null, err
	}
	return rec, lsn.LSN{File: before.File, Offset: uint64(start)}, nil
}

// ScavengeReclaimable removes closed partitions entirely older than the
// oldest active LSN's file, returning how many were scavenged. Safe to call
// periodically from a background vacuum loop.
func (lc *LogCore) ScavengeReclaimable() int {
	oldest := lc.oldestActiveLSN()
	lc.mu.Lock()
	keep := lc.partitions[:0:0]
	scavenged := 0
	for _, p := range lc.partitions {
		if p.Num() < oldest.File {
			if err := p.Scavenge(); err == nil {
				scavenged++
				log.Debug().Uint32("partition", p.Num()).Str("oldest_active_lsn", oldest.String()).
					Msg("scavenged log partition")
				continue
			} else {
				log.Warn().Err(err).Uint32("partition", p.Num()).Msg("failed to scavenge log partition")
			}
		}
		keep = append(keep, p)
	}
	lc.partitions = keep
	lc.mu.Unlock()
	return scavenged
}

// Close flushes and closes every partition, stopping the background daemon
// if one is running.
func (lc *LogCore) Close() error {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return nil
	}
	lc.closed = true
	lc.durableCond.Broadcast()
	lc.mu.Unlock()

	lc.ring.Close()

	if lc.policy == FlushInterval {
		close(lc.stopCh)
		lc.wg.Wait()
	}

	if err := lc.current.Close(); err != nil {
		return err
	}
	for _, p := range lc.partitions {
		if err := p.Close(); err != nil {
			return err
		}
	}
	return nil
}
