package walog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

// slotState is the sentinel lifecycle of one ConsolidationArray slot.
type slotState int32

const (
	slotAvailable slotState = iota
	slotPending
)

// contribution is one participant's stake in a commit group: the bytes it
// wants appended, and a channel signaled once the group's leader has
// durably written them and assigned this participant's LSN.
type contribution struct {
	payload      []byte
	offsetInSlot int
	assignedLSN  lsn.LSN
	err          error
	done         chan struct{}
}

type slot struct {
	mu           sync.Mutex
	state        slotState
	participants []*contribution
}

// groupWriter is what a ConsolidationArray needs from the log core to turn
// a batch of contributions into a durable write: reserve space, copy bytes
// in, and flush through some durable point.
type groupWriter interface {
	writeBatch(total []byte) (firstLSN lsn.LSN, err error)
}

// ConsolidationArray implements group commit (component F): concurrent
// appenders "join" a small fixed set of slots; whichever thread finds an
// Available slot becomes leader for that round, gathers the followers who
// join the same slot within a short window, issues one combined write, and
// wakes every follower with its assigned LSN. This amortizes fsync cost
// across concurrent committers the same way a single flush would for one.
type ConsolidationArray struct {
	slots      []*slot
	next       atomic.Uint64
	writer     groupWriter
	gatherWait time.Duration
}

// NewConsolidationArray creates an array of numSlots slots. gatherWait is
// how long a leader waits after joining before closing its slot to new
// followers and issuing the batched write.
func NewConsolidationArray(numSlots int, writer groupWriter, gatherWait time.Duration) *ConsolidationArray {
	ca := &ConsolidationArray{
		slots:      make([]*slot, numSlots),
		writer:     writer,
		gatherWait: gatherWait,
	}
	for i := range ca.slots {
		ca.slots[i] = &slot{state: slotAvailable}
	}
	return ca
}

// Join submits payload for group commit and blocks until it is durable,
// returning the LSN assigned to the first byte of payload.
func (ca *ConsolidationArray) Join(payload []byte) (lsn.LSN, error) {
	idx := ca.next.Add(1) % uint64(len(ca.slots))
	s := ca.slots[idx]

	s.mu.Lock()
	isLeader := s.state == slotAvailable
	if isLeader {
		s.state = slotPending
	}
	c := &contribution{payload: payload, done: make(chan struct{})}
	s.participants = append(s.participants, c)
	s.mu.Unlock()

	if !isLeader {
		<-c.done
		return c.assignedLSN, c.err
	}

	if ca.gatherWait > 0 {
		time.Sleep(ca.gatherWait)
	}

	// Capture this round's participants and reopen the slot for a new
	// round in one critical section, so a joiner arriving after this
	// point always starts a fresh round rather than racing to append to
	// a batch the leader has already snapshotted.
	s.mu.Lock()
	parts := s.participants
	s.participants = nil
	s.state = slotAvailable
	s.mu.Unlock()

	total := 0
	for _, p := range parts {
		p.offsetInSlot = total
		total += len(p.payload)
	}
	batch := make([]byte, total)
	for _, p := range parts {
		copy(batch[p.offsetInSlot:], p.payload)
	}

	firstLSN, err := ca.writer.writeBatch(batch)

	for _, p := range parts {
		p.assignedLSN = lsn.LSN{File: firstLSN.File, Offset: firstLSN.Offset + uint64(p.offsetInSlot)}
		p.err = err
	}

	for _, p := range parts {
		if p != c {
			close(p.done)
		}
	}

	return c.assignedLSN, c.err
}
