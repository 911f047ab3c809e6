// Package checkpoint rebuilds the dirty-page and in-flight-transaction
// tables recovery needs by scanning the write-ahead log forward from a
// checkpoint's begin LSN (component H). It does not depend on the runtime
// lock manager: this system never logs lock acquisitions (spec §7, "RAW"
// lock state is re-derived, not replayed), so recovery reacquires locks for
// whatever pages the reconstructed transaction table says were touched
// rather than replaying a logged lock list.
package checkpoint

import (
	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/walog"
)

// XctState is where a reconstructed transaction stood at the point the log
// ran out.
type XctState int

const (
	XctUnknown XctState = iota
	XctActive
	XctEnded
)

// BufEntry is one page's dirty-page-table row: the LSN of the oldest update
// not yet guaranteed on disk (RecLSN) and the LSN of the most recent update
// (PageLSN).
type BufEntry struct {
	RecLSN  lsn.LSN
	PageLSN lsn.LSN
}

// XctEntry is one transaction's row in the reconstructed transaction table.
type XctEntry struct {
	FirstLSN lsn.LSN
	LastLSN  lsn.LSN
	State    XctState
}

// Snapshot is the result of a reconstruction pass: the dirty-page table,
// the in-flight transaction table, and the summary fields recovery uses to
// decide how far back it must scan for UNDO and where REDO must start.
type Snapshot struct {
	BufTab      map[uint64]BufEntry
	XctTab      map[uint64]XctEntry
	HighestTid  uint64
	MinRecLsn   lsn.LSN
	MinXctLsn   lsn.LSN
}

// fetcher is the slice of *walog.LogCore the reconstructor needs; kept as
// an interface so tests can scan a canned sequence of records without
// standing up a real log.
type fetcher interface {
	FetchForward(at lsn.LSN) (*walog.Record, lsn.LSN, error)
}

// Reconstruct performs a forward scan starting at from (typically a
// checkpoint's begin LSN, or the start of the log if none exists) up to the
// log's current durable end, rebuilding bufTab and xctTab record by record.
func Reconstruct(lc fetcher, from, to lsn.LSN) (*Snapshot, error) {
	snap := &Snapshot{
		BufTab: make(map[uint64]BufEntry),
		XctTab: make(map[uint64]XctEntry),
	}

	cursor := from
	for cursor.Less(to) {
		rec, next, err := lc.FetchForward(cursor)
		if err != nil {
			return nil, err
		}
		snap.apply(rec, cursor)
		if !next.Less(cursor) && next != cursor {
			cursor = next
		} else {
			break
		}
	}

	snap.finalize()
	return snap, nil
}

func (s *Snapshot) apply(rec *walog.Record, at lsn.LSN) {
	if rec.XctID > s.HighestTid {
		s.HighestTid = rec.XctID
	}

	switch rec.Type {
	case walog.RecordXctEnd:
		delete(s.XctTab, rec.XctID)
		return
	case walog.RecordCheckpointBegin, walog.RecordCheckpointEnd:
		return
	case walog.RecordPageWrite:
		s.applyPageWrite(rec)
		return
	}

	entry, ok := s.XctTab[rec.XctID]
	if !ok {
		entry.FirstLSN = at
	}
	entry.LastLSN = at
	entry.State = XctActive
	s.XctTab[rec.XctID] = entry

	if rec.Type == walog.RecordUpdate || rec.Type == walog.RecordCompensation {
		buf, ok := s.BufTab[rec.PageID]
		if !ok {
			buf.RecLSN = at
		}
		buf.PageLSN = at
		s.BufTab[rec.PageID] = buf
	}
}

// applyPageWrite folds a page cleaner's flush event into the dirty-page
// table (spec §8 S6, "cleaner lost update"). A page is only removed from
// bufTab if its last known update strictly precedes the clean LSN; a tie
// (PageLSN == CleanLSN) is conservatively treated as still dirty, since the
// flush could have raced with that very update. When the page stays dirty,
// RecLSN is advanced to PageLSN: the flush certifies everything up to
// CleanLSN as durable, but the exact boundary of what's still outstanding
// past it isn't recoverable from this event alone, so the current PageLSN
// is the safest (most conservative) new dirty horizon.
func (s *Snapshot) applyPageWrite(rec *walog.Record) {
	entry, ok := s.BufTab[rec.PageID]
	if !ok {
		return
	}
	if entry.PageLSN.Less(rec.CleanLSN) {
		delete(s.BufTab, rec.PageID)
		return
	}
	entry.RecLSN = entry.PageLSN
	s.BufTab[rec.PageID] = entry
}

func (s *Snapshot) finalize() {
	s.MinRecLsn = lsn.Null
	s.MinXctLsn = lsn.Null

	first := true
	for _, b := range s.BufTab {
		if first || b.RecLSN.Less(s.MinRecLsn) {
			s.MinRecLsn = b.RecLSN
			first = false
		}
	}
	first = true
	for _, x := range s.XctTab {
		if first || x.FirstLSN.Less(s.MinXctLsn) {
			s.MinXctLsn = x.FirstLSN
			first = false
		}
	}
}
