// Package walog implements the segmented, group-commit write-ahead log
// (components E, F, G): log records, the in-memory epoch buffer, the
// consolidation-array commit protocol, and the log core that ties them to
// on-disk partitions.
package walog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// RecordType tags what a Record represents.
type RecordType uint8

const (
	RecordUpdate RecordType = iota
	RecordCompensation
	RecordXctEnd
	RecordCheckpointBegin
	RecordCheckpointEnd
	RecordSkip
	// RecordPageWrite marks a page cleaner's flush of one page to disk.
	// CleanLSN carries the page's own LSN as observed at flush time (spec
	// §8 S6, "cleaner lost update"); XctID and the other transaction-scoped
	// fields are unused on this record type.
	RecordPageWrite
)

// fixedHeaderSize is everything before the variable-length payload:
// length(4) + type(1) + xctID(8) + prevLSN(12) + pagePrevLSN(12) +
// undoNextLSN(12) + cleanLSN(12) + pageID(8).
const fixedHeaderSize = 4 + 1 + 8 + 12 + 12 + 12 + 8 + 12

// trailerSize is the repeated length word at the end of each record, which
// lets fetch() walk the log backward without an index.
const trailerSize = 4

// checksumSize is the CRC32 appended just before the trailer.
const checksumSize = 4

// Record is one write-ahead log entry.
type Record struct {
	Type RecordType
	XctID uint64

	// PrevLSN chains this record to the previous record of the same
	// transaction, so undo can walk backward without a separate index.
	PrevLSN lsn.LSN

	// PagePrevLSN chains this record to the previous update applied to
	// the same page, for redo recovery (component H).
	PagePrevLSN lsn.LSN

	// UndoNextLSN is meaningful only on RecordCompensation records: it
	// names the LSN undo should resume from, skipping the range the CLR
	// already compensated for (spec §7, compensate()/CLR handling).
	UndoNextLSN lsn.LSN

	// CleanLSN is meaningful only on RecordPageWrite records: the page's
	// own LSN at the moment a cleaner flushed it, used by checkpoint
	// reconstruction to decide whether the page is now clean (spec §8 S6).
	CleanLSN lsn.LSN

	PageID  uint64
	Payload []byte
}

// EncodedLen returns the total on-disk size of r once serialized.
func (r *Record) EncodedLen() int {
	return fixedHeaderSize + len(r.Payload) + checksumSize + trailerSize
}

// Encode serializes r into buf, which must be at least EncodedLen() bytes,
// and returns the number of bytes written.
func (r *Record) Encode(buf []byte) int {
	total := r.EncodedLen()
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[5:13], r.XctID)
	off := 13
	off += copy(buf[off:], r.PrevLSN.AppendBinary(nil))
	off += copy(buf[off:], r.PagePrevLSN.AppendBinary(nil))
	off += copy(buf[off:], r.UndoNextLSN.AppendBinary(nil))
	off += copy(buf[off:], r.CleanLSN.AppendBinary(nil))
	binary.BigEndian.PutUint64(buf[off:off+8], r.PageID)
	off += 8
	off += copy(buf[off:], r.Payload)

	crc := crc32.Checksum(buf[:off], crcTable)
	binary.BigEndian.PutUint32(buf[off:off+4], crc)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(total))
	off += 4
	return off
}

// Decode parses a Record starting at the front of buf (a forward scan
// read). It returns the record and the number of bytes consumed.
func Decode(buf []byte) (*Record, int, error) {
	if len(buf) < fixedHeaderSize+checksumSize+trailerSize {
		return nil, 0, errShortRecord
	}
	total := binary.BigEndian.Uint32(buf[0:4])
	if int(total) > len(buf) {
		return nil, 0, errShortRecord
	}
	body := buf[:total]
	payloadEnd := total - checksumSize - trailerSize
	gotCRC := binary.BigEndian.Uint32(body[payloadEnd : payloadEnd+4])
	wantCRC := crc32.Checksum(body[:payloadEnd], crcTable)
	if gotCRC != wantCRC {
		return nil, 0, errChecksumMismatch
	}

	r := &Record{}
	r.Type = RecordType(body[4])
	r.XctID = binary.BigEndian.Uint64(body[5:13])
	off := 13
	r.PrevLSN, _ = lsn.Decode(body[off:])
	off += 12
	r.PagePrevLSN, _ = lsn.Decode(body[off:])
	off += 12
	r.UndoNextLSN, _ = lsn.Decode(body[off:])
	off += 12
	r.CleanLSN, _ = lsn.Decode(body[off:])
	off += 12
	r.PageID = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	r.Payload = append([]byte(nil), body[off:payloadEnd]...)
	return r, int(total), nil
}

// DecodeBackward parses the Record whose trailer ends at the end of buf,
// used to walk the log from tail to head during recovery and abort undo.
func DecodeBackward(buf []byte) (*Record, int, error) {
	if len(buf) < trailerSize {
		return nil, 0, errShortRecord
	}
	n := len(buf)
	total := binary.BigEndian.Uint32(buf[n-trailerSize:])
	if int(total) > n {
		return nil, 0, errShortRecord
	}
	start := n - int(total)
	return Decode(buf[start:])
}
