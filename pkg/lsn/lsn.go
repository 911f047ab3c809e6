// Package lsn implements the log sequence number used throughout the
// transactional substrate as both a log position and a versioning stamp.
package lsn

import (
	"encoding/binary"
	"fmt"
)

// LSN is a monotonically increasing token partitioned as (file, offset).
// Comparisons are total; the zero value is Null, the smallest possible LSN.
type LSN struct {
	File   uint32
	Offset uint64
}

// Null is the smallest LSN, used as a sentinel for "no value".
var Null = LSN{}

// Max is used as a sentinel meaning "later than anything currently durable".
var Max = LSN{File: ^uint32(0), Offset: ^uint64(0)}

// IsNull reports whether l is the null LSN.
func (l LSN) IsNull() bool {
	return l == Null
}

// Compare returns -1, 0 or 1 as l is less than, equal to, or greater than o.
func (l LSN) Compare(o LSN) int {
	if l.File != o.File {
		if l.File < o.File {
			return -1
		}
		return 1
	}
	if l.Offset != o.Offset {
		if l.Offset < o.Offset {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether l < o.
func (l LSN) Less(o LSN) bool { return l.Compare(o) < 0 }

// LessOrEqual reports whether l <= o.
func (l LSN) LessOrEqual(o LSN) bool { return l.Compare(o) <= 0 }

// Min returns the smaller of two LSNs, treating Null as smallest.
func Min(a, b LSN) LSN {
	if a.Compare(b) <= 0 {
		return a
	}
	return b
}

// Max2 returns the larger of two LSNs.
func Max2(a, b LSN) LSN {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// String renders the LSN in the canonical "file.offset" textual form used in
// master-record filenames (spec §6, LSN-in-filename).
func (l LSN) String() string {
	return fmt.Sprintf("%d.%d", l.File, l.Offset)
}

// AppendBinary appends the big-endian encoding of the LSN to buf, so that a
// lexicographic byte compare of the result agrees with numeric LSN order
// (spec §6 Endianness: unsigned fields, big-endian, required for this
// property to hold).
func (l LSN) AppendBinary(buf []byte) []byte {
	var tmp [12]byte
	binary.BigEndian.PutUint32(tmp[0:4], l.File)
	binary.BigEndian.PutUint64(tmp[4:12], l.Offset)
	return append(buf, tmp[:]...)
}

// Decode reads a big-endian-encoded LSN from the front of buf, returning the
// LSN and the number of bytes consumed.
func Decode(buf []byte) (LSN, int) {
	if len(buf) < 12 {
		return Null, 0
	}
	return LSN{
		File:   binary.BigEndian.Uint32(buf[0:4]),
		Offset: binary.BigEndian.Uint64(buf[4:12]),
	}, 12
}
