package wal

import (
	"encoding/binary"
	"io"
)

// Header and type constants.
const (
	HeaderSize = 24 // fixed header size in bytes
	WALVersion = 1  // current WAL format version

	// WALMagic is a quick-validation magic number.
	WALMagic = 0xDEADBEEF
)

// Operation types (EntryType).
const (
	EntryInsert uint8 = iota + 1 // 1: Insert
	EntryUpdate                  // 2: Update
	EntryDelete                  // 3: Delete
	EntryBegin                   // 4: Begin Transaction
	EntryCommit                  // 5: Commit
	EntryAbort                   // 6: Rollback
)

// WALHeader is the 24-byte header on every entry.
type WALHeader struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	EntryType  uint8  // 1 byte
	Reserved   uint16 // 2 bytes (padding/alignment)
	LSN        uint64 // 8 bytes (Log Sequence Number)
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes
}

// WALEntry is one complete log entry.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode deserializes buf into the header struct.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes the entry (header + payload) to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	// write header
	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	// write payload
	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
