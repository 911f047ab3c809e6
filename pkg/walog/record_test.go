package walog_test

import (
	"testing"

	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/walog"
)

func TestRecord_EncodeDecodeRoundTrip(t *testing.T) {
	r := &walog.Record{
		Type:        walog.RecordUpdate,
		XctID:       7,
		PrevLSN:     lsn.LSN{File: 0, Offset: 10},
		PagePrevLSN: lsn.LSN{File: 0, Offset: 5},
		PageID:      99,
		Payload:     []byte("hello world"),
	}
	buf := make([]byte, r.EncodedLen())
	n := r.Encode(buf)
	if n != len(buf) {
		t.Fatalf("Encode wrote %d bytes, expected %d", n, len(buf))
	}

	got, consumed, err := walog.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != n {
		t.Fatalf("consumed %d, want %d", consumed, n)
	}
	if got.XctID != r.XctID || string(got.Payload) != string(r.Payload) || got.PageID != r.PageID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRecord_DecodeBackward(t *testing.T) {
	r := &walog.Record{Type: walog.RecordCompensation, XctID: 3, Payload: []byte("clr")}
	buf := make([]byte, r.EncodedLen())
	r.Encode(buf)

	padded := append([]byte("garbage-prefix-"), buf...)
	got, n, err := walog.DecodeBackward(padded)
	if err != nil {
		t.Fatalf("DecodeBackward: %v", err)
	}
	if n != len(buf) || got.XctID != 3 {
		t.Fatalf("unexpected backward decode: n=%d got=%+v", n, got)
	}
}

func TestRecord_PageWriteRoundTrip(t *testing.T) {
	r := &walog.Record{
		Type:     walog.RecordPageWrite,
		PageID:   2,
		CleanLSN: lsn.LSN{File: 0, Offset: 3},
	}
	buf := make([]byte, r.EncodedLen())
	r.Encode(buf)

	got, _, err := walog.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != walog.RecordPageWrite || got.PageID != 2 || got.CleanLSN != r.CleanLSN {
		t.Fatalf("page-write round trip mismatch: %+v", got)
	}
}

func TestRecord_ChecksumMismatchDetected(t *testing.T) {
	r := &walog.Record{Type: walog.RecordUpdate, Payload: []byte("x")}
	buf := make([]byte, r.EncodedLen())
	r.Encode(buf)
	buf[5] ^= 0xFF // corrupt a header byte, leaving length/trailer intact

	if _, _, err := walog.Decode(buf); err == nil {
		t.Fatalf("expected checksum mismatch to be detected")
	}
}
