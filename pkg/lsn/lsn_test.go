package lsn_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

func TestLSN_Compare(t *testing.T) {
	a := lsn.LSN{File: 1, Offset: 100}
	b := lsn.LSN{File: 1, Offset: 200}
	c := lsn.LSN{File: 2, Offset: 0}

	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(c) >= 0 {
		t.Fatalf("expected b < c")
	}
	if !lsn.Null.Less(a) {
		t.Fatalf("expected Null < a")
	}
}

func TestLSN_BigEndianOrderingAgreesWithNumeric(t *testing.T) {
	lsns := []lsn.LSN{
		{File: 0, Offset: 0},
		{File: 0, Offset: 1},
		{File: 1, Offset: 0},
		{File: 1, Offset: 1 << 40},
		{File: 2, Offset: 5},
	}

	encoded := make([][]byte, len(lsns))
	for i, l := range lsns {
		encoded[i] = l.AppendBinary(nil)
	}

	sorted := append([][]byte{}, encoded...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	for i, b := range sorted {
		if !bytes.Equal(b, encoded[i]) {
			t.Fatalf("byte order diverges from numeric order at index %d", i)
		}
	}
}

func TestLSN_DecodeRoundTrip(t *testing.T) {
	l := lsn.LSN{File: 7, Offset: 123456789}
	buf := l.AppendBinary(nil)
	got, n := lsn.Decode(buf)
	if n != 12 || got != l {
		t.Fatalf("round trip failed: got %v n=%d", got, n)
	}
}

func TestLSN_MinMax(t *testing.T) {
	a := lsn.LSN{File: 1, Offset: 5}
	b := lsn.LSN{File: 1, Offset: 9}
	if lsn.Min(a, b) != a {
		t.Fatalf("expected min to be a")
	}
	if lsn.Max2(a, b) != b {
		t.Fatalf("expected max to be b")
	}
}
