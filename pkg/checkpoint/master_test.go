package checkpoint_test

import (
	"testing"

	"github.com/bobboyms/storage-engine/pkg/checkpoint"
	"github.com/bobboyms/storage-engine/pkg/lsn"
)

func TestMasterRecordName_RoundTrip(t *testing.T) {
	l := lsn.LSN{File: 3, Offset: 4096}
	name := checkpoint.MasterRecordName(l)
	got, err := checkpoint.ParseMasterRecordName(name)
	if err != nil {
		t.Fatalf("ParseMasterRecordName: %v", err)
	}
	if got != l {
		t.Fatalf("round trip mismatch: got %v, want %v", got, l)
	}
}

func TestParseMasterRecordName_RejectsOtherFiles(t *testing.T) {
	if _, err := checkpoint.ParseMasterRecordName("log.00000001"); err == nil {
		t.Fatalf("expected error for non-master-record name")
	}
}

func TestLatestMasterRecord_PicksHighest(t *testing.T) {
	names := []string{
		checkpoint.MasterRecordName(lsn.LSN{File: 1, Offset: 0}),
		checkpoint.MasterRecordName(lsn.LSN{File: 3, Offset: 50}),
		checkpoint.MasterRecordName(lsn.LSN{File: 2, Offset: 999}),
		"not-a-checkpoint-file",
	}
	got, ok := checkpoint.LatestMasterRecord(names)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.File != 3 {
		t.Fatalf("expected file 3 to be latest, got %v", got)
	}
}
