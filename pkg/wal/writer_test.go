package wal

import (
	"os"
	"testing"
	"time"
)

func TestWALWriter_IntervalSync(t *testing.T) {
	tmpFile := "test_wal_interval.log"
	defer os.Remove(tmpFile)

	payload := []byte("some data")
	crc := CalculateCRC32(payload)

	opts := Options{
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 50 * time.Millisecond,
		BufferSize:           1024,
	}

	w, err := NewWALWriter(tmpFile, opts)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	// Write without forcing a sync.
	entry := AcquireEntry()
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    1,
		EntryType:  EntryInsert,
		PayloadLen: uint32(len(payload)),
		CRC32:      crc,
		LSN:        1,
	}
	entry.Payload = append(entry.Payload, payload...)

	if err := w.WriteEntry(entry); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	ReleaseEntry(entry)

	// Wait for the background sync (50ms).
	time.Sleep(100 * time.Millisecond)

	// Verify the file has size > 0.
	info, err := os.Stat(tmpFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Error("File size is 0 after background sync, expected content")
	}

	w.Close()
}

func TestWALWriter_BatchSync(t *testing.T) {
	tmpFile := "test_wal_batch.log"
	defer os.Remove(tmpFile)

	opts := Options{
		SyncPolicy:     SyncBatch,
		SyncBatchBytes: 100, // sync every 100 bytes
		BufferSize:     1024,
	}

	w, err := NewWALWriter(tmpFile, opts)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	// Small entry (~30 bytes total).
	payload := []byte("12345")
	entrySize := int64(HeaderSize + len(payload))

	// Write 2 entries (total ~60 bytes, < 100). Should not physically sync yet.
	entry := AcquireEntry()
	entry.Header.PayloadLen = uint32(len(payload))
	entry.Payload = append(entry.Payload, payload...)

	w.WriteEntry(entry)
	w.WriteEntry(entry)

	// The physical file may be empty or incomplete since it's sitting in the bufio/OS buffer.
	// Force 2 more writes to cross the 100-byte threshold.
	w.WriteEntry(entry)
	w.WriteEntry(entry)
	ReleaseEntry(entry)

	// Should have synced by now.
	info, err := os.Stat(tmpFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	// Expected size = 4 * entrySize.
	expected := 4 * entrySize
	if info.Size() != expected {
		// Note: testing this precisely depends on how the OS reports size, but Sync guarantees a flush.
		t.Logf("File size: %d, Expected: %d", info.Size(), expected)
	}

	w.Close()
}

func TestWALWriter_SyncError(t *testing.T) {
	tmpFile := "test_wal_sync_error.log"
	defer os.Remove(tmpFile)

	w, _ := NewWALWriter(tmpFile, Options{SyncPolicy: SyncEveryWrite})
	w.file.Close() // Force future syncs to fail

	entry := AcquireEntry()
	entry.Header.Magic = WALMagic
	err := w.WriteEntry(entry)
	if err == nil {
		t.Error("Expected error writing to closed file")
	}
	ReleaseEntry(entry)
}

func TestWALWriter_BackgroundSyncPanic(t *testing.T) {
	// backgroundSync calls w.Sync(). If file is closed, it might log or fail quietly.
	// We just want to cover the code path.
	tmpFile := "test_wal_bg_sync.log"
	defer os.Remove(tmpFile)

	w, _ := NewWALWriter(tmpFile, Options{SyncPolicy: SyncInterval, SyncIntervalDuration: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	w.Close()
}

func TestWALWriter_CloseSyncError(t *testing.T) {
	path := "test_close_sync.log"
	defer os.Remove(path)

	w, _ := NewWALWriter(path, DefaultOptions())
	entry := AcquireEntry()
	entry.Payload = []byte("data")
	entry.Header.CRC32 = CalculateCRC32(entry.Payload)
	w.WriteEntry(entry)

	// Close file to force sync error
	w.file.Close()

	err := w.Close()
	if err == nil {
		t.Error("Expected error closing writer with closed file")
	}
}

func TestNewWALWriter_Error(t *testing.T) {
	// Trying to open a directory as a file for writing should fail
	tmpDir := t.TempDir()
	_, err := NewWALWriter(tmpDir, DefaultOptions())
	if err == nil {
		t.Error("Expected error opening directory as WAL file")
	}
}
