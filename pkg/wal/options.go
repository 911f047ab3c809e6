package wal

import "time"

// SyncPolicy picks the durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite calls fsync() after every write.
	// Safest, lowest throughput.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval calls fsync() periodically in the background.
	// A balance between safety and throughput.
	SyncInterval

	// SyncBatch calls fsync() once the bytes written since the last sync
	// reach SyncBatchBytes.
	// Highest throughput.
	SyncBatch
)

// Options configures the WAL writer.
type Options struct {
	// DirPath names a directory for logs; NewWALWriter does not read it and
	// writes to the path it is given.
	DirPath string

	// BufferSize is the in-memory buffer size before flushing to the OS
	// (bufio).
	BufferSize int

	// SyncPolicy is the chosen durability strategy.
	SyncPolicy SyncPolicy

	// SyncIntervalDuration is the tick period for SyncInterval.
	SyncIntervalDuration time.Duration

	// SyncBatchBytes is the accumulated byte count that triggers a sync
	// (SyncBatch only).
	SyncBatchBytes int64
}

// DefaultOptions returns a safe configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./wal_data",
		BufferSize:           64 * 1024, // 64KB bufio buffer
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024, // 1MB
	}
}
