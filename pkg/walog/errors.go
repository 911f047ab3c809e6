package walog

import "errors"

// ErrChecksumMismatch mirrors the teacher WAL reader's sentinel for a
// corrupted record (pkg/wal/reader.go).
var ErrChecksumMismatch = errors.New("walog: checksum mismatch")

var errShortRecord = errors.New("walog: truncated record")
var errChecksumMismatch = ErrChecksumMismatch

// ErrPartitionClosed is returned by append paths that race a partition
// rollover after the partition has already been closed out.
var ErrPartitionClosed = errors.New("walog: partition closed")

// ErrLogClosed is returned by any operation attempted after Close.
var ErrLogClosed = errors.New("walog: log core closed")

// ErrShortRead is returned by a fetch when the target LSN names a
// partition that no longer exists (e.g. already scavenged).
var ErrShortRead = errors.New("walog: short read, partition unavailable")

// ErrRingBufferClosed is returned by AcquireBufferSpace to an appender
// parked waiting for headroom when the owning LogCore shuts down under it.
var ErrRingBufferClosed = errors.New("walog: ring buffer closed")
