package wal

import "sync"

// pool.go: memory pooling to keep GC pressure down on the hot write path.

var (
	// entryPool recycles WALEntry structs.
	entryPool = sync.Pool{
		New: func() interface{} {
			return &WALEntry{
				Payload: make([]byte, 0, 4096), // pre-allocate 4KB
			}
		},
	}

	// bufferPool recycles byte buffers used for serialization/headers.
	bufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 8192) // 8KB buffer
			return &buf
		},
	}
)

// AcquireEntry gets an entry from the pool.
func AcquireEntry() *WALEntry {
	return entryPool.Get().(*WALEntry)
}

// ReleaseEntry returns the entry to the pool.
func ReleaseEntry(e *WALEntry) {
	e.Header = WALHeader{}    // zero header
	e.Payload = e.Payload[:0] // reset payload slice, keep its capacity
	entryPool.Put(e)
}

// AcquireBuffer gets a byte buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer returns the buffer to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
