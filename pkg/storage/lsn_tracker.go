package storage

import (
	"sync/atomic"
)

// LSNTracker manages the Log Sequence Number in a thread-safe way.
type LSNTracker struct {
	current uint64
	// A plain atomic counter is enough and faster than a mutex here; the
	// struct stays a struct in case it ever needs more than one field.
}

func NewLSNTracker(start uint64) *LSNTracker {
	return &LSNTracker{
		current: start,
	}
}

// Next increments and returns the next LSN.
func (lt *LSNTracker) Next() uint64 {
	return atomic.AddUint64(&lt.current, 1)
}

// Current returns the current LSN.
func (lt *LSNTracker) Current() uint64 {
	return atomic.LoadUint64(&lt.current)
}

// Set sets the current LSN (used during recovery).
func (lt *LSNTracker) Set(val uint64) {
	atomic.StoreUint64(&lt.current, val)
}
