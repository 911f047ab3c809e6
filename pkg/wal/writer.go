package wal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// WALWriter manages writes to the log.
type WALWriter struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	writer  *bufio.Writer
	options Options

	// Batching state.
	batchBytes int64 // bytes written since the last sync

	// Background thread control.
	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWALWriter creates a new writer.
func NewWALWriter(path string, opts Options) (*WALWriter, error) {
	// A full segmented-WAL implementation would manage rotated files.
	// For now this writes a single append-only file.

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WALWriter{
		path:    path,
		file:    f,
		writer:  bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
		done:    make(chan struct{}),
	}

	// Start the background sync routine if configured.
	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// WriteEntry writes one entry to the WAL.
func (w *WALWriter) WriteEntry(entry *WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Write into the in-memory buffer.
	n, err := entry.WriteTo(w.writer)
	if err != nil {
		return err
	}

	w.batchBytes += n

	// Apply the sync policy.
	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		return w.syncLocked()

	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			return w.syncLocked()
		}
	}

	return nil
}

// Sync forces persistence to disk.
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WALWriter) syncLocked() error {
	// Flush the buffer to the file descriptor.
	if err := w.writer.Flush(); err != nil {
		return err
	}

	// fsync the underlying file.
	if err := w.file.Sync(); err != nil {
		return err
	}

	w.batchBytes = 0
	return nil
}

// Path returns the underlying log file's path.
func (w *WALWriter) Path() string {
	return w.path
}

// Close closes the file and stops background routines.
func (w *WALWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	// Final flush.
	if err := w.syncLocked(); err != nil {
		w.file.Close() // Try to close anyway
		return err
	}

	return w.file.Close()
}

func (w *WALWriter) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			if err := w.Sync(); err != nil {
				log.Warn().Err(err).Msg("background WAL sync failed")
			}
		case <-w.done:
			return
		}
	}
}
