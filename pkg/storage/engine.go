package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobboyms/storage-engine/pkg/btree"
	"github.com/bobboyms/storage-engine/pkg/errors"
	"github.com/bobboyms/storage-engine/pkg/heap"
	"github.com/bobboyms/storage-engine/pkg/query"
	"github.com/bobboyms/storage-engine/pkg/types"
	"github.com/bobboyms/storage-engine/pkg/wal"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func GenerateKey() string {
	// NewV7 generates a UUID from the current time plus secure randomness.
	id, err := uuid.NewV7()
	if err != nil {
		panic(err) // Unlikely failure of the entropy source.
	}
	return id.String()
}

type StorageEngine struct {
	TableMetaData *TableMetaData
	WAL           *wal.WALWriter // persistent WAL
	Checkpoint    *CheckpointManager
	lsnTracker    *LSNTracker
	TxRegistry    *TransactionRegistry
	metaMu        sync.RWMutex // lock for metadata-only operations (ListTables, etc)
	// Per-table locking lives in Table.mu.
}

func NewStorageEngine(tableMetaData *TableMetaData, walWriter *wal.WALWriter) (*StorageEngine, error) {
	// Checkpoint manager configuration.
	// Defaults to saving checkpoints alongside the WAL (if one exists), or the current directory.
	var checkpointDir string
	if walWriter != nil {
		checkpointDir = filepath.Dir(walWriter.Path())
	} else {
		checkpointDir = "." // Fallback for memory-only mode
	}

	checkpointMgr := NewCheckpointManager(checkpointDir)

	return &StorageEngine{
		TableMetaData: tableMetaData,
		WAL:           walWriter,
		Checkpoint:    checkpointMgr,
		lsnTracker:    NewLSNTracker(0),
		TxRegistry:    NewTransactionRegistry(),
	}, nil
}

// IsolationLevel defines the transaction's isolation level.
type IsolationLevel int

const (
	ReadCommitted  IsolationLevel = iota // reads see recently committed data
	RepeatableRead                       // snapshot isolation (default)
)

// Transaction represents an execution context under snapshot isolation.
type Transaction struct {
	SnapshotLSN uint64
	Level       IsolationLevel
	engine      *StorageEngine
}

// BeginTransaction starts a transaction at the given isolation level.
func (se *StorageEngine) BeginTransaction(level IsolationLevel) *Transaction {
	tx := &Transaction{
		SnapshotLSN: se.lsnTracker.Current(), // capture a linearizable "now"
		Level:       level,
		engine:      se,
	}
	se.TxRegistry.Register(tx)
	return tx
}

// Close marks the transaction as finished and unregisters it
func (tx *Transaction) Close() {
	tx.engine.TxRegistry.Unregister(tx)
}

// BeginRead starts a read-only (snapshot) transaction at Repeatable Read.
func (se *StorageEngine) BeginRead() *Transaction {
	return se.BeginTransaction(RepeatableRead)
}

// IsVisible reports whether a record version is visible to this transaction.
func (tx *Transaction) IsVisible(createLSN uint64) bool {
	// Basic rule: anything committed before my snapshot is visible.
	return createLSN <= tx.SnapshotLSN
}

func (se *StorageEngine) Close() error {
	var err error
	if se.WAL != nil {
		if wErr := se.WAL.Close(); wErr != nil {
			err = wErr
		}
	}
	// TODO: Clean up TxRegistry? Not strictly needed as Engine is closing.

	// Close every table's heap.
	closedHeaps := make(map[*heap.HeapManager]bool)
	for _, tableName := range se.TableMetaData.ListTables() {
		table, _ := se.TableMetaData.GetTableByName(tableName)
		if table != nil && table.Heap != nil && !closedHeaps[table.Heap] {
			if hErr := table.Heap.Close(); hErr != nil {
				if err == nil {
					err = hErr
				} else {
					err = fmt.Errorf("%v; heap close error: %v", err, hErr)
				}
			}
			closedHeaps[table.Heap] = true
		}
	}
	return err
}

func (se *StorageEngine) Cursor(tree *btree.BPlusTree) *Cursor {
	return &Cursor{tree: tree}
}

// Put inserts or updates a key, durably (WAL).
func (se *StorageEngine) Put(tableName string, indexName string, key types.Comparable, document string) error {
	// Fetch the table first (no lock needed).
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}

	// No need to lock the whole table (Table RLock removed in favor of
	// granular concurrency); se.TableMetaData already protects the table map.

	// Fetch the index (the table lock, if any, is already held).
	index, err := table.GetIndex(indexName)
	if err != nil {
		return err
	}

	// Try convert json to bson for validation and better storage
	// If it fails, we treat it as a raw string (backward compatibility for tests)
	bsonDoc, err := JsonToBson(document)
	var bsonData []byte
	if err == nil {
		// Verify if the key exists
		exists, keyType := DoesTheKeyExist(bsonDoc, indexName)
		if !exists {
			return &errors.IndexNotFoundError{
				Name: indexName,
			}
		}

		// Verify if the key type is valid
		if keyType != index.Type {
			return &errors.InvalidKeyTypeError{
				Name:     indexName,
				TypeName: keyType.String(),
			}
		}

		//Serialize bson to bytes
		bsonData, _ = MarshalBson(bsonDoc)
	} else {
		// Fallback to raw bytes
		bsonData = []byte(document)
	}

	// LSN management.
	// The LSN is generated *before* writing to the WAL or heap to guarantee ordering.
	currentLSN := se.lsnTracker.Next()

	// 1. Write Ahead Log
	if se.WAL != nil {
		payload, err := SerializeDocumentEntry(tableName, indexName, key, bsonData)
		if err != nil {
			return err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryInsert // updates are logged as inserts in this log-structured WAL

		entry.Header.LSN = currentLSN

		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 2 ~ 4. Atomic upsert (write heap -> update tree).
	// Upsert guarantees atomic access to the previous version and the HEAD pointer update.
	err = index.Tree.Upsert(key, func(oldOffset int64, exists bool) (int64, error) {
		var prevOffset int64 = -1
		if exists {
			prevOffset = oldOffset
		}

		// Write to the heap while holding the leaf lock: safe, but adds to lock latency.
		// TODO: future optimization if heap writes turn out slow.
		// Append-only buffered I/O should stay fast enough for now.
		offset, err := table.Heap.Write(bsonData, currentLSN, prevOffset)
		if err != nil {
			return 0, fmt.Errorf("heap write failed: %w", err)
		}

		return offset, nil
	})

	if err != nil {
		return err
	}

	return nil
}

// Get performs a lookup under snapshot isolation for this transaction.
func (tx *Transaction) Get(tableName string, indexName string, key types.Comparable) (string, bool, error) {
	// Under Read Committed, refresh the snapshot before starting.
	tx.refreshSnapshot()

	se := tx.engine

	// Fetch the table first (no lock needed).
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return "", false, err
	}

	// Lock-free read: the table isn't locked, the tree's internal latching handles it.

	// Fetch the index (the table lock, if any, is already held).
	index, err := table.GetIndex(indexName)
	if err != nil {
		return "", false, err
	}

	// Thread-safe tree lookup.
	currentOffset, found := index.Tree.Get(key)
	if !found {
		return "", false, nil
	}

	// Version Chain Traversal (Time Travel)
	for currentOffset != -1 {
		docBytes, header, err := table.Heap.Read(currentOffset)
		if err != nil {
			return "", true, fmt.Errorf("failed to read from heap: %w", err)
		}

		// Visibility check.
		if tx.IsVisible(header.CreateLSN) {
			// 1. If Valid=true, the version is live.
			// 2. If Valid=false (a delete), check whether the delete happened AFTER the snapshot.

			isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)

			if isVisibleVersion {
				// Found the visible version.
				jsonStr, err := BsonToJson(docBytes)
				if err == nil {
					return jsonStr, true, nil
				}
				return string(docBytes), true, nil
			} else {
				// The version's creation is visible, but it was already deleted by this snapshot.
				// So, for this snapshot, the key doesn't exist.
				return "", false, nil
			}
		}

		// The current version is too new (CreateLSN > SnapshotLSN);
		// walk back to the previous version in the chain.
		currentOffset = header.PrevOffset
	}

	// Reached the end of the chain without finding a visible version.
	return "", false, nil

}

// Get is a convenience wrapper (autocommit / instantaneous snapshot).
func (se *StorageEngine) Get(tableName string, indexName string, key types.Comparable) (string, bool, error) {
	tx := se.BeginRead()
	defer tx.Close() // Autocommit: Release transaction registration
	return tx.Get(tableName, indexName, key)
}

// Scan performs a range search under this transaction's context.
func (tx *Transaction) Scan(tableName string, indexName string, condition *query.ScanCondition) ([]string, error) {
	// Under Read Committed, refresh the snapshot.
	tx.refreshSnapshot()

	se := tx.engine

	// Fetch the table first (no lock needed).
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return nil, err
	}

	// Lock-free scan: the thread-safe cursor handles leaf locking.

	results := []string{}
	// Fetch the index (the table lock, if any, is already held).
	index, err := table.GetIndex(indexName)
	if err != nil {
		return results, err
	}
	c := se.Cursor(index.Tree)
	defer c.Close() // release the cursor

	// Optimize the scan when possible (=, >, >=, BETWEEN).
	if condition != nil && condition.ShouldSeek() {
		startKey := condition.GetStartKey()
		c.Seek(startKey)

		for c.Valid() {
			key := c.Key()

			// Check whether the scan should keep going.
			if !condition.ShouldContinue(key) {
				break
			}

			// Check whether the key satisfies the condition.
			if condition.Matches(key) {
				currentOffset := c.Value()

				// Version Chain Traversal
				foundVisible := false
				var visibleVal string

				for currentOffset != -1 {
					docBytes, header, err := table.Heap.Read(currentOffset)
					if err != nil {
						return nil, fmt.Errorf("heap read failed at key %v: %w", key, err)
					}

					if tx.IsVisible(header.CreateLSN) {
						isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)
						if isVisibleVersion {
							jsonStr, err := BsonToJson(docBytes)
							if err == nil {
								visibleVal = jsonStr
							} else {
								visibleVal = string(docBytes)
							}
							foundVisible = true
							break // found the visible version
						} else {
							// Deleted as of this snapshot.
							break // doesn't exist for this snapshot
						}
					}
					// Too new: walk back to the previous version.
					currentOffset = header.PrevOffset
				}

				if foundVisible {
					results = append(results, visibleVal)
				}
			}
			c.Next()
		}
	} else {
		// Full scan, for operators like != and <.
		// Start from the beginning of the tree.
		c.Seek(nil)

		for c.Valid() {
			key := c.Key()

			// For < and <=, we can stop early.
			if condition != nil && !condition.ShouldContinue(key) {
				break
			}

			if condition == nil || condition.Matches(key) {
				currentOffset := c.Value()

				// Version Chain Traversal
				foundVisible := false
				var visibleVal string

				for currentOffset != -1 {
					docBytes, header, err := table.Heap.Read(currentOffset)
					if err != nil {
						return nil, fmt.Errorf("heap read failed at key %v: %w", key, err)
					}

					if tx.IsVisible(header.CreateLSN) {
						isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)
						if isVisibleVersion {
							jsonStr, err := BsonToJson(docBytes)
							if err == nil {
								visibleVal = jsonStr
							} else {
								visibleVal = string(docBytes)
							}
							foundVisible = true
							break // found the visible version
						} else {
							break // deleted as of this snapshot
						}
					}
					// Too new: walk back to the previous version.
					currentOffset = header.PrevOffset
				}

				if foundVisible {
					results = append(results, visibleVal)
				}
			}
			c.Next()
		}
	}

	return results, nil
}

// InsertRow inserts a document and updates multiple indexes atomically (avoids heap duplication).
func (se *StorageEngine) InsertRow(tableName string, doc string, keys map[string]types.Comparable) error {
	// 1. Basic metadata validation.
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}

	// Try convert json to bson for validation
	bsonDoc, err := JsonToBson(doc)
	var bsonData []byte
	if err == nil {
		// Validate each key against its respective index.
		for indexName := range keys {
			index, err := table.GetIndex(indexName)
			if err != nil {
				return err
			}
			exists, keyType := DoesTheKeyExist(bsonDoc, indexName)
			if !exists {
				return &errors.IndexNotFoundError{Name: indexName}
			}
			if keyType != index.Type {
				return &errors.InvalidKeyTypeError{
					Name:     indexName,
					TypeName: keyType.String(),
				}
			}
		}
		bsonData, _ = MarshalBson(bsonDoc)
	} else {
		bsonData = []byte(doc)
	}

	// 1.5 Constraint Check: Primary keys must be unique
	for indexName, key := range keys {
		index, err := table.GetIndex(indexName)
		if err == nil && index.Primary {
			if _, found := index.Tree.Get(key); found {
				return fmt.Errorf("duplicate key error: key %v already exists in index %s", key, indexName)
			}
		}
	}

	currentLSN := se.lsnTracker.Next()

	// 2. Write-ahead log (a single entry covering all indexes).
	if se.WAL != nil {
		payload, err := SerializeMultiIndexEntry(tableName, keys, bsonData)
		if err != nil {
			return err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryMultiInsert
		entry.Header.LSN = currentLSN
		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 3. Write to the heap (once).
	offset, err := table.Heap.Write(bsonData, currentLSN, -1) // new rows start with PrevOffset -1
	if err != nil {
		return fmt.Errorf("heap write failed: %w", err)
	}

	// 4. Update trees.
	for indexName, key := range keys {
		index, _ := table.GetIndex(indexName)
		// InsertRow treats this as a Replace if the key already exists,
		// or a plain insert otherwise; B+Tree.Replace already does this safely.
		if err := index.Tree.Replace(key, offset); err != nil {
			return fmt.Errorf("failed to update index %s: %w", indexName, err)
		}
	}

	return nil
}

// Scan is a convenience wrapper.
func (se *StorageEngine) Scan(tableName string, indexName string, condition *query.ScanCondition) ([]string, error) {
	tx := se.BeginRead()
	defer tx.Close()
	return tx.Scan(tableName, indexName, condition)
}

// RangeScan is a convenience wrapper for BETWEEN (kept for compatibility).
func (se *StorageEngine) RangeScan(tableName string, indexName string, start, end types.Comparable) ([]string, error) {
	return se.Scan(tableName, indexName, query.Between(start, end))
}

// Del removes a row (DELETE FROM WHERE id = x).
func (se *StorageEngine) Del(tableName string, indexName string, key types.Comparable) (bool, error) {
	// Fetch the table first (no lock needed).
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return false, err
	}

	// No table lock: Upsert takes care of that.

	// Fetch the index (the table lock, if any, is already held).
	index, err := table.GetIndex(indexName)
	if err != nil {
		return false, err
	}

	// LSN management.
	currentLSN := se.lsnTracker.Next()

	// 1. Write-ahead log.
	if se.WAL != nil {
		// A delete only needs the key; the document is empty.
		payload, err := SerializeDocumentEntry(tableName, indexName, key, nil)
		if err != nil {
			return false, err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryDelete

		entry.Header.LSN = currentLSN

		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return false, fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 2. Modify memory and the heap.
	// Upsert keeps the key and its current heap offset; no tombstone record
	// is written. Delete only marks the heap record and does NOT remove the key from the tree
	// (see the MVCC Phase 2 comment below); the tree pointer just needs to keep
	// referencing the same heap record, which Heap.Delete now marks "Deleted" in place.

	var wasFound bool
	err = index.Tree.Upsert(key, func(oldOffset int64, exists bool) (int64, error) {
		if !exists {
			return 0, nil // Key not found, nothing to delete
		}
		wasFound = true

		// Write a delete record (tombstone) to the heap, in place at the old offset.
		// This has to happen while the leaf is locked so the read-offset-then-delete
		// sequence stays atomic with respect to concurrent readers of the same key.

		if err := table.Heap.Delete(oldOffset, currentLSN); err != nil {
			return 0, fmt.Errorf("heap delete failed: %w", err)
		}

		// Return the SAME offset: the tree doesn't change, it still points at the
		// same heap record, which is now marked deleted.
		return oldOffset, nil
	})

	if err != nil {
		return false, err
	}

	// MVCC Phase 2: Do NOT remove from B-Tree.
	// We need to keep the key pointing to the "Deleted" record (Tombstone)
	// so that older transactions can check visibility (DeleteLSN) and potential previous versions.
	// Garbage Collection (Vacuum) will eventually remove these when safe.
	// removed := index.Tree.Root.Remove(key)
	// if index.Tree.Root.N == 0 && !index.Tree.Root.Leaf {
	// 	index.Tree.Root = index.Tree.Root.Children[0]
	// }

	return wasFound, nil
}

// CreateCheckpoint forces checkpoint creation for every table.
// Optimized to only hold a lock long enough to capture a consistent LSN,
// letting serialization and I/O run concurrently with ongoing writes.
func (se *StorageEngine) CreateCheckpoint() error {
	for _, tableName := range se.TableMetaData.ListTables() {
		table, err := se.TableMetaData.GetTableByName(tableName)
		if err != nil {
			continue
		}

		// Quick barrier: capture the current LSN.
		// The LSNTracker is atomic so this could even be lock-free, but the
		// table lock guards against racing a schema change (index list) mid-capture.
		table.RLock()
		currentLSN := se.lsnTracker.Current()
		indices := table.GetIndicesUnsafe() // lock-free variant, since we already hold the lock
		table.RUnlock()

		for _, idx := range indices {
			// Disk serialization now runs in parallel with new Puts.
			// SerializeBPlusTree RLocks each node (latch crabbing) so the file's
			// structure stays consistent, even if "fuzzy" (it may contain data
			// from LSNs written after the capture above).
			if err := se.Checkpoint.CreateCheckpoint(tableName, idx.Name, idx.Tree, currentLSN); err != nil {
				return err
			}
		}
	}
	return nil
}

// Helper to refresh snapshot for ReadCommitted
func (tx *Transaction) refreshSnapshot() {
	if tx.Level == ReadCommitted {
		tx.SnapshotLSN = tx.engine.lsnTracker.Current()
	}
}

// Recover rebuilds in-memory state by reading the checkpoint, then the WAL.
// NOTE: must be called BEFORE any concurrent operation on the engine.
// Recovery assumes exclusive access (startup only).
func (se *StorageEngine) Recover(walPath string) error {
	var maxLSN uint64                     // tracks the highest LSN seen globally
	loadedLSNs := make(map[string]uint64) // tracks LSN per index: "table.index" -> LSN

	// 1. Try loading checkpoints.
	for _, tableName := range se.TableMetaData.ListTables() {
		table, err := se.TableMetaData.GetTableByName(tableName)
		if err != nil {
			continue
		}

		for _, idx := range table.GetIndices() {
			tree, lastLSN, err := se.Checkpoint.LoadLatestCheckpoint(tableName, idx.Name)
			key := fmt.Sprintf("%s.%s", tableName, idx.Name)
			if err == nil {
				// Loaded successfully: swap in the in-memory tree.
				idx.Tree = tree
				loadedLSNs[key] = lastLSN
				log.Info().Str("table", tableName).Str("index", idx.Name).Uint64("lsn", lastLSN).
					Msg("recovered index from checkpoint")

				if lastLSN > maxLSN {
					maxLSN = lastLSN
				}
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("failed to load checkpoint for %s.%s: %w", tableName, idx.Name, err)
			} else {
				loadedLSNs[key] = 0 // no checkpoint
			}
		}
	}

	// 2. Try reading the WAL to apply the delta.
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		se.lsnTracker.Set(maxLSN)
		return nil
	}

	reader, err := wal.NewWALReader(walPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	count := 0
	skipped := 0

	for {
		entry, err := reader.ReadEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("recovery error at entry %d: %w", count, err)
		}

		// Track the highest LSN seen.
		if entry.Header.LSN > maxLSN {
			maxLSN = entry.Header.LSN
		}

		switch entry.Header.EntryType {
		case wal.EntryInsert, wal.EntryUpdate, wal.EntryDelete:
			// Replay a single-index operation.
			tableName, indexName, key, docBytes, err := DeserializeDocumentEntry(entry.Payload)
			if err != nil {
				wal.ReleaseEntry(entry)
				return fmt.Errorf("deserialize failed at entry %d: %w", count, err)
			}

			// Check whether this LSN has already been applied to this index.
			lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
			if loadedLSNs[lookupKey] >= entry.Header.LSN {
				skipped++
				wal.ReleaseEntry(entry)
				continue
			}

			table, err := se.TableMetaData.GetTableByName(tableName)
			if err != nil {
				wal.ReleaseEntry(entry)
				continue // table mismatch/deleted?
			}
			index, err := table.GetIndex(indexName)
			if err != nil {
				wal.ReleaseEntry(entry)
				continue
			}

			if entry.Header.EntryType == wal.EntryDelete {
				// Logical delete.
				leaf, idx := index.Tree.FindLeafLowerBound(key)
				if leaf != nil && idx < leaf.N && leaf.Keys[idx].Compare(key) == 0 {
					offset := leaf.DataPtrs[idx]
					table.Heap.Delete(offset, entry.Header.LSN)
				}
			} else {
				// Insert/Update
				var prevOffset int64 = -1
				node, found := index.Tree.Search(key)
				if found {
					_, idx := node.FindLeafLowerBound(key)
					if idx < node.N && node.Keys[idx].Compare(key) == 0 {
						prevOffset = node.DataPtrs[idx]
					}
				}

				offset, err := table.Heap.Write(docBytes, entry.Header.LSN, prevOffset)
				if err != nil {
					return fmt.Errorf("heap write failed: %w", err)
				}
				if err := index.Tree.Replace(key, offset); err != nil {
					return fmt.Errorf("failed to update tree during recovery: %w", err)
				}
			}

		case wal.EntryMultiInsert:
			tableName, keys, docBytes, err := DeserializeMultiIndexEntry(entry.Payload)
			if err != nil {
				wal.ReleaseEntry(entry)
				return fmt.Errorf("deserialize multi-key failed: %w", err)
			}

			table, err := se.TableMetaData.GetTableByName(tableName)
			if err != nil {
				wal.ReleaseEntry(entry)
				continue
			}

			// Check whether ANY index needs updating.
			needsUpdate := false
			for indexName := range keys {
				lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
				if loadedLSNs[lookupKey] < entry.Header.LSN {
					needsUpdate = true
					break
				}
			}

			if !needsUpdate {
				skipped++
				wal.ReleaseEntry(entry)
				continue
			}

			// Write to the heap (may duplicate data for indexes that already had a
			// checkpoint, but it's needed to keep the new indexes consistent).
			offset, err := table.Heap.Write(docBytes, entry.Header.LSN, -1)
			if err != nil {
				return fmt.Errorf("heap write failed: %w", err)
			}

			// Update only the indexes that still need it.
			for indexName, key := range keys {
				lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
				// If the index's LSN is behind the entry's, it needs updating.
				if loadedLSNs[lookupKey] < entry.Header.LSN {
					index, err := table.GetIndex(indexName)
					if err != nil {
						continue
					}
					if err := index.Tree.Replace(key, offset); err != nil {
						return fmt.Errorf("failed to update index %s during recovery: %w", indexName, err)
					}
				}
			}
		}

		wal.ReleaseEntry(entry)
		count++
	}

	se.lsnTracker.Set(maxLSN)
	log.Info().Int("applied", count).Int("skipped", skipped).Uint64("lsn", maxLSN).
		Msg("WAL recovery complete")
	return nil
}

// Vacuum performs Garbage Collection on the specified table.
// It removes dead Tombstones (deleted records visible to no active transaction)
// and compacts the Heap file, reclaiming space.
func (se *StorageEngine) Vacuum(tableName string) error {
	// 1. Acquire Table Lock (Exclusive)
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}
	table.Lock()
	defer table.Unlock()

	// 2. Determine Minimum Visible LSN
	// Any Tombstone with DeleteLSN < minLSN is safe to remove.
	minLSN := se.TxRegistry.GetMinActiveLSN()

	log.Debug().Str("table", tableName).Uint64("min_lsn", minLSN).Msg("starting vacuum")

	// 3. Create New Heap (Temporary)
	oldHeap := table.Heap
	newHeapPath := oldHeap.Path() + "_vacuum"
	// Ensure cleanup of previous failed runs
	os.Remove(newHeapPath + "_001.data") // Simple cleanup for first segment

	newHeap, err := heap.NewHeapManager(newHeapPath)
	if err != nil {
		return fmt.Errorf("failed to create temp heap: %w", err)
	}

	// 4. Scan and Compact
	offsetMap := make(map[int64]int64) // Old -> New
	type treeUpdate struct {
		Index     string
		Key       types.Comparable
		NewOffset int64
	}
	var updates []treeUpdate

	iter, err := oldHeap.NewIterator()
	if err != nil {
		newHeap.Close()
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for {
		doc, header, oldOffset, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			newHeap.Close()
			return fmt.Errorf("heap iteration failed: %w", err)
		}

		// Decision Logic
		keep := true
		if !header.Valid {
			// It is a Tombstone.
			if header.DeleteLSN < minLSN {
				keep = false // Dead!
			} else {
				// Keep! Still visible to some transaction.
			}
		}

		// Extract Keys for Tree operations
		var bsonDoc bson.D
		parseErr := func() error {
			// Try BSON first
			d, err := UnmarshalBson(doc)
			if err == nil {
				bsonDoc = d
				return nil
			}
			// Try JSON
			d, err = JsonToBson(string(doc))
			if err == nil {
				bsonDoc = d
				return nil
			}
			return fmt.Errorf("failed to parse doc")
		}()

		if !keep {
			// Dead Tombstone: Remove from Tree
			if parseErr == nil {
				for _, idx := range table.GetIndicesUnsafe() {
					keyVal, err := GetValueFromBson(bsonDoc, idx.Name)
					if err == nil {
						idx.Tree.Remove(keyVal)
					}
				}
			}
			continue
		}

		// Keep: Copy to New Heap
		newPrev := int64(-1)
		if header.PrevOffset != -1 {
			if mapped, ok := offsetMap[header.PrevOffset]; ok {
				newPrev = mapped
			}
		}

		newOffset, err := newHeap.Write(doc, header.CreateLSN, newPrev)
		if err != nil {
			newHeap.Close()
			return fmt.Errorf("failed to write to new heap: %w", err)
		}

		// Restore Delete status if it was a kept Tombstone
		if !header.Valid {
			if err := newHeap.Delete(newOffset, header.DeleteLSN); err != nil {
				newHeap.Close()
				return fmt.Errorf("failed to mark deleted in new heap: %w", err)
			}
		}

		offsetMap[oldOffset] = newOffset

		// Collect Tree Update
		if parseErr == nil {
			for _, idx := range table.GetIndicesUnsafe() {
				keyVal, err := GetValueFromBson(bsonDoc, idx.Name)
				if err == nil {
					updates = append(updates, treeUpdate{
						Index:     idx.Name,
						Key:       keyVal,
						NewOffset: newOffset,
					})
				}
			}
		}
	}

	// 5. Update Trees (Batch)
	iter.Close() // Release file handles before swapping files
	for _, up := range updates {
		if idx, ok := table.Indices[up.Index]; ok {
			idx.Tree.Upsert(up.Key, func(current int64, exists bool) (int64, error) {
				return up.NewOffset, nil
			})
		}
	}

	// 6. Swap Heaps
	oldHeap.Close()
	newHeap.Close()

	oldPath := oldHeap.Path()
	// Use strict pattern to avoid matching _vacuum files (since _vacuum starts with _)
	files, _ := filepath.Glob(oldPath + "_[0-9][0-9][0-9].data")
	for _, f := range files {
		os.Remove(f)
	}

	newFiles, _ := filepath.Glob(newHeapPath + "_[0-9][0-9][0-9].data")
	for _, f := range newFiles {
		// New files: name_vacuum_XXX.data
		// Target: name_XXX.data
		// Need to strip "_vacuum" from base path part
		// newHeapPath matches oldPath + "_vacuum"
		// so f starts with oldPath + "_vacuum"
		suffix := f[len(newHeapPath):] // "_001.data"
		dest := oldPath + suffix
		if err := os.Rename(f, dest); err != nil {
			return fmt.Errorf("failed to rename vacuum file: %w", err)
		}
	}

	// Re-open
	finalHeap, err := heap.NewHeapManager(oldPath)
	if err != nil {
		return fmt.Errorf("failed to reopen heap: %w", err)
	}
	table.Heap = finalHeap

	return nil
}
