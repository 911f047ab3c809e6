package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bobboyms/storage-engine/pkg/btree"
)

// CheckpointManager manages checkpoint creation and loading.
type CheckpointManager struct {
	basePath string
	mu       sync.Mutex
}

func NewCheckpointManager(basePath string) *CheckpointManager {
	return &CheckpointManager{
		basePath: basePath,
	}
}

// CreateCheckpoint writes a snapshot of the given tree.
func (cm *CheckpointManager) CreateCheckpoint(tableName, indexName string, tree *btree.BPlusTree, lsn uint64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// File name: checkpoint_<tableName>_<indexName>_<LSN>.chk
	filename := fmt.Sprintf("checkpoint_%s_%s_%d.chk", tableName, indexName, lsn)
	path := filepath.Join(cm.basePath, filename)

	// Serialize to memory first (could be streamed directly to save RAM).
	data, err := SerializeBPlusTree(tree, lsn)
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	// Write atomically (temp file + rename).
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file failed: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename file failed: %w", err)
	}

	log.Debug().Str("table", tableName).Str("index", indexName).Uint64("lsn", lsn).
		Str("file", filename).Msg("checkpoint written")

	// Prune older checkpoints so they don't accumulate unbounded.
	return cm.cleanOldCheckpoints(tableName, indexName, lsn)
}

// cleanOldCheckpoints removes earlier checkpoints, keeping only the most recent.
func (cm *CheckpointManager) cleanOldCheckpoints(tableName, indexName string, keepLSN uint64) error {
	files, err := os.ReadDir(cm.basePath)
	if err != nil {
		return err
	}

	prefix := fmt.Sprintf("checkpoint_%s_%s_", tableName, indexName)
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), ".chk") {
			lsnStr := strings.TrimSuffix(strings.TrimPrefix(f.Name(), prefix), ".chk")
			lsn, err := strconv.ParseUint(lsnStr, 10, 64)
			if err == nil && lsn < keepLSN {
				if err := os.Remove(filepath.Join(cm.basePath, f.Name())); err == nil {
					log.Debug().Str("file", f.Name()).Msg("removed stale checkpoint")
				}
			}
		}
	}
	return nil
}

// LoadLatestCheckpoint tries to load the most recent checkpoint for the given tree.
func (cm *CheckpointManager) LoadLatestCheckpoint(tableName, indexName string) (*btree.BPlusTree, uint64, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	files, err := os.ReadDir(cm.basePath)
	if err != nil {
		return nil, 0, err // Treat a directory we can't read as "no checkpoint".
	}

	prefix := fmt.Sprintf("checkpoint_%s_%s_", tableName, indexName)
	var maxLSN uint64
	var latestFile string
	found := false

	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), ".chk") {
			// Extract the LSN.
			lsnStr := strings.TrimSuffix(strings.TrimPrefix(f.Name(), prefix), ".chk")
			lsn, err := strconv.ParseUint(lsnStr, 10, 64)
			if err == nil {
				if lsn >= maxLSN { // >= so a single lsn==0 entry is still picked up
					maxLSN = lsn
					latestFile = f.Name()
					found = true
				}
			}
		}
	}

	if !found {
		return nil, 0, os.ErrNotExist
	}

	// Read and deserialize.
	path := filepath.Join(cm.basePath, latestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	return DeserializeBPlusTree(data)
}
