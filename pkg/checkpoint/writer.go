package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/bobboyms/storage-engine/pkg/lsn"
	"github.com/bobboyms/storage-engine/pkg/walog"
)

// appender is the slice of *walog.LogCore a checkpoint needs to take one.
type appender interface {
	Append(rec *walog.Record) (lsn.LSN, error)
	ReserveSpace(bytes int64) error
	ReleaseSpace(bytes int64)
}

// reservedCheckpointBytes is a rough upper bound on what a begin/end pair
// costs, reserved up front so a checkpoint is never starved of log space by
// concurrent appenders (spec §4.G space reservation).
const reservedCheckpointBytes = 4096

// Take writes a begin/end checkpoint marker pair to the log and drops a
// master record file named after the begin LSN in archDir, returning the
// begin LSN callers should pass as Reconstruct's "from" on next recovery.
func Take(lc appender, archDir string) (lsn.LSN, error) {
	if err := lc.ReserveSpace(reservedCheckpointBytes); err != nil {
		return lsn.Null, err
	}
	defer lc.ReleaseSpace(reservedCheckpointBytes)

	beginLSN, err := lc.Append(&walog.Record{Type: walog.RecordCheckpointBegin})
	if err != nil {
		return lsn.Null, err
	}
	if _, err := lc.Append(&walog.Record{Type: walog.RecordCheckpointEnd}); err != nil {
		return lsn.Null, err
	}

	if err := writeMasterRecord(archDir, beginLSN); err != nil {
		return lsn.Null, err
	}
	log.Info().Str("begin_lsn", beginLSN.String()).Str("dir", archDir).Msg("checkpoint taken")
	return beginLSN, nil
}

func writeMasterRecord(archDir string, beginLSN lsn.LSN) error {
	if err := os.MkdirAll(archDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(archDir, MasterRecordName(beginLSN))
	return os.WriteFile(path, nil, 0644)
}

// CleanOldMasterRecords removes every master record in archDir older than
// keep, leaving only the checkpoints recovery might still need. Grounded on
// the teacher's cleanOldCheckpoints (pkg/storage/checkpoint.go), adapted
// from a count-based retention policy to an LSN-based one.
func CleanOldMasterRecords(archDir string, keep lsn.LSN) error {
	entries, err := os.ReadDir(archDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		at, err := ParseMasterRecordName(e.Name())
		if err != nil {
			continue
		}
		if at.Less(keep) {
			if err := os.Remove(filepath.Join(archDir, e.Name())); err == nil {
				log.Debug().Str("master_record", e.Name()).Msg("removed stale master record")
			}
		}
	}
	return nil
}
