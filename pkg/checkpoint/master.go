package checkpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bobboyms/storage-engine/pkg/lsn"
)

const masterRecordPrefix = "chkpt_"

// MasterRecordName encodes a checkpoint's begin LSN directly into a file
// name (spec §7's "LSN-in-filename master record"), so recovery can find
// the most recent checkpoint's starting point with a directory listing
// instead of reading a fixed superblock location.
func MasterRecordName(beginLSN lsn.LSN) string {
	return fmt.Sprintf("%s%d.%d", masterRecordPrefix, beginLSN.File, beginLSN.Offset)
}

// ParseMasterRecordName reverses MasterRecordName, returning an error if
// name is not one of this package's master record files.
func ParseMasterRecordName(name string) (lsn.LSN, error) {
	rest, ok := strings.CutPrefix(name, masterRecordPrefix)
	if !ok {
		return lsn.Null, fmt.Errorf("checkpoint: %q is not a master record name", name)
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return lsn.Null, fmt.Errorf("checkpoint: malformed master record name %q", name)
	}
	file, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return lsn.Null, fmt.Errorf("checkpoint: bad file number in %q: %w", name, err)
	}
	offset, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return lsn.Null, fmt.Errorf("checkpoint: bad offset in %q: %w", name, err)
	}
	return lsn.LSN{File: uint32(file), Offset: offset}, nil
}

// LatestMasterRecord scans names (as returned by a directory listing) and
// returns the LSN of the most recent valid master record, or ok=false if
// none are present.
func LatestMasterRecord(names []string) (at lsn.LSN, ok bool) {
	for _, name := range names {
		candidate, err := ParseMasterRecordName(name)
		if err != nil {
			continue
		}
		if !ok || candidate.Compare(at) > 0 {
			at = candidate
			ok = true
		}
	}
	return at, ok
}
