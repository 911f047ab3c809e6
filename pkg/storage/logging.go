package storage

import (
	"os"

	"github.com/rs/zerolog"
)

// log is this package's structured logger. The teacher engine only ever
// used fmt.Printf/fmt.Errorf for diagnostics; this brings it in line with
// the rest of the module's zerolog usage (pkg/walog, pkg/rawlock,
// pkg/checkpoint) for recovery, checkpoint, and WAL failure reporting.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "storage").Logger()

// SetLogger overrides the package logger.
func SetLogger(l zerolog.Logger) {
	log = l
}
