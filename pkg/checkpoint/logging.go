package checkpoint

import (
	"os"

	"github.com/rs/zerolog"
)

// log is this package's structured logger, used for checkpoint-take and
// master-record garbage collection diagnostics.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "checkpoint").Logger()

// SetLogger overrides the package logger.
func SetLogger(l zerolog.Logger) {
	log = l
}
