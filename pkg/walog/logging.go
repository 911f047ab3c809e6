package walog

import (
	"os"

	"github.com/rs/zerolog"
)

// log is this package's structured logger, replacing the ad hoc
// fmt.Printf diagnostics a straight port of the teacher's single-file WAL
// writer would otherwise carry. The flush daemon, partition rollover, and
// scavenger all report through it.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "walog").Logger()

// SetLogger overrides the package logger.
func SetLogger(l zerolog.Logger) {
	log = l
}
