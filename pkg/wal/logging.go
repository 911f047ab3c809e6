package wal

import (
	"os"

	"github.com/rs/zerolog"
)

// log is this package's structured logger, used for background-sync
// failures that WriteEntry's caller never sees (the teacher's original
// backgroundSync silently swallowed them).
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "wal").Logger()

// SetLogger overrides the package logger.
func SetLogger(l zerolog.Logger) {
	log = l
}
