package rawlock

import (
	"os"

	"github.com/rs/zerolog"
)

// log is this package's structured logger. The teacher repo has no logging
// layer at all for its lock-free pool; this mirrors the rest of the module's
// zerolog usage (pkg/walog, pkg/storage) so deadlock detection and
// generational-pool churn are observable in production rather than silent.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "rawlock").Logger()

// SetLogger overrides the package logger, letting callers (tests, embedders)
// redirect or silence diagnostic output.
func SetLogger(l zerolog.Logger) {
	log = l
}
